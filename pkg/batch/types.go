package batch

import "fmt"

// Status defines the terminal-or-pending state of a conversion task.
type Status string

// Constants representing the defined task statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// Phase is one discrete step in a task's progress state machine. Phases are
// ordered; a task only ever moves forward along the happy path, or jumps to
// one of the terminal phases.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseValidatingFile
	PhaseReadingFile
	PhaseProcessing
	PhaseCheckingConflicts
	PhaseResolvingConflicts
	PhaseWritingOutput
	PhaseFinalizing
	PhaseCompleted
	// PhaseError and PhaseCancelled are terminal and reachable from any
	// non-terminal phase.
	PhaseError
	PhaseCancelled
)

var phaseNames = map[Phase]string{
	PhaseInitializing:       "initializing",
	PhaseValidatingFile:     "validating_file",
	PhaseReadingFile:        "reading_file",
	PhaseProcessing:         "processing",
	PhaseCheckingConflicts:  "checking_conflicts",
	PhaseResolvingConflicts: "resolving_conflicts",
	PhaseWritingOutput:      "writing_output",
	PhaseFinalizing:         "finalizing",
	PhaseCompleted:          "completed",
	PhaseError:              "error",
	PhaseCancelled:          "cancelled",
}

// String returns the stable wire name of the phase.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether the phase ends the state machine.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError || p == PhaseCancelled
}

// MarshalText implements encoding.TextMarshaler so phases serialize by name
// in JSON reports.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ConflictPolicy governs what happens when a task's output path already exists.
type ConflictPolicy string

const (
	PolicySkip      ConflictPolicy = "skip"
	PolicyOverwrite ConflictPolicy = "overwrite"
	PolicyRename    ConflictPolicy = "rename"
	PolicyAskUser   ConflictPolicy = "ask"
)

// ParseConflictPolicy converts a configuration string into a ConflictPolicy.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case PolicySkip, PolicyOverwrite, PolicyRename, PolicyAskUser:
		return ConflictPolicy(s), nil
	}
	return "", fmt.Errorf("%w: unknown conflict policy %q", ErrConfigValidation, s)
}

// ErrorClass is the classification assigned to a conversion error by the
// pluggable classifier: recoverable errors are routed through the fallback
// chain, fatal errors terminate the owning task immediately.
type ErrorClass int

const (
	ClassRecoverable ErrorClass = iota
	ClassFatal
)

// OutputFormat defines the format of the final summary printed when the TUI
// is disabled.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)
