package batch

import (
	"errors"
	"fmt"
	"strings"
)

// --- Exported Error Variables ---
// These errors represent the categories of failure a task can hit. Callers
// can check against these using errors.Is.

var (
	// ErrConfigValidation indicates that the provided Options failed the
	// validation checks performed before a run starts. Always fatal for the
	// whole run.
	ErrConfigValidation = errors.New("invalid configuration options provided")

	// ErrValidation indicates bad or unreadable input. Fatal for the owning
	// task, never retried.
	ErrValidation = errors.New("input validation failed")

	// ErrConversion indicates the conversion collaborator failed. Whether it
	// is retried depends on the pluggable classifier.
	ErrConversion = errors.New("conversion failed")

	// ErrCircuitOpen indicates a call was short-circuited by the resilience
	// guard without invoking the conversion function. It is always routed to
	// the fallback chain and never surfaced raw to callers.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrRenameLimit indicates the rename probe cap was exceeded while
	// resolving an output path collision. Fatal for the owning task only.
	ErrRenameLimit = errors.New("rename attempt limit exceeded")

	// ErrWriteFailed indicates the output file could not be written (for
	// example, disk full). Fatal for the owning task, not retried.
	ErrWriteFailed = errors.New("failed to write output file")

	// ErrTaskTimeout indicates the per-task deadline elapsed before the task
	// reached a terminal phase.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrCancelled marks a task cut short by run-level cancellation. Cancelled
	// tasks are excluded from the conservation statistics.
	ErrCancelled = errors.New("task cancelled")
)

// FallbackAttempt records one failed recovery attempt for diagnostics.
type FallbackAttempt struct {
	Strategy string
	Attempt  int
	Err      error
}

func (a FallbackAttempt) String() string {
	return fmt.Sprintf("%s[%d]: %v", a.Strategy, a.Attempt, a.Err)
}

// UnrecoverableError wraps the original task error together with every
// fallback attempt made on its behalf. The trail is preserved for reporting,
// never discarded.
type UnrecoverableError struct {
	Original error
	Trail    []FallbackAttempt
}

// Error renders the original error followed by the attempted-strategy trail.
func (e *UnrecoverableError) Error() string {
	if len(e.Trail) == 0 {
		return fmt.Sprintf("unrecoverable: %v (no fallback strategy matched)", e.Original)
	}
	parts := make([]string, 0, len(e.Trail))
	for _, a := range e.Trail {
		parts = append(parts, a.String())
	}
	return fmt.Sprintf("unrecoverable: %v (fallbacks attempted: %s)", e.Original, strings.Join(parts, "; "))
}

// Unwrap exposes the original error to errors.Is/As chains.
func (e *UnrecoverableError) Unwrap() error { return e.Original }
