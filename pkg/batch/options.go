package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Converter is the external conversion collaborator. Convert reads, validates
// and converts one source file, returning the produced Markdown content. It
// is treated as opaque: any error it returns is categorized by the pluggable
// ErrorClassifier.
type Converter interface {
	Convert(ctx context.Context, sourcePath string) ([]byte, error)
}

// ErrorClassifier decides whether a conversion error is worth routing through
// the fallback chain (recoverable) or must fail the task immediately (fatal).
type ErrorClassifier func(err error) ErrorClass

// DefaultClassifier treats validation and I/O write failures as fatal and
// everything else as recoverable.
func DefaultClassifier(err error) ErrorClass {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrWriteFailed) || errors.Is(err, ErrRenameLimit) {
		return ClassFatal
	}
	return ClassRecoverable
}

// TaskProgressEvent is streamed on every phase transition of a task.
type TaskProgressEvent struct {
	TaskID  int64  `json:"taskId"`
	Path    string `json:"path"`
	Phase   Phase  `json:"phase"`
	Message string `json:"message,omitempty"`
}

// TaskCompletedEvent is streamed once per task, when it reaches a terminal
// status. Error carries the human-readable failure message and Trail the
// attempted-fallback diagnostics, both empty on success.
type TaskCompletedEvent struct {
	TaskID     int64         `json:"taskId"`
	Path       string        `json:"path"`
	Status     Status        `json:"status"`
	OutputPath string        `json:"outputPath,omitempty"`
	Error      string        `json:"error,omitempty"`
	Trail      []string      `json:"trail,omitempty"`
	Duration   time.Duration `json:"durationNs"`
}

// Hooks defines callbacks for events streamed during a batch run.
// Implementations MUST be thread-safe: methods are called concurrently from
// all workers.
type Hooks interface {
	OnFileDiscovered(path string) error
	OnTaskProgress(ev TaskProgressEvent) error
	OnTaskCompleted(ev TaskCompletedEvent) error
	OnRunComplete(result Result) error
}

// NoOpHooks provides a default, do-nothing implementation of Hooks.
type NoOpHooks struct{}

// OnFileDiscovered implements Hooks. It performs no action.
func (h *NoOpHooks) OnFileDiscovered(path string) error { return nil }

// OnTaskProgress implements Hooks. It performs no action.
func (h *NoOpHooks) OnTaskProgress(ev TaskProgressEvent) error { return nil }

// OnTaskCompleted implements Hooks. It performs no action.
func (h *NoOpHooks) OnTaskCompleted(ev TaskCompletedEvent) error { return nil }

// OnRunComplete implements Hooks. It performs no action.
func (h *NoOpHooks) OnRunComplete(result Result) error { return nil }

// Options holds all configuration for a batch run.
type Options struct {
	// --- Inputs & Output ---
	Sources    []string `mapstructure:"sources"`    // Required: files and/or directories to convert
	OutputRoot string   `mapstructure:"outputRoot"` // Output directory; ignored when InPlace is set
	InPlace    bool     `mapstructure:"inPlace"`    // Write outputs next to their sources

	// --- Application Info ---
	AppVersion     string `mapstructure:"-"` // Populated by the caller, used in reports
	ConfigFilePath string `mapstructure:"-"` // Path of the loaded config file (for reporting)

	// --- Conflict handling ---
	ConflictPolicy ConflictPolicy `mapstructure:"conflictPolicy"` // skip | overwrite | rename | ask
	RenamePattern  string         `mapstructure:"renamePattern"`  // e.g. "{stem}_{n}{ext}"
	AskTimeout     time.Duration  `mapstructure:"askTimeout"`     // Bound on ask-user waits

	// --- Scheduling ---
	WorkerCount int           `mapstructure:"workers"`     // Fixed pool size (>= 1)
	TaskTimeout time.Duration `mapstructure:"taskTimeout"` // Optional per-task hard deadline (0 = none)

	// --- Resilience ---
	FailureThreshold   int           `mapstructure:"failureThreshold"`   // Consecutive failures tripping the breaker
	ResetTimeout       time.Duration `mapstructure:"resetTimeout"`       // Open-state cooldown
	FallbackMaxRetries int           `mapstructure:"fallbackMaxRetries"` // Retries per fallback strategy
	FallbackDelay      time.Duration `mapstructure:"fallbackDelay"`      // Base delay between fallback retries

	// --- Filtering & Output shape ---
	IgnorePatterns  []string     `mapstructure:"ignore"`       // Glob patterns skipped during discovery
	OutputExtension string       `mapstructure:"-"`            // Derived; defaults to ".md"
	OutputFormat    OutputFormat `mapstructure:"outputFormat"` // Final summary format ("text", "json")

	// --- Behavior ---
	Verbose    bool `mapstructure:"verbose"`    // Debug logging
	TuiEnabled bool `mapstructure:"tuiEnabled"` // Hint for the CLI frontend

	// --- Injected Dependencies ---
	EventHooks Hooks              `mapstructure:"-"` // Required (use NoOpHooks if unused)
	Logger     slog.Handler       `mapstructure:"-"` // Required: logging backend
	Converter  Converter          `mapstructure:"-"` // Required: the conversion collaborator
	Classifier ErrorClassifier    `mapstructure:"-"` // Optional: defaults to DefaultClassifier
	Prompter   Prompter           `mapstructure:"-"` // Required only for the ask policy
	Fallbacks  []FallbackStrategy `mapstructure:"-"` // Optional recovery strategies, in order
	Exists     ExistsFunc         `mapstructure:"-"` // Optional existence probe override (testing)
}
