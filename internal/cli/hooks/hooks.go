// Package hooks bridges core library events to the CLI's output layer: the
// TUI program, the progress bar, or plain structured logging.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/stackvity/mark-batch/pkg/batch"
)

// --- TUI Message Structs ---

// FileDiscoveredMsg signals that the walker found an input file.
type FileDiscoveredMsg struct{ Path string }

// TaskProgressMsg signals a task's phase transition.
type TaskProgressMsg struct{ Event batch.TaskProgressEvent }

// TaskCompletedMsg signals that a task reached a terminal status.
type TaskCompletedMsg struct{ Event batch.TaskCompletedEvent }

// RunCompleteMsg signals the completion of the whole batch run.
type RunCompleteMsg struct{ Result batch.Result }

// TUIProgram defines the interface needed to interact with the Bubble Tea
// program.
type TUIProgram interface {
	Send(msg interface{})
}

// ProgressBar defines the interface needed to interact with the progress bar.
type ProgressBar interface {
	Add(num int) error
	Describe(description string)
	ChangeMax(max int)
	Close() error
}

// NoOpTUIProgram provides a default null implementation.
type NoOpTUIProgram struct{}

// Send implements TUIProgram.
func (n *NoOpTUIProgram) Send(msg interface{}) {}

// NoOpProgressBar provides a default null implementation.
type NoOpProgressBar struct{}

// Add implements ProgressBar.
func (n *NoOpProgressBar) Add(num int) error { return nil }

// Describe implements ProgressBar.
func (n *NoOpProgressBar) Describe(description string) {}

// ChangeMax implements ProgressBar.
func (n *NoOpProgressBar) ChangeMax(max int) {}

// Close implements ProgressBar.
func (n *NoOpProgressBar) Close() error { return nil }

// CLIHooks implements batch.Hooks, routing library events to the active
// frontend: TUI messages when the TUI runs, verbose logs when requested, a
// progress bar on a plain TTY, or error-only logs otherwise.
type CLIHooks struct {
	logger         *slog.Logger
	tuiEnabled     bool
	verboseEnabled bool
	tuiProgram     TUIProgram
	progressBar    ProgressBar
	mu             sync.Mutex
	discovered     int
}

// NewCLIHooks creates a new CLIHooks instance. Pass nil for tuiProgram or
// progressBar when not applicable; NoOp versions are substituted.
func NewCLIHooks(logger *slog.Logger, tuiEnabled, verboseEnabled bool, tuiProg TUIProgram, progBar ProgressBar) *CLIHooks {
	if tuiProg == nil {
		tuiProg = &NoOpTUIProgram{}
	}
	if progBar == nil {
		progBar = &NoOpProgressBar{}
	}
	return &CLIHooks{
		logger:         logger,
		tuiEnabled:     tuiEnabled,
		verboseEnabled: verboseEnabled,
		tuiProgram:     tuiProg,
		progressBar:    progBar,
	}
}

// OnFileDiscovered handles discovery events. In progress bar mode the bar's
// maximum grows with each discovered file, since the total is not known up
// front.
func (h *CLIHooks) OnFileDiscovered(path string) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(FileDiscoveredMsg{Path: path})
		return nil
	}
	if h.verboseEnabled {
		h.logger.Debug("File discovered", slog.String("path", path))
	}
	h.mu.Lock()
	h.discovered++
	h.progressBar.ChangeMax(h.discovered)
	h.mu.Unlock()
	return nil
}

// OnTaskProgress handles phase transition events. Called concurrently from
// all workers.
func (h *CLIHooks) OnTaskProgress(ev batch.TaskProgressEvent) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(TaskProgressMsg{Event: ev})
		return nil
	}
	if h.verboseEnabled {
		h.logger.Debug("Task phase changed",
			slog.Int64("taskId", ev.TaskID),
			slog.String("path", ev.Path),
			slog.String("phase", ev.Phase.String()))
	}
	return nil
}

// OnTaskCompleted handles terminal-status events. Called concurrently from
// all workers.
func (h *CLIHooks) OnTaskCompleted(ev batch.TaskCompletedEvent) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(TaskCompletedMsg{Event: ev})
		return nil
	}

	if h.verboseEnabled {
		logLevel := slog.LevelInfo
		logMsg := "Task completed"
		attrs := []any{
			slog.Int64("taskId", ev.TaskID),
			slog.String("path", ev.Path),
			slog.String("status", string(ev.Status)),
			slog.Duration("duration", ev.Duration),
		}
		if ev.OutputPath != "" {
			attrs = append(attrs, slog.String("output", ev.OutputPath))
		}
		if ev.Status == batch.StatusFailed {
			logLevel = slog.LevelError
			logMsg = "Task failed"
			attrs = append(attrs, slog.String("error", ev.Error))
		}
		h.logger.Log(context.Background(), logLevel, logMsg, attrs...)
		return nil
	}

	h.mu.Lock()
	_ = h.progressBar.Add(1)
	h.mu.Unlock()

	// Failures are surfaced even in progress bar mode.
	if ev.Status == batch.StatusFailed {
		h.logger.Error("Task failed",
			slog.String("path", ev.Path),
			slog.String("error", ev.Error))
	}
	return nil
}

// OnRunComplete forwards the final result to the TUI or finalizes the
// progress bar. The text or JSON summary itself is printed by the CLI after
// Run returns.
func (h *CLIHooks) OnRunComplete(result batch.Result) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(RunCompleteMsg{Result: result})
		return nil
	}
	h.mu.Lock()
	_ = h.progressBar.Close()
	h.mu.Unlock()
	// Newline after the bar so the summary does not overlap it.
	_, _ = fmt.Fprintf(os.Stderr, "\n")
	return nil
}
