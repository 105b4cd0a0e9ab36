// Package cli wires the configuration, frontend, and core library together
// for the mark-batch command.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	clihooks "github.com/stackvity/mark-batch/internal/cli/hooks"
	"github.com/stackvity/mark-batch/internal/cli/ui"
	"github.com/stackvity/mark-batch/pkg/batch"
	"github.com/stackvity/mark-batch/pkg/batch/markdown"
)

// Run executes a batch conversion with the given validated options. It
// selects the frontend (TUI, progress bar, or plain logs), runs the engine,
// and prints the final summary in the configured format.
func Run(ctx context.Context, opts batch.Options, mdOpts markdown.Options, logger *slog.Logger) error {
	if opts.Converter == nil {
		conv, err := markdown.New(mdOpts)
		if err != nil {
			return err
		}
		opts.Converter = conv
	}

	// Interactive conflict prompts need exclusive use of the terminal, which
	// rules out the TUI.
	if opts.ConflictPolicy == batch.PolicyAskUser {
		if opts.TuiEnabled {
			logger.Info("Conflict policy is ask; disabling the TUI so prompts can use the terminal")
			opts.TuiEnabled = false
		}
		if opts.Prompter == nil {
			opts.Prompter = NewTerminalPrompter()
		}
	}

	if opts.TuiEnabled {
		return runWithTUI(ctx, opts, logger)
	}
	return runPlain(ctx, opts, logger)
}

// teaProgramAdapter bridges *tea.Program's Send(tea.Msg) to the
// hooks.TUIProgram interface's Send(interface{}).
type teaProgramAdapter struct{ p *tea.Program }

func (a teaProgramAdapter) Send(msg interface{}) { a.p.Send(msg) }

// runWithTUI drives the engine behind a Bubble Tea program. The program owns
// the terminal; the engine runs in a goroutine and feeds it through hooks.
func runWithTUI(ctx context.Context, opts batch.Options, logger *slog.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := ui.NewModel(opts.AppVersion, cancel)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr), tea.WithContext(ctx))

	opts.EventHooks = clihooks.NewCLIHooks(logger, true, opts.Verbose, teaProgramAdapter{program}, nil)

	engine, err := batch.NewEngine(runCtx, opts)
	if err != nil {
		return err
	}

	var result batch.Result
	var runErr error
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		result, runErr = engine.Run()
	}()

	if _, uiErr := program.Run(); uiErr != nil {
		// A broken terminal must not strand the engine.
		cancel()
		logger.Error("TUI terminated unexpectedly", slog.String("error", uiErr.Error()))
	}
	cancel()
	<-engineDone

	if summaryErr := printSummary(os.Stdout, result, opts.OutputFormat); summaryErr != nil {
		logger.Error("Failed to print summary", slog.String("error", summaryErr.Error()))
	}
	return runErr
}

// runPlain drives the engine without the TUI: a progress bar on a TTY, or
// structured logs otherwise.
func runPlain(ctx context.Context, opts batch.Options, logger *slog.Logger) error {
	var bar clihooks.ProgressBar
	if !opts.Verbose && term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Converting"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	opts.EventHooks = clihooks.NewCLIHooks(logger, false, opts.Verbose, nil, bar)

	engine, err := batch.NewEngine(ctx, opts)
	if err != nil {
		return err
	}
	result, runErr := engine.Run()

	if summaryErr := printSummary(os.Stdout, result, opts.OutputFormat); summaryErr != nil {
		logger.Error("Failed to print summary", slog.String("error", summaryErr.Error()))
	}
	return runErr
}

// printSummary renders the final result to w in the configured format.
func printSummary(w io.Writer, result batch.Result, format batch.OutputFormat) error {
	if format == batch.OutputFormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	s := result.Summary.Stats
	fmt.Fprintf(w, "\nConversion finished in %.2fs\n", result.Summary.DurationSeconds)
	fmt.Fprintf(w, "  Discovered: %d\n", result.Summary.TotalDiscovered)
	fmt.Fprintf(w, "  Converted:  %d\n", s.Succeeded)
	fmt.Fprintf(w, "  Skipped:    %d\n", s.Skipped)
	fmt.Fprintf(w, "  Failed:     %d\n", s.Failed)
	if s.ConflictsDetected > 0 {
		fmt.Fprintf(w, "  Conflicts:  %d (overwritten: %d, renamed: %d, skipped: %d)\n",
			s.ConflictsDetected, s.Overwritten, s.Renamed, s.Skipped)
	}
	if s.Cancelled > 0 || result.Summary.Cancelled {
		fmt.Fprintf(w, "  Cancelled:  %d (run interrupted)\n", s.Cancelled)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  ERROR %s: %s\n", e.Path, e.Error)
	}
	return nil
}
