package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stackvity/mark-batch/internal/cli"
	"github.com/stackvity/mark-batch/internal/cli/config"
	"github.com/stackvity/mark-batch/pkg/batch"
)

var (
	// Set at build time via -ldflags.
	version = "dev"
	commit  = "none"
	date    = "unknown"

	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mark-batch [flags] <source>...",
	Short: "Converts batches of files to Markdown.",
	Long: `mark-batch converts files and directory trees to Markdown documents.

It features:
  - A fixed pool of parallel conversion workers.
  - Configurable handling of output path collisions (skip, overwrite, rename, ask).
  - A circuit breaker and fallback chain guarding the conversion routine.
  - An interactive Terminal UI (TUI) for monitoring progress.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// First interrupt cancels the run cooperatively; in-flight tasks are
		// drained to a terminal status before the process exits.
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		opts, mdOpts, logger, err := config.LoadAndValidate(cfgFile, version, args, cmd.Flags())
		if err != nil {
			return err
		}

		// The TUI needs a real terminal.
		if opts.TuiEnabled && !term.IsTerminal(int(os.Stderr.Fd())) {
			logger.Debug("Stderr is not a terminal, disabling TUI")
			opts.TuiEnabled = false
		}

		return cli.Run(ctx, opts, mdOpts, logger)
	},
}

// Execute runs the root command.
func Execute() {
	rootCmd.SetVersionTemplate(`{{.Use}} version {{.Version}}` + "\n")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init registers flags for the root command. Flag names must match the viper
// bindings in internal/cli/config.
func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is to search . and $HOME/.config/mark-batch/)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) logging output (disables TUI)")

	// Output placement
	rootCmd.Flags().StringP("output", "o", "", "Output directory for converted Markdown files (default current directory)")
	rootCmd.Flags().Bool("in-place", false, "Write outputs next to their source files instead of an output directory")

	// Conflict handling
	rootCmd.Flags().String("conflict", string(batch.DefaultConflictPolicy), `Behavior when the output path exists ("skip", "overwrite", "rename", "ask")`)
	rootCmd.Flags().String("rename-pattern", batch.DefaultRenamePattern, "Pattern for alternative output names under the rename policy")
	rootCmd.Flags().Duration("ask-timeout", batch.DefaultAskTimeout, "How long to wait for an answer under the ask policy before skipping")

	// Scheduling
	rootCmd.Flags().IntP("workers", "w", batch.DefaultWorkerCount, "Number of parallel conversion workers")
	rootCmd.Flags().Duration("task-timeout", 0, "Per-file conversion deadline (0 disables)")

	// Resilience
	rootCmd.Flags().Int("failure-threshold", batch.DefaultFailureThreshold, "Consecutive conversion failures that trip the circuit breaker")
	rootCmd.Flags().Duration("reset-timeout", batch.DefaultResetTimeout, "How long the breaker stays open before a trial call")
	rootCmd.Flags().Int("fallback-retries", batch.DefaultFallbackMaxRetries, "Retries per fallback strategy")
	rootCmd.Flags().Duration("fallback-delay", batch.DefaultFallbackDelay, "Base delay between fallback retries")

	// Filtering & output shape
	rootCmd.Flags().StringArray("ignore", []string{}, "Glob patterns for files/directories to skip (can be repeated)")
	rootCmd.Flags().String("output-format", string(batch.DefaultOutputFormat), `Final summary format ("text", "json")`)
	rootCmd.Flags().Bool("no-tui", false, "Disable the interactive Terminal UI even in a TTY")

	// Converter behavior
	rootCmd.Flags().String("front-matter", "yaml", `Front matter format for generated documents ("yaml", "toml", "" to disable)`)
	rootCmd.Flags().String("encoding", "", "Encoding assumed when charset detection is uncertain (e.g. \"windows-1252\")")
	rootCmd.Flags().Bool("git-metadata", false, "Include Git commit metadata for sources inside repositories")
}
