package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// sourceFile is one discovered input file, together with the source root it
// was found under (empty for files named directly in Options.Sources).
type sourceFile struct {
	Path string
	Root string
}

// Walker expands Options.Sources into individual input files, applying
// ignore rules and dispatching eligible paths to the worker pool.
type Walker struct {
	opts       *Options
	workerChan chan<- sourceFile
	hooks      Hooks
	logger     *slog.Logger
	onDispatch func()
}

// NewWalker creates a new Walker instance.
func NewWalker(opts *Options, workerChan chan<- sourceFile, loggerHandler slog.Handler) *Walker {
	return &Walker{
		opts:       opts,
		workerChan: workerChan,
		hooks:      opts.EventHooks,
		logger:     slog.New(loggerHandler).With(slog.String("component", "walker")),
	}
}

// StartWalk traverses every configured source. The worker channel is closed
// when traversal finishes, whether or not an error occurred.
func (w *Walker) StartWalk(ctx context.Context) error {
	defer close(w.workerChan)

	for _, source := range w.opts.Sources {
		select {
		case <-ctx.Done():
			w.logger.Info("Discovery cancelled", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		default:
		}

		info, err := os.Stat(source)
		if err != nil {
			w.logger.Error("Cannot access source", slog.String("path", source), slog.String("error", err.Error()))
			return fmt.Errorf("cannot access source %q: %w", source, err)
		}

		if !info.IsDir() {
			if err := w.dispatch(ctx, sourceFile{Path: source}); err != nil {
				return err
			}
			continue
		}

		root := source
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable entries are logged and skipped; only a broken
				// root aborts discovery.
				w.logger.Warn("Error accessing path during walk", slog.String("path", path), slog.String("error", err.Error()))
				if path == root && os.IsPermission(err) {
					return fmt.Errorf("permission denied reading source directory %q: %w", path, err)
				}
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if d.Type()&fs.ModeSymlink != 0 {
				w.logger.Debug("Skipping symbolic link", slog.String("path", path))
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if w.ignored(root, path) {
				w.logger.Debug("Skipping ignored path", slog.String("path", path))
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			return w.dispatch(ctx, sourceFile{Path: path, Root: root})
		})
		if walkErr != nil {
			if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
				w.logger.Info("Discovery cancelled", slog.String("reason", walkErr.Error()))
				return walkErr
			}
			w.logger.Error("Directory walk failed", slog.String("path", root), slog.String("error", walkErr.Error()))
			return fmt.Errorf("directory walk failed for %q: %w", root, walkErr)
		}
	}

	w.logger.Debug("Discovery completed")
	return nil
}

// ignored checks the path (base name and slashed relative path) against the
// configured glob patterns.
func (w *Walker) ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)
	for _, pattern := range w.opts.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// dispatch hands one file to the worker pool, honoring cancellation while
// the channel is full. onDispatch fires only after a successful handoff so a
// file is never counted as discovered without a worker eventually owning it.
func (w *Walker) dispatch(ctx context.Context, f sourceFile) error {
	if w.hooks != nil {
		if err := w.hooks.OnFileDiscovered(f.Path); err != nil {
			w.logger.Warn("OnFileDiscovered hook returned an error", slog.String("error", err.Error()))
		}
	}
	select {
	case w.workerChan <- f:
		if w.onDispatch != nil {
			w.onDispatch()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
