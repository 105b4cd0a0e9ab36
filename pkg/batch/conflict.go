package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ConflictPrompt carries the information an external decision-maker needs to
// pick a policy for one collision.
type ConflictPrompt struct {
	SourcePath string
	TargetPath string
}

// Prompter answers ask-user conflict prompts. Implementations may block; the
// resolver bounds the wait with a timeout and degrades to skip when no answer
// arrives in time.
type Prompter interface {
	Ask(ctx context.Context, prompt ConflictPrompt) (ConflictPolicy, error)
}

// ExistsFunc probes whether a path exists. Injectable for tests; the default
// uses os.Stat.
type ExistsFunc func(path string) (bool, error)

func statExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ConflictResolver decides the output path for a task given an existence
// probe and the configured policy. It performs no writes; two workers
// resolving different files never contend. Two tasks with identical stems can
// both observe a renamed path as free before either writes it; that race is a
// documented limitation of the probe-then-write design.
type ConflictResolver struct {
	policy     ConflictPolicy
	pattern    string
	exists     ExistsFunc
	prompter   Prompter
	askTimeout time.Duration
	logger     *slog.Logger
}

// NewConflictResolver creates a resolver for the given policy and rename
// pattern. prompter may be nil unless the policy is ask.
func NewConflictResolver(policy ConflictPolicy, pattern string, prompter Prompter, askTimeout time.Duration, loggerHandler slog.Handler) *ConflictResolver {
	if pattern == "" {
		pattern = DefaultRenamePattern
	}
	if askTimeout <= 0 {
		askTimeout = DefaultAskTimeout
	}
	return &ConflictResolver{
		policy:     policy,
		pattern:    pattern,
		exists:     statExists,
		prompter:   prompter,
		askTimeout: askTimeout,
		logger:     slog.New(loggerHandler).With(slog.String("component", "conflict")),
	}
}

// Resolve decides where (and whether) the output for sourcePath may be
// written. The returned decision always carries the effective policy: an
// ask-user answer is reported as the policy the user chose, so statistics
// see skip/overwrite/rename only.
func (r *ConflictResolver) Resolve(ctx context.Context, sourcePath, targetPath string) (ConflictDecision, error) {
	return r.resolveWith(ctx, sourcePath, targetPath, r.policy)
}

func (r *ConflictResolver) resolveWith(ctx context.Context, sourcePath, targetPath string, policy ConflictPolicy) (ConflictDecision, error) {
	exists, err := r.exists(targetPath)
	if err != nil {
		return ConflictDecision{}, fmt.Errorf("%w: probing %q: %w", ErrWriteFailed, targetPath, err)
	}
	if !exists {
		// No real conflict; the policy is irrelevant.
		return ConflictDecision{Policy: PolicyOverwrite, ResolvedPath: targetPath}, nil
	}

	switch policy {
	case PolicySkip:
		r.logger.Debug("Conflict resolved by skipping", slog.String("target", targetPath))
		return ConflictDecision{Policy: PolicySkip, ResolvedPath: targetPath, Conflicted: true}, nil

	case PolicyOverwrite:
		r.logger.Debug("Conflict resolved by overwriting", slog.String("target", targetPath))
		return ConflictDecision{Policy: PolicyOverwrite, ResolvedPath: targetPath, Conflicted: true}, nil

	case PolicyRename:
		resolved, counter, renameErr := r.probeRename(targetPath)
		if renameErr != nil {
			return ConflictDecision{}, renameErr
		}
		r.logger.Debug("Conflict resolved by renaming",
			slog.String("target", targetPath),
			slog.String("resolved", resolved),
			slog.Int("counter", counter))
		return ConflictDecision{Policy: PolicyRename, ResolvedPath: resolved, RenameCounter: counter, Conflicted: true}, nil

	case PolicyAskUser:
		choice := r.askUser(ctx, ConflictPrompt{SourcePath: sourcePath, TargetPath: targetPath})
		return r.resolveWith(ctx, sourcePath, targetPath, choice)
	}

	return ConflictDecision{}, fmt.Errorf("%w: unknown conflict policy %q", ErrConfigValidation, policy)
}

// probeRename substitutes an incrementing counter into the rename pattern
// until a free path is found or the attempt cap is hit.
func (r *ConflictResolver) probeRename(targetPath string) (string, int, error) {
	dir := filepath.Dir(targetPath)
	base := filepath.Base(targetPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 1; n <= renameAttemptCap; n++ {
		name := strings.NewReplacer(
			"{stem}", stem,
			"{n}", strconv.Itoa(n),
			"{ext}", ext,
		).Replace(r.pattern)
		candidate := filepath.Join(dir, name)
		exists, err := r.exists(candidate)
		if err != nil {
			return "", 0, fmt.Errorf("%w: probing %q: %w", ErrWriteFailed, candidate, err)
		}
		if !exists {
			return candidate, n, nil
		}
	}
	return "", 0, fmt.Errorf("%w: no free path for %q after %d attempts", ErrRenameLimit, targetPath, renameAttemptCap)
}

// askUser forwards the prompt to the registered prompter and waits up to the
// configured timeout. Timeout, error, no prompter, or a prompter answering
// "ask" again all degrade to skip so an unresponsive external party can never
// stall a worker.
func (r *ConflictResolver) askUser(ctx context.Context, prompt ConflictPrompt) ConflictPolicy {
	if r.prompter == nil {
		r.logger.Warn("Ask-user policy active but no prompter registered, degrading to skip",
			slog.String("target", prompt.TargetPath))
		return PolicySkip
	}

	askCtx, cancel := context.WithTimeout(ctx, r.askTimeout)
	defer cancel()

	type answer struct {
		choice ConflictPolicy
		err    error
	}
	answerCh := make(chan answer, 1)
	go func() {
		choice, err := r.prompter.Ask(askCtx, prompt)
		answerCh <- answer{choice: choice, err: err}
	}()

	select {
	case a := <-answerCh:
		if a.err != nil {
			r.logger.Warn("Conflict prompt failed, degrading to skip",
				slog.String("target", prompt.TargetPath),
				slog.String("error", a.err.Error()))
			return PolicySkip
		}
		if a.choice == PolicyAskUser || a.choice == "" {
			return PolicySkip
		}
		return a.choice
	case <-askCtx.Done():
		r.logger.Warn("Conflict prompt timed out, degrading to skip",
			slog.String("target", prompt.TargetPath),
			slog.Duration("timeout", r.askTimeout))
		return PolicySkip
	}
}
