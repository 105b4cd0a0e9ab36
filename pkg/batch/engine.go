package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Engine orchestrates a batch conversion run: it discovers input files,
// dispatches them to a fixed worker pool, and aggregates per-task outcomes
// into a final Result. Each task is owned by exactly one worker from dequeue
// to terminal status.
type Engine struct {
	opts       *Options
	logger     *slog.Logger
	hooks      Hooks
	classifier ErrorClassifier

	resolver  *ConflictResolver
	breaker   *Breaker
	fallbacks *FallbackChain
	tracker   *ProgressTracker
	stats     *Statistics

	ctx         context.Context
	cancelFunc  context.CancelFunc
	workerCount int
	taskSeq     atomic.Int64
	discovered  atomic.Int64
}

// NewEngine validates the options, fills in defaults, and wires the engine's
// collaborators. The returned engine runs at most once.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("%w: Logger implementation (slog.Handler) cannot be nil", ErrConfigValidation)
	}
	if opts.Converter == nil {
		return nil, fmt.Errorf("%w: Converter implementation cannot be nil", ErrConfigValidation)
	}
	if len(opts.Sources) == 0 {
		return nil, fmt.Errorf("%w: at least one source must be provided", ErrConfigValidation)
	}
	if opts.EventHooks == nil {
		opts.EventHooks = &NoOpHooks{}
	}
	if opts.Classifier == nil {
		opts.Classifier = DefaultClassifier
	}

	logger := slog.New(opts.Logger).With(slog.String("component", "engine"))

	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = DefaultConflictPolicy
	}
	if _, err := ParseConflictPolicy(string(opts.ConflictPolicy)); err != nil {
		return nil, err
	}
	if opts.ConflictPolicy == PolicyAskUser && opts.Prompter == nil {
		logger.Warn("Conflict policy is ask but no prompter is registered; conflicts will be skipped")
	}
	if opts.RenamePattern == "" {
		opts.RenamePattern = DefaultRenamePattern
	}
	if !strings.Contains(opts.RenamePattern, "{n}") {
		return nil, fmt.Errorf("%w: rename pattern %q must contain the {n} placeholder", ErrConfigValidation, opts.RenamePattern)
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = DefaultWorkerCount
		logger.Debug("Worker count not set, using default", slog.Int("count", opts.WorkerCount))
	}
	if opts.OutputExtension == "" {
		opts.OutputExtension = ".md"
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = DefaultOutputFormat
	}
	if !opts.InPlace {
		if opts.OutputRoot == "" {
			opts.OutputRoot = "."
		}
		if err := os.MkdirAll(opts.OutputRoot, 0o755); err != nil {
			return nil, fmt.Errorf("%w: cannot create or access output directory %q: %w", ErrConfigValidation, opts.OutputRoot, err)
		}
	}

	resolver := NewConflictResolver(opts.ConflictPolicy, opts.RenamePattern, opts.Prompter, opts.AskTimeout, opts.Logger)
	if opts.Exists != nil {
		resolver.exists = opts.Exists
	}

	fallbacks := NewFallbackChain(opts.FallbackMaxRetries, opts.FallbackDelay, opts.Logger)
	for _, s := range opts.Fallbacks {
		fallbacks.Register(s)
	}

	engineCtx, cancelFunc := context.WithCancel(ctx)

	return &Engine{
		opts:        &opts,
		logger:      logger,
		hooks:       opts.EventHooks,
		classifier:  opts.Classifier,
		resolver:    resolver,
		breaker:     NewBreaker(opts.FailureThreshold, opts.ResetTimeout, opts.Logger),
		fallbacks:   fallbacks,
		tracker:     NewProgressTracker(opts.WorkerCount),
		stats:       &Statistics{},
		ctx:         engineCtx,
		cancelFunc:  cancelFunc,
		workerCount: opts.WorkerCount,
	}, nil
}

// Stats returns the live statistics aggregator. Safe to read concurrently
// while the run is in flight.
func (e *Engine) Stats() *Statistics { return e.stats }

// Progress returns the live progress tracker.
func (e *Engine) Progress() *ProgressTracker { return e.tracker }

// BreakerState reports the current circuit state, for frontends.
func (e *Engine) BreakerState() CircuitState { return e.breaker.State() }

// taskOutcome is one finished task as handed to the aggregator goroutine.
type taskOutcome struct {
	task     *Task
	decision ConflictDecision
	trail    []string
}

// Run executes the batch. It blocks until every dispatched task reached a
// terminal status, then returns the aggregated Result. The error is non-nil
// when the run itself was cut short (cancellation or a discovery failure);
// individual task failures are reported in the Result only.
func (e *Engine) Run() (Result, error) {
	startTime := time.Now()
	e.logger.Info("Starting batch conversion run",
		slog.Int("workers", e.workerCount),
		slog.String("conflictPolicy", string(e.opts.ConflictPolicy)))

	defer e.cancelFunc()

	workerChan := make(chan sourceFile, e.workerCount)
	resultsChan := make(chan taskOutcome, e.workerCount)

	var wg sync.WaitGroup
	for i := 0; i < e.workerCount; i++ {
		wg.Add(1)
		go e.convertWorker(&wg, i, workerChan, resultsChan)
	}

	aggregator := newResultAggregator()
	aggregatorDone := make(chan struct{})
	go func() {
		defer close(aggregatorDone)
		for outcome := range resultsChan {
			aggregator.add(outcome)
		}
	}()

	walker := NewWalker(e.opts, workerChan, e.opts.Logger)
	walker.onDispatch = func() {
		e.discovered.Add(1)
		e.tracker.AddTotal(1)
	}

	walkerDone := make(chan error, 1)
	go func() {
		walkerDone <- walker.StartWalk(e.ctx)
	}()

	walkErr := <-walkerDone
	wg.Wait()
	close(resultsChan)
	<-aggregatorDone

	cancelled := e.ctx.Err() != nil
	var finalErr error
	switch {
	case cancelled:
		e.logger.Info("Batch run cancelled", slog.String("reason", e.ctx.Err().Error()))
		finalErr = e.ctx.Err()
	case walkErr != nil:
		finalErr = walkErr
	}

	result := aggregator.result(e.opts, e.stats.Snapshot(), startTime, int(e.discovered.Load()), cancelled)

	snap := result.Summary.Stats
	e.logger.Info("Batch conversion run finished",
		slog.Duration("duration", time.Since(startTime)),
		slog.Int64("succeeded", snap.Succeeded),
		slog.Int64("failed", snap.Failed),
		slog.Int64("skipped", snap.Skipped),
		slog.Int64("conflicts", snap.ConflictsDetected),
		slog.Int64("cancelled", snap.Cancelled))

	if hookErr := e.hooks.OnRunComplete(result); hookErr != nil {
		e.logger.Warn("OnRunComplete hook returned an error", slog.String("error", hookErr.Error()))
	}

	return result, finalErr
}

// convertWorker drains the worker channel until it closes or the run context
// is cancelled.
func (e *Engine) convertWorker(wg *sync.WaitGroup, workerID int, workerChan <-chan sourceFile, resultsChan chan<- taskOutcome) {
	defer wg.Done()
	wLogger := e.logger.With(slog.Int("workerID", workerID))
	wLogger.Debug("Worker started")

	for {
		select {
		case f, ok := <-workerChan:
			if !ok {
				wLogger.Debug("Worker shutting down (channel closed)")
				return
			}
			resultsChan <- e.runTask(f)
		case <-e.ctx.Done():
			// Drain remaining queued files as cancelled so every discovered
			// file still reaches a terminal status.
			for f := range workerChan {
				resultsChan <- e.runTask(f)
			}
			wLogger.Debug("Worker shutting down (context cancelled)")
			return
		}
	}
}

// runTask drives one task through the phase state machine to a terminal
// status. It never panics the pool: every exit path produces an outcome.
func (e *Engine) runTask(f sourceFile) taskOutcome {
	task := &Task{
		ID:         e.taskSeq.Add(1),
		SourcePath: f.Path,
		Status:     StatusRunning,
		Phase:      PhaseInitializing,
		startedAt:  time.Now(),
	}

	taskCtx := e.ctx
	cancel := context.CancelFunc(func() {})
	if e.opts.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(e.ctx, e.opts.TaskTimeout)
	}
	defer cancel()

	e.emitProgress(task, "")

	if err := e.advance(taskCtx, task, PhaseValidatingFile); err != nil {
		return e.finishAborted(taskCtx, task, ConflictDecision{}, err)
	}
	if err := e.validateSource(task); err != nil {
		return e.finishFailed(task, ConflictDecision{}, err)
	}

	if err := e.advance(taskCtx, task, PhaseReadingFile); err != nil {
		return e.finishAborted(taskCtx, task, ConflictDecision{}, err)
	}
	if err := e.advance(taskCtx, task, PhaseProcessing); err != nil {
		return e.finishAborted(taskCtx, task, ConflictDecision{}, err)
	}
	content, convErr := e.convert(taskCtx, task)
	if convErr != nil {
		if taskCtx.Err() != nil {
			return e.finishAborted(taskCtx, task, ConflictDecision{}, taskCtx.Err())
		}
		return e.finishFailed(task, ConflictDecision{}, convErr)
	}

	if err := e.advance(taskCtx, task, PhaseCheckingConflicts); err != nil {
		return e.finishAborted(taskCtx, task, ConflictDecision{}, err)
	}
	targetPath := e.outputPathFor(f)
	decision, resErr := e.resolver.Resolve(taskCtx, task.SourcePath, targetPath)
	if resErr != nil {
		if taskCtx.Err() != nil {
			return e.finishAborted(taskCtx, task, ConflictDecision{}, taskCtx.Err())
		}
		return e.finishFailed(task, ConflictDecision{}, resErr)
	}

	if decision.Conflicted {
		if err := e.advance(taskCtx, task, PhaseResolvingConflicts); err != nil {
			return e.finishAborted(taskCtx, task, decision, err)
		}
	}

	if !decision.ShouldWrite() {
		if err := e.advance(taskCtx, task, PhaseFinalizing); err != nil {
			return e.finishAborted(taskCtx, task, decision, err)
		}
		return e.finishTerminal(task, decision, StatusSkipped, nil)
	}

	if err := e.advance(taskCtx, task, PhaseWritingOutput); err != nil {
		return e.finishAborted(taskCtx, task, decision, err)
	}
	if err := e.writeOutput(task, decision.ResolvedPath, content); err != nil {
		return e.finishFailed(task, decision, err)
	}

	if err := e.advance(taskCtx, task, PhaseFinalizing); err != nil {
		return e.finishAborted(taskCtx, task, decision, err)
	}
	return e.finishTerminal(task, decision, StatusSucceeded, nil)
}

// convert runs the primary conversion through the circuit breaker, routing
// denials and recoverable failures to the fallback chain.
func (e *Engine) convert(ctx context.Context, task *Task) ([]byte, error) {
	task.Attempt++
	content, err := e.breaker.Call(func() ([]byte, error) {
		return e.opts.Converter.Convert(ctx, task.SourcePath)
	})
	if err == nil {
		return content, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	task.LastError = err

	if !errors.Is(err, ErrCircuitOpen) && e.classifier(err) == ClassFatal {
		return nil, err
	}

	e.logger.Debug("Primary conversion failed, consulting fallback chain",
		slog.String("path", task.SourcePath),
		slog.String("error", err.Error()))
	content, fbErr := e.fallbacks.Handle(ctx, err, task)
	if fbErr != nil {
		task.LastError = fbErr
		return nil, fbErr
	}
	return content, nil
}

// validateSource rejects inputs the converter cannot act on before any
// expensive work happens.
func (e *Engine) validateSource(task *Task) error {
	info, err := os.Stat(task.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: cannot access %q: %w", ErrValidation, task.SourcePath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %q is not a regular file", ErrValidation, task.SourcePath)
	}
	return nil
}

// writeOutput persists the converted content. Write failures are fatal for
// the task; a partially written file is removed so failed tasks leave no
// output behind.
func (e *Engine) writeOutput(task *Task, path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: creating %q: %w", ErrWriteFailed, filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("%w: writing %q: %w", ErrWriteFailed, path, err)
	}
	task.OutputPath = path
	return nil
}

// outputPathFor derives the target path for a discovered file, mirroring the
// source tree under the output root (or writing alongside the source when
// in-place mode is on).
func (e *Engine) outputPathFor(f sourceFile) string {
	base := filepath.Base(f.Path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext) + e.opts.OutputExtension

	if e.opts.InPlace {
		return filepath.Join(filepath.Dir(f.Path), name)
	}
	if f.Root != "" {
		if rel, err := filepath.Rel(f.Root, f.Path); err == nil {
			return filepath.Join(e.opts.OutputRoot, filepath.Dir(rel), name)
		}
	}
	return filepath.Join(e.opts.OutputRoot, name)
}

// advance checks for cancellation at the phase boundary, then moves the task
// forward and emits a progress event.
func (e *Engine) advance(ctx context.Context, task *Task, next Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.tracker.Advance(task, next); err != nil {
		return err
	}
	e.emitProgress(task, "")
	return nil
}

func (e *Engine) emitProgress(task *Task, message string) {
	if hookErr := e.hooks.OnTaskProgress(TaskProgressEvent{
		TaskID:  task.ID,
		Path:    task.SourcePath,
		Phase:   task.Phase,
		Message: message,
	}); hookErr != nil {
		e.logger.Warn("OnTaskProgress hook returned an error", slog.String("error", hookErr.Error()))
	}
}

// finishAborted maps a context error at a phase boundary to its terminal
// status: a per-task deadline is a task failure, a run-level cancellation is
// a cancellation. Partial output is removed either way.
func (e *Engine) finishAborted(taskCtx context.Context, task *Task, decision ConflictDecision, cause error) taskOutcome {
	e.removePartialOutput(task)
	if e.ctx.Err() == nil && errors.Is(cause, context.DeadlineExceeded) {
		return e.finishTerminal(task, decision, StatusFailed, fmt.Errorf("%w after %s: %w", ErrTaskTimeout, e.opts.TaskTimeout, cause))
	}
	return e.finishTerminal(task, decision, StatusCancelled, fmt.Errorf("%w: %w", ErrCancelled, cause))
}

func (e *Engine) finishFailed(task *Task, decision ConflictDecision, cause error) taskOutcome {
	_ = e.tracker.Advance(task, PhaseError)
	return e.finishTerminal(task, decision, StatusFailed, cause)
}

// finishTerminal settles the task, folds it into the statistics and progress
// aggregates, and emits the completion event.
func (e *Engine) finishTerminal(task *Task, decision ConflictDecision, status Status, cause error) taskOutcome {
	switch status {
	case StatusSucceeded, StatusSkipped:
		_ = e.tracker.Advance(task, PhaseCompleted)
	case StatusCancelled:
		_ = e.tracker.Advance(task, PhaseCancelled)
	}
	if cause != nil {
		task.LastError = cause
	}
	task.Status = status
	task.duration = time.Since(task.startedAt)

	e.tracker.TaskCompleted(task.duration)
	e.recordStats(decision, status)
	e.emitProgress(task, "")

	var trail []string
	var unrec *UnrecoverableError
	if task.LastError != nil && errors.As(task.LastError, &unrec) {
		trail = make([]string, 0, len(unrec.Trail))
		for _, a := range unrec.Trail {
			trail = append(trail, a.String())
		}
	}

	ev := TaskCompletedEvent{
		TaskID:     task.ID,
		Path:       task.SourcePath,
		Status:     status,
		OutputPath: task.OutputPath,
		Trail:      trail,
		Duration:   task.duration,
	}
	if status == StatusFailed && task.LastError != nil {
		ev.Error = task.LastError.Error()
	}
	if hookErr := e.hooks.OnTaskCompleted(ev); hookErr != nil {
		e.logger.Warn("OnTaskCompleted hook returned an error", slog.String("error", hookErr.Error()))
	}

	return taskOutcome{task: task, decision: decision, trail: trail}
}

// recordStats folds a task's conflict decision and terminal status into the
// statistics together, once the task has settled. Folding the decision at
// resolve time would let a task cancelled (or timed out) between the conflict
// check and its terminal status increment skipped without ever incrementing
// totalChecked, breaking the conservation equations.
func (e *Engine) recordStats(decision ConflictDecision, status Status) {
	switch {
	case status == StatusCancelled:
		// Cancelled tasks are excluded from the conservation equations.
	case status == StatusFailed && decision.Conflicted && decision.Policy == PolicySkip:
		// A skip decision that never settled as skipped (per-task deadline
		// after the conflict check) would count the task under both skipped
		// and failed.
	default:
		e.stats.RecordDecision(decision)
	}
	e.stats.RecordOutcome(status)
}

// removePartialOutput deletes output written by a task that did not reach a
// successful terminal status, so cancellation leaves no half-finished files.
func (e *Engine) removePartialOutput(task *Task) {
	if task.OutputPath == "" {
		return
	}
	if err := os.Remove(task.OutputPath); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("Failed to remove partial output",
			slog.String("path", task.OutputPath),
			slog.String("error", err.Error()))
		return
	}
	e.logger.Debug("Removed partial output", slog.String("path", task.OutputPath))
	task.OutputPath = ""
}

// --- resultAggregator ---

// resultAggregator collects finished tasks into the report lists. It runs in
// a single goroutine, so no locking is needed.
type resultAggregator struct {
	converted []TaskRecord
	skipped   []TaskRecord
	errs      []ErrorRecord
}

func newResultAggregator() *resultAggregator {
	return &resultAggregator{
		converted: make([]TaskRecord, 0, 256),
		skipped:   make([]TaskRecord, 0, 64),
		errs:      make([]ErrorRecord, 0, 16),
	}
}

func (a *resultAggregator) add(o taskOutcome) {
	rec := TaskRecord{
		ID:            o.task.ID,
		Path:          o.task.SourcePath,
		OutputPath:    o.task.OutputPath,
		Status:        o.task.Status,
		RenameCounter: o.decision.RenameCounter,
		DurationMs:    o.task.duration.Milliseconds(),
	}
	switch o.task.Status {
	case StatusSucceeded:
		a.converted = append(a.converted, rec)
	case StatusSkipped:
		a.skipped = append(a.skipped, rec)
	case StatusFailed:
		msg := "unknown error"
		if o.task.LastError != nil {
			msg = o.task.LastError.Error()
		}
		a.errs = append(a.errs, ErrorRecord{
			ID:    o.task.ID,
			Path:  o.task.SourcePath,
			Error: msg,
			Trail: o.trail,
		})
	}
}

func (a *resultAggregator) result(opts *Options, snap StatsSnapshot, startTime time.Time, discovered int, cancelled bool) Result {
	return Result{
		Summary: Summary{
			OutputRoot:      opts.OutputRoot,
			TotalDiscovered: discovered,
			Stats:           snap,
			WorkerCount:     opts.WorkerCount,
			DurationSeconds: time.Since(startTime).Seconds(),
			Cancelled:       cancelled,
			Timestamp:       time.Now().UTC(),
			SchemaVersion:   ReportSchemaVersion,
			AppVersion:      opts.AppVersion,
			ConfigFilePath:  opts.ConfigFilePath,
		},
		Converted: a.converted,
		Skipped:   a.skipped,
		Errors:    a.errs,
	}
}
