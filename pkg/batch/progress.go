package batch

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker enforces the per-task phase state machine and aggregates
// batch-level progress (percent complete, ETA). Phase transitions are
// validated here so a regression along the happy path surfaces as a
// programming error instead of corrupting progress reporting.
type ProgressTracker struct {
	mu          sync.Mutex
	total       int
	completed   int
	workers     int
	avgDuration time.Duration
}

// NewProgressTracker creates a tracker for a pool of the given size. The
// worker count only feeds the ETA estimate.
func NewProgressTracker(workers int) *ProgressTracker {
	if workers < 1 {
		workers = 1
	}
	return &ProgressTracker{workers: workers}
}

// AddTotal grows the number of expected tasks. The walker discovers files
// incrementally, so the total is not known up front.
func (t *ProgressTracker) AddTotal(n int) {
	t.mu.Lock()
	t.total += n
	t.mu.Unlock()
}

// Advance moves a task to the next phase after validating the transition.
// Terminal phases (error, cancelled) are reachable from any non-terminal
// phase; otherwise the task may only move forward along the happy path.
func (t *ProgressTracker) Advance(task *Task, next Phase) error {
	current := task.Phase
	if current.Terminal() {
		return fmt.Errorf("task %d: phase %s is terminal, cannot advance to %s", task.ID, current, next)
	}
	if next == PhaseError || next == PhaseCancelled {
		task.Phase = next
		return nil
	}
	if next <= current {
		return fmt.Errorf("task %d: phase regression %s -> %s", task.ID, current, next)
	}
	task.Phase = next
	return nil
}

// TaskCompleted folds one finished task into the batch aggregates. The ETA
// estimate is refreshed here, on completion only, to bound update frequency.
func (t *ProgressTracker) TaskCompleted(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
	if duration <= 0 {
		return
	}
	if t.avgDuration == 0 {
		t.avgDuration = duration
		return
	}
	// Exponential moving average over completed-task durations.
	t.avgDuration = time.Duration(float64(t.avgDuration)*(1-etaSmoothing) + float64(duration)*etaSmoothing)
}

// Percent returns overall completion in [0, 100], every task weighted
// equally.
func (t *ProgressTracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total == 0 {
		return 0
	}
	return float64(t.completed) / float64(t.total) * 100
}

// ETA estimates the remaining wall time from the duration average and the
// worker count. Zero until at least one task has completed.
func (t *ProgressTracker) ETA() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.total - t.completed
	if remaining <= 0 || t.avgDuration == 0 {
		return 0
	}
	perWorker := (remaining + t.workers - 1) / t.workers
	return time.Duration(perWorker) * t.avgDuration
}

// Completed returns the number of tasks folded so far.
func (t *ProgressTracker) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Total returns the number of tasks expected so far.
func (t *ProgressTracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
