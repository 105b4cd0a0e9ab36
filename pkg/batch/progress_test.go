package batch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/mark-batch/pkg/batch"
)

// TestTrackerHappyPathAdvance walks one task through every forward phase.
func TestTrackerHappyPathAdvance(t *testing.T) {
	tracker := batch.NewProgressTracker(1)
	task := &batch.Task{ID: 1, Phase: batch.PhaseInitializing}

	for _, next := range []batch.Phase{
		batch.PhaseValidatingFile,
		batch.PhaseReadingFile,
		batch.PhaseProcessing,
		batch.PhaseCheckingConflicts,
		batch.PhaseResolvingConflicts,
		batch.PhaseWritingOutput,
		batch.PhaseFinalizing,
		batch.PhaseCompleted,
	} {
		require.NoError(t, tracker.Advance(task, next))
		assert.Equal(t, next, task.Phase)
	}
}

// TestTrackerRejectsRegression verifies tasks cannot move backwards or stay
// in place.
func TestTrackerRejectsRegression(t *testing.T) {
	tracker := batch.NewProgressTracker(1)
	task := &batch.Task{ID: 1, Phase: batch.PhaseProcessing}

	assert.Error(t, tracker.Advance(task, batch.PhaseReadingFile))
	assert.Error(t, tracker.Advance(task, batch.PhaseProcessing))
	assert.Equal(t, batch.PhaseProcessing, task.Phase, "failed advance must not mutate the task")
}

// TestTrackerRejectsAdvanceFromTerminal verifies terminal phases are final.
func TestTrackerRejectsAdvanceFromTerminal(t *testing.T) {
	tracker := batch.NewProgressTracker(1)
	for _, terminal := range []batch.Phase{batch.PhaseCompleted, batch.PhaseError, batch.PhaseCancelled} {
		task := &batch.Task{ID: 1, Phase: terminal}
		assert.Error(t, tracker.Advance(task, batch.PhaseFinalizing))
	}
}

// TestTrackerTerminalReachableFromAnywhere verifies error and cancelled are
// legal from any non-terminal phase, including skipping forward.
func TestTrackerTerminalReachableFromAnywhere(t *testing.T) {
	tracker := batch.NewProgressTracker(1)
	for _, from := range []batch.Phase{
		batch.PhaseInitializing,
		batch.PhaseProcessing,
		batch.PhaseWritingOutput,
	} {
		task := &batch.Task{ID: 1, Phase: from}
		require.NoError(t, tracker.Advance(task, batch.PhaseError))

		task = &batch.Task{ID: 2, Phase: from}
		require.NoError(t, tracker.Advance(task, batch.PhaseCancelled))
	}
}

// TestTrackerPercentAndETA verifies the completion percentage and the
// ETA computed from the duration moving average and the worker count.
func TestTrackerPercentAndETA(t *testing.T) {
	tracker := batch.NewProgressTracker(2)
	assert.Zero(t, tracker.Percent(), "no total yet")
	assert.Zero(t, tracker.ETA(), "no completions yet")

	tracker.AddTotal(4)
	assert.Zero(t, tracker.Percent())

	tracker.TaskCompleted(100 * time.Millisecond)
	tracker.TaskCompleted(200 * time.Millisecond)

	assert.InDelta(t, 50.0, tracker.Percent(), 0.001)
	assert.Equal(t, 2, tracker.Completed())
	assert.Equal(t, 4, tracker.Total())

	// avg = 100ms, then 100*0.7 + 200*0.3 = 130ms. Two tasks remain over two
	// workers, one round of 130ms each.
	assert.Equal(t, 130*time.Millisecond, tracker.ETA())
}

// TestTrackerETAZeroWhenDone verifies a drained batch reports no remaining
// time.
func TestTrackerETAZeroWhenDone(t *testing.T) {
	tracker := batch.NewProgressTracker(3)
	tracker.AddTotal(2)
	tracker.TaskCompleted(50 * time.Millisecond)
	tracker.TaskCompleted(50 * time.Millisecond)

	assert.InDelta(t, 100.0, tracker.Percent(), 0.001)
	assert.Zero(t, tracker.ETA())
}

// TestTrackerZeroDurationIgnored verifies instantaneous completions do not
// poison the average.
func TestTrackerZeroDurationIgnored(t *testing.T) {
	tracker := batch.NewProgressTracker(1)
	tracker.AddTotal(3)
	tracker.TaskCompleted(0)
	tracker.TaskCompleted(100 * time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, tracker.ETA())
}
