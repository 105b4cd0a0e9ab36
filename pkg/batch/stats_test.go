package batch_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stackvity/mark-batch/pkg/batch"
)

// TestStatsRecordDecision verifies that only actual conflicts are counted and
// that each decision increments exactly one resolution counter.
func TestStatsRecordDecision(t *testing.T) {
	var stats batch.Statistics

	stats.RecordDecision(batch.ConflictDecision{Policy: batch.PolicyOverwrite, Conflicted: false})
	assert.Equal(t, int64(0), stats.Snapshot().ConflictsDetected, "non-conflicts must not be counted")

	stats.RecordDecision(batch.ConflictDecision{Policy: batch.PolicySkip, Conflicted: true})
	stats.RecordDecision(batch.ConflictDecision{Policy: batch.PolicyOverwrite, Conflicted: true})
	stats.RecordDecision(batch.ConflictDecision{Policy: batch.PolicyRename, Conflicted: true})

	snap := stats.Snapshot()
	assert.Equal(t, int64(3), snap.ConflictsDetected)
	assert.Equal(t, int64(1), snap.Skipped)
	assert.Equal(t, int64(1), snap.Overwritten)
	assert.Equal(t, int64(1), snap.Renamed)
}

// TestStatsConservation verifies both conservation equations under concurrent
// recording from many goroutines.
func TestStatsConservation(t *testing.T) {
	var stats batch.Statistics

	const (
		succeededClean    = 40 // succeeded, no conflict
		succeededOverwrit = 25 // succeeded after an overwrite decision
		succeededRenamed  = 20 // succeeded after a rename decision
		skipped           = 10 // skip decision, task ends skipped
		failed            = 15 // failed, no conflict check completed
		cancelled         = 5  // cancelled before any decision
	)

	var wg sync.WaitGroup
	record := func(n int, fn func()) {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn()
			}()
		}
	}

	record(succeededClean, func() {
		stats.RecordOutcome(batch.StatusSucceeded)
	})
	record(succeededOverwrit, func() {
		stats.RecordDecision(batch.ConflictDecision{Policy: batch.PolicyOverwrite, Conflicted: true})
		stats.RecordOutcome(batch.StatusSucceeded)
	})
	record(succeededRenamed, func() {
		stats.RecordDecision(batch.ConflictDecision{Policy: batch.PolicyRename, Conflicted: true})
		stats.RecordOutcome(batch.StatusSucceeded)
	})
	record(skipped, func() {
		stats.RecordDecision(batch.ConflictDecision{Policy: batch.PolicySkip, Conflicted: true})
		stats.RecordOutcome(batch.StatusSkipped)
	})
	record(failed, func() {
		stats.RecordOutcome(batch.StatusFailed)
	})
	record(cancelled, func() {
		stats.RecordOutcome(batch.StatusCancelled)
	})
	wg.Wait()

	snap := stats.Snapshot()

	// Conflict resolution conservation.
	assert.Equal(t, snap.ConflictsDetected, snap.Skipped+snap.Overwritten+snap.Renamed)

	// Outcome conservation; cancelled tasks are excluded.
	assert.Equal(t, snap.TotalChecked, snap.Succeeded+snap.Failed+snap.Skipped)

	assert.Equal(t, int64(succeededClean+succeededOverwrit+succeededRenamed), snap.Succeeded)
	assert.Equal(t, int64(failed), snap.Failed)
	assert.Equal(t, int64(skipped), snap.Skipped)
	assert.Equal(t, int64(cancelled), snap.Cancelled)
}
