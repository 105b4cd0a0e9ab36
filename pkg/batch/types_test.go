package batch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stackvity/mark-batch/pkg/batch"
)

// TestStatusConstants verifies the string values of Status constants.
func TestStatusConstants(t *testing.T) {
	assert.Equal(t, "pending", string(batch.StatusPending))
	assert.Equal(t, "running", string(batch.StatusRunning))
	assert.Equal(t, "succeeded", string(batch.StatusSucceeded))
	assert.Equal(t, "failed", string(batch.StatusFailed))
	assert.Equal(t, "skipped", string(batch.StatusSkipped))
	assert.Equal(t, "cancelled", string(batch.StatusCancelled))
}

// TestStatusTerminal verifies which statuses are terminal.
func TestStatusTerminal(t *testing.T) {
	assert.False(t, batch.StatusPending.Terminal())
	assert.False(t, batch.StatusRunning.Terminal())
	assert.True(t, batch.StatusSucceeded.Terminal())
	assert.True(t, batch.StatusFailed.Terminal())
	assert.True(t, batch.StatusSkipped.Terminal())
	assert.True(t, batch.StatusCancelled.Terminal())
}

// TestPhaseOrdering verifies that the happy path phases are strictly ordered.
func TestPhaseOrdering(t *testing.T) {
	happyPath := []batch.Phase{
		batch.PhaseInitializing,
		batch.PhaseValidatingFile,
		batch.PhaseReadingFile,
		batch.PhaseProcessing,
		batch.PhaseCheckingConflicts,
		batch.PhaseResolvingConflicts,
		batch.PhaseWritingOutput,
		batch.PhaseFinalizing,
		batch.PhaseCompleted,
	}
	for i := 1; i < len(happyPath); i++ {
		assert.Less(t, int(happyPath[i-1]), int(happyPath[i]),
			"%s must precede %s", happyPath[i-1], happyPath[i])
	}
}

// TestPhaseNames verifies the stable wire names of phases.
func TestPhaseNames(t *testing.T) {
	assert.Equal(t, "initializing", batch.PhaseInitializing.String())
	assert.Equal(t, "checking_conflicts", batch.PhaseCheckingConflicts.String())
	assert.Equal(t, "completed", batch.PhaseCompleted.String())
	assert.Equal(t, "error", batch.PhaseError.String())
	assert.Equal(t, "cancelled", batch.PhaseCancelled.String())
}

// TestPhaseTerminal verifies terminal phase classification.
func TestPhaseTerminal(t *testing.T) {
	assert.True(t, batch.PhaseCompleted.Terminal())
	assert.True(t, batch.PhaseError.Terminal())
	assert.True(t, batch.PhaseCancelled.Terminal())
	assert.False(t, batch.PhaseWritingOutput.Terminal())
}

// TestParseConflictPolicy verifies parsing of policy strings.
func TestParseConflictPolicy(t *testing.T) {
	for _, valid := range []string{"skip", "overwrite", "rename", "ask"} {
		policy, err := batch.ParseConflictPolicy(valid)
		assert.NoError(t, err)
		assert.Equal(t, valid, string(policy))
	}

	_, err := batch.ParseConflictPolicy("bogus")
	assert.ErrorIs(t, err, batch.ErrConfigValidation)
}

// TestConflictDecisionShouldWrite verifies that only skip suppresses writes.
func TestConflictDecisionShouldWrite(t *testing.T) {
	assert.False(t, batch.ConflictDecision{Policy: batch.PolicySkip}.ShouldWrite())
	assert.True(t, batch.ConflictDecision{Policy: batch.PolicyOverwrite}.ShouldWrite())
	assert.True(t, batch.ConflictDecision{Policy: batch.PolicyRename}.ShouldWrite())
}
