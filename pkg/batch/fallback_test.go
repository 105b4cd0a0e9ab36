package batch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/mark-batch/pkg/batch"
)

func testHandler() slog.Handler {
	return slog.NewTextHandler(io.Discard, nil)
}

// TestFallbackEmptyChain verifies an empty chain immediately returns an
// UnrecoverableError wrapping the original cause.
func TestFallbackEmptyChain(t *testing.T) {
	chain := batch.NewFallbackChain(0, time.Millisecond, testHandler())
	cause := errors.New("primary conversion blew up")

	_, err := chain.Handle(context.Background(), cause, &batch.Task{SourcePath: "a.txt"})
	require.Error(t, err)

	var unrec *batch.UnrecoverableError
	require.ErrorAs(t, err, &unrec)
	assert.Equal(t, cause, unrec.Original)
	assert.Empty(t, unrec.Trail)
	assert.Contains(t, err.Error(), "no fallback strategy matched")
	assert.ErrorIs(t, err, cause, "Unwrap must expose the original error")
}

// TestFallbackSkipsNonMatching verifies strategies whose Matches predicate
// rejects the cause are never invoked.
func TestFallbackSkipsNonMatching(t *testing.T) {
	chain := batch.NewFallbackChain(0, time.Millisecond, testHandler())

	var invoked bool
	chain.Register(batch.FallbackStrategy{
		Name:    "wrong-domain",
		Matches: func(err error) bool { return false },
		Recover: func(ctx context.Context, task *batch.Task) ([]byte, error) {
			invoked = true
			return []byte("never"), nil
		},
	})
	chain.Register(batch.FallbackStrategy{
		Name:    "catch-all",
		Matches: func(err error) bool { return true },
		Recover: func(ctx context.Context, task *batch.Task) ([]byte, error) {
			return []byte("rescued"), nil
		},
	})

	content, err := chain.Handle(context.Background(), errors.New("boom"), &batch.Task{SourcePath: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, []byte("rescued"), content)
	assert.False(t, invoked, "non-matching strategy must be skipped")
}

// TestFallbackZeroRetriesUsesDefault verifies a chain constructed with the
// zero value still retries the package-default number of times, matching the
// breaker's treatment of non-positive settings.
func TestFallbackZeroRetriesUsesDefault(t *testing.T) {
	chain := batch.NewFallbackChain(0, time.Millisecond, testHandler())

	var calls int
	chain.Register(batch.FallbackStrategy{
		Name: "flaky",
		Recover: func(ctx context.Context, task *batch.Task) ([]byte, error) {
			calls++
			return nil, errors.New("still down")
		},
	})

	_, err := chain.Handle(context.Background(), errors.New("boom"), &batch.Task{SourcePath: "a.txt"})
	require.Error(t, err)
	assert.Equal(t, batch.DefaultFallbackMaxRetries+1, calls)
}

// TestFallbackRetriesThenSucceeds verifies a flaky strategy is retried with a
// delay and its eventual success ends the chain.
func TestFallbackRetriesThenSucceeds(t *testing.T) {
	chain := batch.NewFallbackChain(2, time.Millisecond, testHandler())

	var calls int
	chain.Register(batch.FallbackStrategy{
		Name: "flaky",
		Recover: func(ctx context.Context, task *batch.Task) ([]byte, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("not yet")
			}
			return []byte("third time lucky"), nil
		},
	})

	content, err := chain.Handle(context.Background(), errors.New("boom"), &batch.Task{SourcePath: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, []byte("third time lucky"), content)
	assert.Equal(t, 3, calls)
}

// TestFallbackExhaustionCollectsTrail verifies every failed attempt across
// every strategy lands in the trail, in order.
func TestFallbackExhaustionCollectsTrail(t *testing.T) {
	chain := batch.NewFallbackChain(1, time.Millisecond, testHandler())

	failing := func(name string) batch.FallbackStrategy {
		return batch.FallbackStrategy{
			Name: name,
			Recover: func(ctx context.Context, task *batch.Task) ([]byte, error) {
				return nil, errors.New(name + " failed")
			},
		}
	}
	chain.Register(failing("first"))
	chain.Register(failing("second"))

	cause := errors.New("boom")
	_, err := chain.Handle(context.Background(), cause, &batch.Task{SourcePath: "a.txt"})
	require.Error(t, err)

	var unrec *batch.UnrecoverableError
	require.ErrorAs(t, err, &unrec)
	// Two strategies, initial attempt plus one retry each.
	require.Len(t, unrec.Trail, 4)
	assert.Equal(t, "first", unrec.Trail[0].Strategy)
	assert.Equal(t, 0, unrec.Trail[0].Attempt)
	assert.Equal(t, "first", unrec.Trail[1].Strategy)
	assert.Equal(t, 1, unrec.Trail[1].Attempt)
	assert.Equal(t, "second", unrec.Trail[2].Strategy)
	assert.Equal(t, "second", unrec.Trail[3].Strategy)
	assert.Contains(t, err.Error(), "fallbacks attempted")
}

// TestFallbackCancelDuringBackoff verifies cancellation during the retry
// delay aborts the chain promptly.
func TestFallbackCancelDuringBackoff(t *testing.T) {
	chain := batch.NewFallbackChain(3, time.Hour, testHandler())

	var calls int
	chain.Register(batch.FallbackStrategy{
		Name: "slow",
		Recover: func(ctx context.Context, task *batch.Task) ([]byte, error) {
			calls++
			return nil, errors.New("still failing")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := chain.Handle(ctx, errors.New("boom"), &batch.Task{SourcePath: "a.txt"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "must not sit out the full backoff")
	assert.Equal(t, 1, calls, "cancellation arrives during the first backoff")

	var unrec *batch.UnrecoverableError
	require.ErrorAs(t, err, &unrec)
	assert.ErrorIs(t, unrec.Trail[len(unrec.Trail)-1].Err, context.Canceled)
}
