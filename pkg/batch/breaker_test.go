package batch

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardHandler() slog.Handler {
	return slog.NewTextHandler(io.Discard, nil)
}

// fakeClock is an adjustable time source for breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestBreakerTripsAtThreshold verifies the breaker opens after exactly the
// configured number of consecutive failures and short-circuits afterwards.
func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute, discardHandler())

	var invocations atomic.Int64
	failingOp := func() ([]byte, error) {
		invocations.Add(1)
		return nil, errors.New("boom")
	}

	for i := 0; i < 3; i++ {
		_, err := b.Call(failingOp)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrCircuitOpen, "call %d must reach the operation", i+1)
	}
	assert.Equal(t, CircuitOpen, b.State())

	// The next call must be rejected without invoking the operation.
	_, err := b.Call(failingOp)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int64(3), invocations.Load())
}

// TestBreakerSuccessResetsFailureCount verifies that an intermittent success
// resets the consecutive failure counter.
func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute, discardHandler())

	fail := func() ([]byte, error) { return nil, errors.New("boom") }
	ok := func() ([]byte, error) { return []byte("out"), nil }

	_, _ = b.Call(fail)
	_, _ = b.Call(fail)
	_, err := b.Call(ok)
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, b.State())

	// Two more failures do not trip; the third consecutive one does.
	_, _ = b.Call(fail)
	_, _ = b.Call(fail)
	assert.Equal(t, CircuitClosed, b.State())
	_, _ = b.Call(fail)
	assert.Equal(t, CircuitOpen, b.State())
}

// TestBreakerHalfOpenAdmitsSingleTrial verifies that at reset-timeout expiry
// exactly one caller is admitted as the trial, no matter how many arrive.
func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewBreaker(1, 30*time.Second, discardHandler())
	b.now = clock.Now

	_, err := b.Call(func() ([]byte, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	require.Equal(t, CircuitOpen, b.State())

	clock.Advance(31 * time.Second)

	trialEntered := make(chan struct{})
	release := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		_, trialErr := b.Call(func() ([]byte, error) {
			close(trialEntered)
			<-release
			return []byte("recovered"), nil
		})
		trialDone <- trialErr
	}()
	<-trialEntered
	assert.Equal(t, CircuitHalfOpen, b.State())

	// Every other caller is rejected while the trial is in flight.
	var rejected int
	for i := 0; i < 5; i++ {
		if _, callErr := b.Call(func() ([]byte, error) { return nil, nil }); errors.Is(callErr, ErrCircuitOpen) {
			rejected++
		}
	}
	assert.Equal(t, 5, rejected)

	close(release)
	require.NoError(t, <-trialDone)
	assert.Equal(t, CircuitClosed, b.State())
}

// TestBreakerTrialFailureReopens verifies that a failed trial re-opens the
// circuit for another full reset timeout.
func TestBreakerTrialFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewBreaker(1, 30*time.Second, discardHandler())
	b.now = clock.Now

	_, _ = b.Call(func() ([]byte, error) { return nil, errors.New("boom") })
	require.Equal(t, CircuitOpen, b.State())

	clock.Advance(31 * time.Second)
	_, err := b.Call(func() ([]byte, error) { return nil, errors.New("still broken") })
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, CircuitOpen, b.State())

	// Still within the new cooldown window.
	clock.Advance(10 * time.Second)
	_, err = b.Call(func() ([]byte, error) { return []byte("x"), nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

// TestBreakerDefaults verifies non-positive settings fall back to defaults.
func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(0, 0, discardHandler())
	assert.Equal(t, DefaultFailureThreshold, b.failureThreshold)
	assert.Equal(t, DefaultResetTimeout, b.resetTimeout)
}
