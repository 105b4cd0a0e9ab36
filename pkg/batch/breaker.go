package batch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CircuitState enumerates the breaker states.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the lower-case state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	}
	return fmt.Sprintf("circuit(%d)", int(s))
}

// Breaker is a circuit breaker guarding calls to the conversion function.
// One instance is shared by every worker calling the same function, so a
// systemically failing conversion routine stops serializing all workers
// behind slow, doomed retries.
//
// All state transitions happen under a single mutex. In particular the
// open→half-open promotion admits exactly one caller as the trial, no matter
// how many workers arrive at reset-timeout expiry concurrently.
type Breaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool

	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
	logger           *slog.Logger
}

// NewBreaker creates a closed breaker. A non-positive threshold or timeout
// falls back to the package defaults.
func NewBreaker(failureThreshold int, resetTimeout time.Duration, loggerHandler slog.Handler) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &Breaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		logger:           slog.New(loggerHandler).With(slog.String("component", "breaker")),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call executes op through the breaker. While the circuit is open (and the
// reset timeout has not elapsed) the operation is not invoked and
// ErrCircuitOpen is returned immediately.
func (b *Breaker) Call(op func() ([]byte, error)) ([]byte, error) {
	trial, err := b.admit()
	if err != nil {
		return nil, err
	}

	content, opErr := op()
	b.settle(trial, opErr)
	return content, opErr
}

// admit decides whether the caller may invoke the operation. The returned
// flag marks the caller as the half-open trial.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return false, nil
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		// Reset timeout elapsed: the next (and only the next) caller goes
		// through as the trial.
		b.state = CircuitHalfOpen
		b.trialInFlight = true
		b.logger.Info("Circuit half-open, admitting trial call")
		return true, nil
	case CircuitHalfOpen:
		// A trial is already in flight; everyone else is rejected.
		return false, ErrCircuitOpen
	}
	return false, nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(trial bool, opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
		if opErr == nil {
			b.state = CircuitClosed
			b.consecutiveFailures = 0
			b.logger.Info("Trial call succeeded, circuit closed")
		} else {
			b.state = CircuitOpen
			b.openedAt = b.now()
			b.logger.Warn("Trial call failed, circuit re-opened",
				slog.Duration("resetTimeout", b.resetTimeout))
		}
		return
	}

	// Non-trial outcomes only matter while closed; a late result from a call
	// admitted before the circuit tripped must not disturb open/half-open
	// bookkeeping.
	if b.state != CircuitClosed {
		return
	}
	if opErr == nil {
		b.consecutiveFailures = 0
		return
	}
	b.consecutiveFailures++
	if b.consecutiveFailures >= b.failureThreshold {
		b.state = CircuitOpen
		b.openedAt = b.now()
		b.logger.Warn("Failure threshold reached, circuit opened",
			slog.Int("consecutiveFailures", b.consecutiveFailures),
			slog.Duration("resetTimeout", b.resetTimeout))
	}
}
