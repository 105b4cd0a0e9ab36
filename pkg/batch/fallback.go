package batch

import (
	"context"
	"log/slog"
	"time"
)

// FallbackStrategy is one alternate recovery routine. Matches decides whether
// the strategy applies to a given error; Recover attempts to produce the
// converted content by other means.
type FallbackStrategy struct {
	Name    string
	Matches func(err error) bool
	Recover func(ctx context.Context, task *Task) ([]byte, error)
}

// FallbackChain holds an ordered list of strategies consulted when the
// resilience guard denies a call or the primary conversion fails recoverably.
// Strategies are tried in registration order; a failing strategy is retried a
// bounded number of times with a delay before the chain falls through to the
// next one.
type FallbackChain struct {
	strategies []FallbackStrategy
	maxRetries int
	delay      time.Duration
	logger     *slog.Logger
}

// NewFallbackChain creates an empty chain. Non-positive retry or delay
// settings fall back to the package defaults.
func NewFallbackChain(maxRetries int, delay time.Duration, loggerHandler slog.Handler) *FallbackChain {
	if maxRetries <= 0 {
		maxRetries = DefaultFallbackMaxRetries
	}
	if delay <= 0 {
		delay = DefaultFallbackDelay
	}
	return &FallbackChain{
		maxRetries: maxRetries,
		delay:      delay,
		logger:     slog.New(loggerHandler).With(slog.String("component", "fallback")),
	}
}

// Register appends a strategy to the chain. The chain stays extensible by
// appending; order is significant.
func (c *FallbackChain) Register(s FallbackStrategy) {
	c.strategies = append(c.strategies, s)
}

// Len returns the number of registered strategies.
func (c *FallbackChain) Len() int { return len(c.strategies) }

// Handle routes a recoverable error (or a circuit denial) through the chain.
// It returns the recovered content, or an *UnrecoverableError carrying the
// original error plus the full trail of failed attempts.
func (c *FallbackChain) Handle(ctx context.Context, cause error, task *Task) ([]byte, error) {
	var trail []FallbackAttempt

	for _, s := range c.strategies {
		if s.Matches != nil && !s.Matches(cause) {
			continue
		}
		for attempt := 0; attempt <= c.maxRetries; attempt++ {
			if attempt > 0 {
				// Linear backoff between retries of the same strategy.
				select {
				case <-ctx.Done():
					trail = append(trail, FallbackAttempt{Strategy: s.Name, Attempt: attempt, Err: ctx.Err()})
					return nil, &UnrecoverableError{Original: cause, Trail: trail}
				case <-time.After(time.Duration(attempt) * c.delay):
				}
			}
			content, err := s.Recover(ctx, task)
			if err == nil {
				c.logger.Info("Fallback strategy recovered task",
					slog.String("strategy", s.Name),
					slog.String("path", task.SourcePath),
					slog.Int("attempt", attempt))
				return content, nil
			}
			trail = append(trail, FallbackAttempt{Strategy: s.Name, Attempt: attempt, Err: err})
			c.logger.Debug("Fallback strategy attempt failed",
				slog.String("strategy", s.Name),
				slog.String("path", task.SourcePath),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
	}

	return nil, &UnrecoverableError{Original: cause, Trail: trail}
}
