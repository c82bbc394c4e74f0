// Package resilience provides the startup retry used while waiting for the
// database to become reachable.
package resilience

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
)

// StartupConfig configures the retry-until-available loop.
type StartupConfig struct {
	// Interval is the fixed delay between attempts.
	Interval time.Duration

	// MaxAttempts bounds the number of attempts. Zero retries until the
	// context is cancelled.
	MaxAttempts int

	// Component names the dependency in log output.
	Component string

	// OnAttempt is called after every attempt with its outcome.
	OnAttempt func(attempt int, err error)
}

// DefaultStartupConfig returns a configuration retrying every second forever.
func DefaultStartupConfig() StartupConfig {
	return StartupConfig{
		Interval:  time.Second,
		Component: "database",
	}
}

// Option configures the startup retry.
type Option func(*StartupConfig)

// WithInterval sets the delay between attempts.
func WithInterval(d time.Duration) Option {
	return func(c *StartupConfig) {
		c.Interval = d
	}
}

// WithMaxAttempts bounds the number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *StartupConfig) {
		c.MaxAttempts = n
	}
}

// WithComponent sets the dependency name used in logs.
func WithComponent(name string) Option {
	return func(c *StartupConfig) {
		c.Component = name
	}
}

// WithOnAttempt registers an attempt observer.
func WithOnAttempt(fn func(attempt int, err error)) Option {
	return func(c *StartupConfig) {
		c.OnAttempt = fn
	}
}

// RetryUntilAvailable calls fn until it succeeds, the attempts are exhausted
// or ctx is done. Failed attempts are logged at warn level.
func RetryUntilAvailable[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	config := DefaultStartupConfig()
	for _, opt := range opts {
		opt(&config)
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultStartupConfig().Interval
	}

	r := retry.New[T](retry.Config{
		MaxAttempts:   maxAttempts,
		InitialDelay:  interval,
		BackoffPolicy: retry.BackoffExponential,
		Multiplier:    1.0,
	})

	var attempts atomic.Int64
	return r.Do(ctx, func(ctx context.Context) (T, error) {
		attempt := int(attempts.Add(1))
		v, err := fn(ctx)
		if config.OnAttempt != nil {
			config.OnAttempt(attempt, err)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return v, ctxErr
			}
			logging.Warn().
				Add(logging.Component(config.Component)).
				Add(logging.Attempt(attempt)).
				Add(logging.ErrorField(err)).
				Msg("dependency unavailable, retrying")
		}
		return v, err
	})
}
