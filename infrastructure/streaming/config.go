// Package streaming serializes named result streams into one JSON object,
// emitting each array incrementally in bounded fragments.
package streaming

import (
	"time"

	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
)

// Defaults for the fragment thresholds and the drain bound.
const (
	DefaultBatchSize  = 1000
	DefaultMaxWait    = 50 * time.Millisecond
	DefaultDrainLimit = 100000
)

// Config configures a Result.
type Config struct {
	// BatchSize is the item count that flushes an array fragment.
	BatchSize int

	// MaxWait is the time since the last flush after which a partial
	// fragment is flushed.
	MaxWait time.Duration

	// DrainLimit bounds the total items ToObject may collect.
	DrainLimit int

	// Metrics records streamed item counts.
	Metrics telemetry.Metrics
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:  DefaultBatchSize,
		MaxWait:    DefaultMaxWait,
		DrainLimit: DefaultDrainLimit,
		Metrics:    telemetry.NoopMetricsProvider{},
	}
}

// Option configures a Result.
type Option func(*Config)

// WithBatchSize sets the fragment item count.
func WithBatchSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.BatchSize = n
		}
	}
}

// WithMaxWait sets the fragment flush delay.
func WithMaxWait(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxWait = d
		}
	}
}

// WithDrainLimit sets the drain bound.
func WithDrainLimit(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.DrainLimit = n
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.Metrics = m
		}
	}
}
