// Package mongodb provides the document database implementation of
// storage.Driver.
package mongodb

import (
	"errors"
	"time"

	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
)

// Config holds MongoDB connection configuration.
type Config struct {
	// URI is the connection string.
	URI string

	// Database is the database holding every collection.
	Database string

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration

	// QueryTimeout bounds single-round-trip operations. Cursors are bounded
	// by the caller's context only.
	QueryTimeout time.Duration

	// MaxPoolSize is the maximum number of pooled connections.
	MaxPoolSize uint64

	// BatchSize is the number of documents fetched per cursor round trip.
	BatchSize int32

	// Metrics records connection attempts.
	Metrics telemetry.Metrics
}

// Option configures the driver.
type Option func(*Config)

// WithURI sets the connection string.
func WithURI(uri string) Option {
	return func(c *Config) {
		c.URI = uri
	}
}

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(c *Config) {
		c.Database = name
	}
}

// WithQueryTimeout sets the per-operation timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.QueryTimeout = d
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "eventstore",
		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   30 * time.Second,
		MaxPoolSize:    100,
		BatchSize:      1000,
	}
}

// Errors
var (
	ErrConnectionFailed = errors.New("mongodb: connection failed")
	ErrIndexFailed      = errors.New("mongodb: index creation failed")
)
