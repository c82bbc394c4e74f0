package application

import (
	"time"

	"github.com/felixgeelhaar/eventstore-go/domain/attachment"
	"github.com/felixgeelhaar/eventstore-go/domain/cache"
	"github.com/felixgeelhaar/eventstore-go/domain/event"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/domain/systemstream"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/collection"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/streaming"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Option configures the datastore.
type Option func(*DatastoreConfig)

// WithDriver sets the storage driver.
func WithDriver(d storage.Driver) Option {
	return func(c *DatastoreConfig) {
		c.Driver = d
	}
}

// WithDeletion sets the retention policy of deleted events.
func WithDeletion(mode event.DeletionMode, forceKeepHistory bool) Option {
	return func(c *DatastoreConfig) {
		c.Deletion = event.DeletionConfig{Mode: mode, ForceKeepHistory: forceKeepHistory}
	}
}

// WithIntegrity enables content hashing.
func WithIntegrity(enabled bool) Option {
	return func(c *DatastoreConfig) {
		c.Integrity = enabled
	}
}

// WithRegistry sets the system-stream registry.
func WithRegistry(r systemstream.Registry) Option {
	return func(c *DatastoreConfig) {
		c.Registry = r
	}
}

// WithAttachments sets the attachment store.
func WithAttachments(s attachment.Store) Option {
	return func(c *DatastoreConfig) {
		c.Attachments = s
	}
}

// WithCache sets the stream-tree cache.
func WithCache(cc cache.Cache, ttl time.Duration) Option {
	return func(c *DatastoreConfig) {
		c.Cache = cc
		c.CacheTTL = ttl
	}
}

// WithStreaming appends serializer options.
func WithStreaming(opts ...streaming.Option) Option {
	return func(c *DatastoreConfig) {
		c.Streaming = append(c.Streaming, opts...)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *DatastoreConfig) {
		c.Metrics = m
	}
}

// WithTracer sets the tracer for datastore spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *DatastoreConfig) {
		c.Tracer = t
	}
}

// WithClock sets the clock used for deletion and modification times.
func WithClock(now collection.Clock) Option {
	return func(c *DatastoreConfig) {
		c.Clock = now
	}
}

// WithConnectRetry sets the startup connection retry policy.
func WithConnectRetry(interval time.Duration, maxAttempts int) Option {
	return func(c *DatastoreConfig) {
		c.ConnectRetryInterval = interval
		c.ConnectMaxAttempts = maxAttempts
	}
}

// NewDatastoreWithOptions creates a datastore using functional options.
func NewDatastoreWithOptions(opts ...Option) (*Datastore, error) {
	config := DatastoreConfig{}
	for _, opt := range opts {
		opt(&config)
	}
	return NewDatastore(config)
}
