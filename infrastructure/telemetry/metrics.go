// Package telemetry provides OpenTelemetry metrics for the storage layer.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsProvider provides access to metrics instruments.
type MetricsProvider struct {
	meter metric.Meter

	// Counters
	operations         metric.Int64Counter
	errors             metric.Int64Counter
	duplicates         metric.Int64Counter
	integrityRestamps  metric.Int64Counter
	integrityMismatch  metric.Int64Counter
	streamedItems      metric.Int64Counter
	cacheHits          metric.Int64Counter
	cacheMisses        metric.Int64Counter
	connectionAttempts metric.Int64Counter

	// Histograms
	operationDuration metric.Float64Histogram

	initErr error
}

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	// MeterName is the name of the meter (default: "github.com/felixgeelhaar/eventstore-go").
	MeterName string
	// MeterVersion is the version of the meter.
	MeterVersion string
	// Provider overrides the global meter provider.
	Provider metric.MeterProvider
}

// DefaultMetricsConfig returns a default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MeterName:    "github.com/felixgeelhaar/eventstore-go",
		MeterVersion: "1.0.0",
	}
}

// NewMetricsProvider creates a new metrics provider.
func NewMetricsProvider(config MetricsConfig) *MetricsProvider {
	defaults := DefaultMetricsConfig()
	if config.MeterName == "" {
		config.MeterName = defaults.MeterName
		config.MeterVersion = defaults.MeterVersion
	}

	provider := config.Provider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(
		config.MeterName,
		metric.WithInstrumentationVersion(config.MeterVersion),
	)

	mp := &MetricsProvider{meter: meter}
	mp.initErr = mp.initInstruments()
	return mp
}

// initInstruments initializes all metric instruments.
func (mp *MetricsProvider) initInstruments() error {
	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&mp.operations, "storage.operations", "Number of storage operations", "{operation}"},
		{&mp.errors, "storage.errors", "Number of failed storage operations", "{error}"},
		{&mp.duplicates, "storage.duplicates", "Number of uniqueness violations", "{violation}"},
		{&mp.integrityRestamps, "storage.integrity.restamps", "Documents re-stamped after bulk updates", "{document}"},
		{&mp.integrityMismatch, "storage.integrity.mismatches", "Bulk updates whose re-stamp count differs from the modified count", "{batch}"},
		{&mp.streamedItems, "streaming.items", "Items written by the streaming serializer", "{item}"},
		{&mp.cacheHits, "cache.hits", "Number of cache hits", "{hit}"},
		{&mp.cacheMisses, "cache.misses", "Number of cache misses", "{miss}"},
		{&mp.connectionAttempts, "storage.connection.attempts", "Database connection attempts", "{attempt}"},
	}

	for _, c := range counters {
		counter, err := mp.meter.Int64Counter(
			c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return err
		}
		*c.target = counter
	}

	var err error
	mp.operationDuration, err = mp.meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations"),
		metric.WithUnit("ms"),
	)
	return err
}

// Error returns any initialization error.
func (mp *MetricsProvider) Error() error {
	return mp.initErr
}

// RecordOperation records a storage operation and its outcome.
func (mp *MetricsProvider) RecordOperation(ctx context.Context, collection, operation string, err error, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("collection", collection),
		attribute.String("operation", operation),
		attribute.Bool("success", err == nil),
	}

	mp.operations.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.operationDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		mp.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("collection", collection),
			attribute.String("operation", operation),
		))
	}
}

// RecordDuplicate records a uniqueness violation on a logical field.
func (mp *MetricsProvider) RecordDuplicate(ctx context.Context, collection, field string) {
	mp.duplicates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("field", field),
	))
}

// RecordIntegrityRestamp records documents re-stamped by a bulk update.
func (mp *MetricsProvider) RecordIntegrityRestamp(ctx context.Context, collection string, count int64) {
	mp.integrityRestamps.Add(ctx, count, metric.WithAttributes(
		attribute.String("collection", collection),
	))
}

// RecordIntegrityMismatch records a bulk update whose re-stamp count did not
// match the modified count.
func (mp *MetricsProvider) RecordIntegrityMismatch(ctx context.Context, collection string, modified, restamped int64) {
	mp.integrityMismatch.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int64("modified", modified),
		attribute.Int64("restamped", restamped),
	))
}

// RecordStreamedItems records items written for a named result array.
func (mp *MetricsProvider) RecordStreamedItems(ctx context.Context, name string, count int64) {
	mp.streamedItems.Add(ctx, count, metric.WithAttributes(
		attribute.String("stream", name),
	))
}

// RecordCacheHit records a cache hit.
func (mp *MetricsProvider) RecordCacheHit(ctx context.Context, cacheName string) {
	mp.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", cacheName)))
}

// RecordCacheMiss records a cache miss.
func (mp *MetricsProvider) RecordCacheMiss(ctx context.Context, cacheName string) {
	mp.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", cacheName)))
}

// RecordConnectionAttempt records a database connection attempt.
func (mp *MetricsProvider) RecordConnectionAttempt(ctx context.Context, engine string, success bool) {
	mp.connectionAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.Bool("success", success),
	))
}

// NoopMetricsProvider is a no-op metrics provider for testing or when metrics are disabled.
type NoopMetricsProvider struct{}

// RecordOperation is a no-op.
func (NoopMetricsProvider) RecordOperation(context.Context, string, string, error, time.Duration) {}

// RecordDuplicate is a no-op.
func (NoopMetricsProvider) RecordDuplicate(context.Context, string, string) {}

// RecordIntegrityRestamp is a no-op.
func (NoopMetricsProvider) RecordIntegrityRestamp(context.Context, string, int64) {}

// RecordIntegrityMismatch is a no-op.
func (NoopMetricsProvider) RecordIntegrityMismatch(context.Context, string, int64, int64) {}

// RecordStreamedItems is a no-op.
func (NoopMetricsProvider) RecordStreamedItems(context.Context, string, int64) {}

// RecordCacheHit is a no-op.
func (NoopMetricsProvider) RecordCacheHit(context.Context, string) {}

// RecordCacheMiss is a no-op.
func (NoopMetricsProvider) RecordCacheMiss(context.Context, string) {}

// RecordConnectionAttempt is a no-op.
func (NoopMetricsProvider) RecordConnectionAttempt(context.Context, string, bool) {}

// Metrics defines the interface for metrics recording.
type Metrics interface {
	RecordOperation(ctx context.Context, collection, operation string, err error, duration time.Duration)
	RecordDuplicate(ctx context.Context, collection, field string)
	RecordIntegrityRestamp(ctx context.Context, collection string, count int64)
	RecordIntegrityMismatch(ctx context.Context, collection string, modified, restamped int64)
	RecordStreamedItems(ctx context.Context, name string, count int64)
	RecordCacheHit(ctx context.Context, cacheName string)
	RecordCacheMiss(ctx context.Context, cacheName string)
	RecordConnectionAttempt(ctx context.Context, engine string, success bool)
}

// Ensure implementations satisfy the interface.
var (
	_ Metrics = (*MetricsProvider)(nil)
	_ Metrics = NoopMetricsProvider{}
)
