// Package observability provides OpenTelemetry tracing for the storage layer
// and the HTTP harness.
package observability

import (
	"io"
	"time"
)

// ExporterType identifies a span exporter.
type ExporterType string

// Exporter types.
const (
	// ExporterOTLP exports spans over OTLP/gRPC.
	ExporterOTLP ExporterType = "otlp"
	// ExporterStdout writes spans as JSON.
	ExporterStdout ExporterType = "stdout"
	// ExporterNoop discards spans.
	ExporterNoop ExporterType = "noop"
)

// Config configures tracing.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Enabled turns on span export. A disabled provider hands out no-op
	// tracers.
	Enabled bool
	// Exporter selects the span exporter.
	Exporter ExporterType
	// Endpoint is the collector address for OTLP.
	Endpoint string
	// Insecure disables TLS towards the collector.
	Insecure bool
	// SampleRate is the ratio of traces kept, between 0 and 1.
	SampleRate float64
	// BatchTimeout is the maximum delay before a batch is exported.
	BatchTimeout time.Duration
	// MaxExportBatchSize bounds spans per export.
	MaxExportBatchSize int
	// Writer receives stdout spans. Defaults to os.Stdout.
	Writer io.Writer
	// Global installs the provider and propagators as the otel globals.
	Global bool
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "eventstore",
		ServiceVersion:     "dev",
		Environment:        "development",
		Exporter:           ExporterNoop,
		SampleRate:         1.0,
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		Global:             true,
	}
}

// Option configures tracing.
type Option func(*Config)

// WithServiceName sets the service name.
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

// WithServiceVersion sets the service version.
func WithServiceVersion(version string) Option {
	return func(c *Config) {
		c.ServiceVersion = version
	}
}

// WithEnvironment sets the deployment environment.
func WithEnvironment(env string) Option {
	return func(c *Config) {
		c.Environment = env
	}
}

// WithExporter enables tracing with the given exporter.
func WithExporter(exporter ExporterType, endpoint string) Option {
	return func(c *Config) {
		c.Enabled = true
		c.Exporter = exporter
		c.Endpoint = endpoint
	}
}

// WithInsecure disables TLS towards the collector.
func WithInsecure() Option {
	return func(c *Config) {
		c.Insecure = true
	}
}

// WithSampleRate sets the trace sampling rate.
func WithSampleRate(rate float64) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithBatchTimeout sets the export batch timeout.
func WithBatchTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.BatchTimeout = d
	}
}

// WithWriter redirects stdout spans.
func WithWriter(w io.Writer) Option {
	return func(c *Config) {
		c.Writer = w
	}
}

// WithoutGlobal keeps the provider out of the otel globals.
func WithoutGlobal() Option {
	return func(c *Config) {
		c.Global = false
	}
}
