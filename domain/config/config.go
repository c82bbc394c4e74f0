// Package config provides domain models for server configuration.
package config

import "time"

// ServerConfig represents the complete storage server configuration.
type ServerConfig struct {
	// Name is a human-readable name for this deployment.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Database selects and configures the storage engine.
	Database DatabaseConfig `json:"database" yaml:"database"`
	// Deletion configures the retention policy of deleted events.
	Deletion DeletionConfig `json:"deletion,omitempty" yaml:"deletion,omitempty"`
	// Integrity configures content hashing.
	Integrity IntegrityConfig `json:"integrity,omitempty" yaml:"integrity,omitempty"`
	// Streaming configures the response serializer.
	Streaming StreamingConfig `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	// Cache configures the stream-tree cache.
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
	// Attachments configures on-disk attachment storage.
	Attachments AttachmentsConfig `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	// SystemStreams lists the account fields backed by system streams.
	SystemStreams []SystemStreamConfig `json:"system_streams,omitempty" yaml:"system_streams,omitempty"`
	// Logging configures the logger.
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
	// HTTP configures the HTTP harness.
	HTTP HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`
	// Tracing configures span export.
	Tracing TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// DatabaseConfig selects the storage engine.
type DatabaseConfig struct {
	// Engine is "mongodb" or "sqlite".
	Engine string `json:"engine" yaml:"engine"`
	// MongoDB configures the document database engine.
	MongoDB MongoDBConfig `json:"mongodb,omitempty" yaml:"mongodb,omitempty"`
	// SQLite configures the embedded engine.
	SQLite SQLiteConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	// ConnectRetryInterval is the fixed delay between startup connection
	// attempts.
	ConnectRetryInterval Duration `json:"connect_retry_interval,omitempty" yaml:"connect_retry_interval,omitempty"`
}

// MongoDBConfig configures the document database engine.
type MongoDBConfig struct {
	// URI is the connection string.
	URI string `json:"uri" yaml:"uri"`
	// Database is the database name.
	Database string `json:"database" yaml:"database"`
	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	// MaxPoolSize limits the connection pool.
	MaxPoolSize uint64 `json:"max_pool_size,omitempty" yaml:"max_pool_size,omitempty"`
}

// SQLiteConfig configures the embedded engine.
type SQLiteConfig struct {
	// Path is the database file.
	Path string `json:"path" yaml:"path"`
	// BusyTimeout is how long writers wait for a lock.
	BusyTimeout Duration `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"`
	// JournalMode is the SQLite journal mode (default WAL).
	JournalMode string `json:"journal_mode,omitempty" yaml:"journal_mode,omitempty"`
}

// DeletionConfig configures the retention policy of deleted events.
type DeletionConfig struct {
	// Mode is keep-nothing, keep-authors or keep-everything.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
	// ForceKeepHistory snapshots every update and delete.
	ForceKeepHistory bool `json:"force_keep_history,omitempty" yaml:"force_keep_history,omitempty"`
}

// IntegrityConfig configures content hashing.
type IntegrityConfig struct {
	// Enabled stamps events with an integrity hash.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// StreamingConfig configures the response serializer.
type StreamingConfig struct {
	// BatchSize is the item count flushing an array fragment.
	BatchSize int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	// MaxWait is the delay flushing a partial fragment.
	MaxWait Duration `json:"max_wait,omitempty" yaml:"max_wait,omitempty"`
	// DrainLimit bounds the items collected by non-streaming callers.
	DrainLimit int `json:"drain_limit,omitempty" yaml:"drain_limit,omitempty"`
}

// CacheConfig configures the stream-tree cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// TTL expires cached trees.
	TTL Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	// MaxSize bounds the in-memory cache entries.
	MaxSize int `json:"max_size,omitempty" yaml:"max_size,omitempty"`
	// Redis configures the shared backend.
	Redis RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// RedisConfig configures the shared cache backend.
type RedisConfig struct {
	Address   string `json:"address,omitempty" yaml:"address,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

// AttachmentsConfig configures on-disk attachment storage.
type AttachmentsConfig struct {
	// Path is the root directory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// SystemStreamConfig declares an account field backed by a system stream.
type SystemStreamConfig struct {
	// Name is the field name.
	Name string `json:"name" yaml:"name"`
	// StreamID overrides the default system stream id.
	StreamID string `json:"stream_id,omitempty" yaml:"stream_id,omitempty"`
	// Unique allows a single active value per user.
	Unique bool `json:"unique,omitempty" yaml:"unique,omitempty"`
	// Indexed requests a secondary index.
	Indexed bool `json:"indexed,omitempty" yaml:"indexed,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is json or console.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// HTTPConfig configures the HTTP harness.
type HTTPConfig struct {
	// Address is the listen address.
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled turns on span export.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Exporter is otlp, stdout or noop.
	Exporter string `json:"exporter,omitempty" yaml:"exporter,omitempty"`
	// Endpoint is the OTLP collector address.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// Insecure disables TLS towards the collector.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	// SampleRate is the ratio of traces kept.
	SampleRate float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	// Environment is the deployment environment reported on spans.
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// Default returns a configuration for a local SQLite deployment.
func Default() *ServerConfig {
	return &ServerConfig{
		Name: "eventstore",
		Database: DatabaseConfig{
			Engine:               "sqlite",
			SQLite:               SQLiteConfig{Path: "eventstore.db", BusyTimeout: Duration(5 * time.Second), JournalMode: "WAL"},
			ConnectRetryInterval: Duration(time.Second),
		},
		Deletion:    DeletionConfig{Mode: "keep-nothing"},
		Integrity:   IntegrityConfig{Enabled: true},
		Streaming:   StreamingConfig{BatchSize: 1000, MaxWait: Duration(50 * time.Millisecond), DrainLimit: 100000},
		Cache:       CacheConfig{Backend: "memory", TTL: Duration(10 * time.Minute), MaxSize: 1000},
		Attachments: AttachmentsConfig{Path: "attachments"},
		Logging:     LoggingConfig{Level: "info", Format: "json"},
		HTTP:        HTTPConfig{Address: ":3000", ShutdownTimeout: Duration(10 * time.Second)},
		Tracing:     TracingConfig{Exporter: "noop", SampleRate: 1.0},
	}
}

// Duration is a time.Duration that supports JSON/YAML string representation.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
