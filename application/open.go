package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/eventstore-go/domain/cache"
	"github.com/felixgeelhaar/eventstore-go/domain/config"
	"github.com/felixgeelhaar/eventstore-go/domain/event"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/domain/systemstream"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/filesystem"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/memory"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/mongodb"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/redis"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/sqlite"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/streaming"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
)

// ErrUnknownEngine is returned for an unsupported database engine.
var ErrUnknownEngine = errors.New("unknown database engine")

// Open builds a datastore from a server configuration and waits for the
// database. Options are applied after the configuration and override it.
func Open(ctx context.Context, cfg *config.ServerConfig, opts ...Option) (*Datastore, error) {
	dc := DatastoreConfig{
		Deletion: event.DeletionConfig{
			Mode:             event.DeletionMode(cfg.Deletion.Mode),
			ForceKeepHistory: cfg.Deletion.ForceKeepHistory,
		},
		Integrity:            cfg.Integrity.Enabled,
		Registry:             Registry(cfg.SystemStreams),
		CacheTTL:             time.Duration(cfg.Cache.TTL),
		ConnectRetryInterval: time.Duration(cfg.Database.ConnectRetryInterval),
	}
	for _, opt := range opts {
		opt(&dc)
	}
	if dc.Metrics == nil {
		dc.Metrics = telemetry.NoopMetricsProvider{}
	}
	dc.Streaming = append(streamingOptions(cfg.Streaming), dc.Streaming...)

	if dc.Driver == nil {
		driver, err := NewDriver(cfg.Database, dc.Metrics)
		if err != nil {
			return nil, err
		}
		dc.Driver = driver
	}

	if dc.Cache == nil {
		c, err := NewCache(ctx, cfg.Cache)
		if err != nil {
			return nil, err
		}
		dc.Cache = c
	}

	if dc.Attachments == nil && cfg.Attachments.Path != "" {
		a, err := filesystem.NewAttachmentStore(cfg.Attachments.Path)
		if err != nil {
			return nil, fmt.Errorf("attachment store: %w", err)
		}
		dc.Attachments = a
	}

	ds, err := NewDatastore(dc)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Add(logging.Engine(dc.Driver.Engine())).
		Add(logging.Str("deletion_mode", string(ds.Events().DeletionMode()))).
		Msg("connecting to database")

	if err := ds.Connect(ctx); err != nil {
		_ = ds.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return ds, nil
}

// NewDriver creates the driver selected by the database configuration.
func NewDriver(cfg config.DatabaseConfig, metrics telemetry.Metrics) (storage.Driver, error) {
	switch storage.Engine(cfg.Engine) {
	case storage.EngineSQLite, "":
		sc := sqlite.DefaultConfig()
		opts := []sqlite.Option{sqlite.WithMetrics(metrics)}
		if cfg.SQLite.Path != "" {
			opts = append(opts, sqlite.WithPath(cfg.SQLite.Path))
		}
		if cfg.SQLite.JournalMode != "" {
			opts = append(opts, sqlite.WithJournalMode(cfg.SQLite.JournalMode))
		}
		if cfg.SQLite.BusyTimeout > 0 {
			opts = append(opts, sqlite.WithBusyTimeout(time.Duration(cfg.SQLite.BusyTimeout)))
		}
		return sqlite.New(sc, opts...), nil

	case storage.EngineMongoDB:
		mc := mongodb.DefaultConfig()
		if cfg.MongoDB.ConnectTimeout > 0 {
			mc.ConnectTimeout = time.Duration(cfg.MongoDB.ConnectTimeout)
		}
		if cfg.MongoDB.MaxPoolSize > 0 {
			mc.MaxPoolSize = cfg.MongoDB.MaxPoolSize
		}
		opts := []mongodb.Option{mongodb.WithMetrics(metrics)}
		if cfg.MongoDB.URI != "" {
			opts = append(opts, mongodb.WithURI(cfg.MongoDB.URI))
		}
		if cfg.MongoDB.Database != "" {
			opts = append(opts, mongodb.WithDatabase(cfg.MongoDB.Database))
		}
		return mongodb.New(mc, opts...), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}

// NewCache creates the stream-tree cache selected by the configuration. The
// "none" backend disables caching and returns nil.
func NewCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil

	case "", "memory":
		var opts []memory.CacheOption
		if cfg.MaxSize > 0 {
			opts = append(opts, memory.WithMaxSize(cfg.MaxSize))
		}
		return memory.NewCache(opts...), nil

	case "redis":
		var opts []redis.ConfigOption
		if cfg.Redis.Address != "" {
			opts = append(opts, redis.WithAddress(cfg.Redis.Address))
		}
		if cfg.Redis.Password != "" {
			opts = append(opts, redis.WithPassword(cfg.Redis.Password))
		}
		if cfg.Redis.DB != 0 {
			opts = append(opts, redis.WithDB(cfg.Redis.DB))
		}
		if cfg.Redis.KeyPrefix != "" {
			opts = append(opts, redis.WithKeyPrefix(cfg.Redis.KeyPrefix))
		}
		c, err := redis.NewCache(ctx, redis.DefaultConfig(), opts...)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Registry builds the system-stream registry from its configuration.
func Registry(fields []config.SystemStreamConfig) systemstream.Registry {
	if len(fields) == 0 {
		return systemstream.Empty
	}
	out := make([]systemstream.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, systemstream.Field{
			StreamID: f.StreamID,
			Name:     f.Name,
			Unique:   f.Unique,
			Indexed:  f.Indexed,
		})
	}
	return systemstream.NewStatic(out...)
}

func streamingOptions(cfg config.StreamingConfig) []streaming.Option {
	var opts []streaming.Option
	if cfg.BatchSize > 0 {
		opts = append(opts, streaming.WithBatchSize(cfg.BatchSize))
	}
	if cfg.MaxWait > 0 {
		opts = append(opts, streaming.WithMaxWait(time.Duration(cfg.MaxWait)))
	}
	if cfg.DrainLimit > 0 {
		opts = append(opts, streaming.WithDrainLimit(cfg.DrainLimit))
	}
	return opts
}
