// Package sqlite provides the embedded relational storage driver.
//
// Each collection is a table of JSON documents keyed by _id. Filters are
// rendered to SQL over json_extract and json_each, indexes are expression
// indexes, and partial updates are applied in Go inside a transaction.
package sqlite

import (
	"database/sql"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
)

// Config configures SQLite storage.
type Config struct {
	// Path is the database file.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum idle time for connections.
	ConnMaxIdleTime time.Duration

	// JournalMode sets the SQLite journal mode (e.g., "WAL").
	JournalMode string

	// BusyTimeout is how long a writer waits for the database lock.
	BusyTimeout time.Duration

	// Metrics records connection attempts.
	Metrics telemetry.Metrics
}

// Option configures SQLite storage.
type Option func(*Config)

// WithPath sets the database file.
func WithPath(path string) Option {
	return func(c *Config) {
		c.Path = path
	}
}

// WithMaxOpenConns sets the maximum open connections.
func WithMaxOpenConns(n int) Option {
	return func(c *Config) {
		c.MaxOpenConns = n
	}
}

// WithJournalMode sets the SQLite journal mode.
func WithJournalMode(mode string) Option {
	return func(c *Config) {
		c.JournalMode = mode
	}
}

// WithBusyTimeout sets the busy timeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.BusyTimeout = d
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Path:            "eventstore.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		JournalMode:     "WAL",
		BusyTimeout:     5 * time.Second,
	}
}

// Errors
var (
	ErrConnectionFailed = errors.New("sqlite: connection failed")
	ErrMigrationFailed  = errors.New("sqlite: migration failed")
)

// dsn builds the data source name. Connection settings travel as DSN
// parameters so that every pooled connection gets them; write transactions
// take the lock up front.
func dsn(cfg Config) string {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_foreign_keys", "on")
	if cfg.BusyTimeout > 0 {
		params.Set("_busy_timeout", strconv.FormatInt(cfg.BusyTimeout.Milliseconds(), 10))
	}
	if cfg.JournalMode != "" && !isMemory(cfg.Path) {
		params.Set("_journal_mode", strings.ToUpper(cfg.JournalMode))
	}
	if isMemory(cfg.Path) {
		params.Set("mode", "memory")
		params.Set("cache", "shared")
	}
	return "file:" + cfg.Path + "?" + params.Encode()
}

func isMemory(path string) bool {
	return path == ":memory:" || path == ""
}

// openDB opens a SQLite database with the given configuration.
func openDB(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	if isMemory(cfg.Path) {
		// The database lives as long as its single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	return db, nil
}
