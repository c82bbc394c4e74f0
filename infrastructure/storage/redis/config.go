// Package redis provides the Redis cache backend shared by several server
// processes.
package redis

import (
	"time"
)

// Config holds Redis connection configuration.
type Config struct {
	// Address is the Redis server address (host:port).
	Address string `json:"address" yaml:"address"`

	// Password for authentication (optional).
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// DB selects the Redis database index.
	DB int `json:"db,omitempty" yaml:"db,omitempty"`

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`

	// PoolSize is the maximum number of socket connections.
	PoolSize int `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`

	// KeyPrefix is prepended to all keys (for namespacing).
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Address:      "localhost:6379",
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		KeyPrefix:    "eventstore:",
	}
}

// ConfigOption configures the Redis connection.
type ConfigOption func(*Config)

// WithAddress sets the Redis server address.
func WithAddress(addr string) ConfigOption {
	return func(c *Config) {
		c.Address = addr
	}
}

// WithPassword sets the authentication password.
func WithPassword(password string) ConfigOption {
	return func(c *Config) {
		c.Password = password
	}
}

// WithDB sets the database index.
func WithDB(db int) ConfigOption {
	return func(c *Config) {
		c.DB = db
	}
}

// WithKeyPrefix sets the key prefix for namespacing.
func WithKeyPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}
