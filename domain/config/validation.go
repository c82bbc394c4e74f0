package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// Path is the path to the invalid field.
	Path string
	// Message describes the validation error.
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates server configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *ServerConfig) ValidationErrors {
	v.errors = nil

	v.validateDatabase(config)
	v.validateDeletion(config)
	v.validateStreaming(config)
	v.validateCache(config)
	v.validateSystemStreams(config)
	v.validateLogging(config)
	v.validateTracing(config)

	return v.errors
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateDatabase(config *ServerConfig) {
	db := config.Database
	switch db.Engine {
	case "mongodb":
		if db.MongoDB.URI == "" {
			v.addError("database.mongodb.uri", "uri is required for mongodb")
		}
		if db.MongoDB.Database == "" {
			v.addError("database.mongodb.database", "database is required for mongodb")
		}
	case "sqlite":
		if db.SQLite.Path == "" {
			v.addError("database.sqlite.path", "path is required for sqlite")
		}
	case "":
		v.addError("database.engine", "engine is required")
	default:
		v.addError("database.engine", fmt.Sprintf("unknown engine: %s", db.Engine))
	}
	if db.ConnectRetryInterval < 0 {
		v.addError("database.connect_retry_interval", "connect_retry_interval must be non-negative")
	}
}

func (v *Validator) validateDeletion(config *ServerConfig) {
	switch config.Deletion.Mode {
	case "", "keep-nothing", "keep-authors", "keep-everything":
	default:
		v.addError("deletion.mode", fmt.Sprintf("invalid mode: %s", config.Deletion.Mode))
	}
}

func (v *Validator) validateStreaming(config *ServerConfig) {
	if config.Streaming.BatchSize < 0 {
		v.addError("streaming.batch_size", "batch_size must be non-negative")
	}
	if config.Streaming.MaxWait < 0 {
		v.addError("streaming.max_wait", "max_wait must be non-negative")
	}
	if config.Streaming.DrainLimit < 0 {
		v.addError("streaming.drain_limit", "drain_limit must be non-negative")
	}
}

func (v *Validator) validateCache(config *ServerConfig) {
	switch config.Cache.Backend {
	case "", "memory", "none":
	case "redis":
		if config.Cache.Redis.Address == "" {
			v.addError("cache.redis.address", "address is required for redis")
		}
	default:
		v.addError("cache.backend", fmt.Sprintf("unknown backend: %s", config.Cache.Backend))
	}
}

func (v *Validator) validateSystemStreams(config *ServerConfig) {
	seen := make(map[string]bool)
	for i, s := range config.SystemStreams {
		path := fmt.Sprintf("system_streams[%d]", i)
		if s.Name == "" {
			v.addError(path+".name", "name is required")
			continue
		}
		if strings.ContainsAny(s.Name, ".$") {
			v.addError(path+".name", fmt.Sprintf("invalid field name: %s", s.Name))
		}
		if seen[s.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate field: %s", s.Name))
		}
		seen[s.Name] = true
	}
}

func (v *Validator) validateLogging(config *ServerConfig) {
	if config.Logging.Level != "" {
		validLevels := map[string]bool{
			"trace": true, "debug": true, "info": true, "warn": true, "error": true,
		}
		if !validLevels[strings.ToLower(config.Logging.Level)] {
			v.addError("logging.level", fmt.Sprintf("invalid level: %s", config.Logging.Level))
		}
	}
	if config.Logging.Format != "" && config.Logging.Format != "json" && config.Logging.Format != "console" {
		v.addError("logging.format", fmt.Sprintf("invalid format: %s", config.Logging.Format))
	}
}

func (v *Validator) validateTracing(config *ServerConfig) {
	t := config.Tracing
	switch t.Exporter {
	case "", "noop", "stdout":
	case "otlp":
		if t.Enabled && t.Endpoint == "" {
			v.addError("tracing.endpoint", "endpoint is required for otlp")
		}
	default:
		v.addError("tracing.exporter", fmt.Sprintf("unknown exporter: %s", t.Exporter))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		v.addError("tracing.sample_rate", "sample_rate must be between 0 and 1")
	}
}
