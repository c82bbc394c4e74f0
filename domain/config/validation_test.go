package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidator_Default(t *testing.T) {
	t.Parallel()

	if errs := NewValidator().Validate(Default()); errs.HasErrors() {
		t.Fatalf("Default() should be valid, got %v", errs)
	}
}

func TestValidator_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
		path   string
	}{
		{"missing engine", func(c *ServerConfig) { c.Database.Engine = "" }, "database.engine"},
		{"unknown engine", func(c *ServerConfig) { c.Database.Engine = "postgres" }, "database.engine"},
		{"mongodb without uri", func(c *ServerConfig) { c.Database.Engine = "mongodb" }, "database.mongodb.uri"},
		{"sqlite without path", func(c *ServerConfig) { c.Database.SQLite.Path = "" }, "database.sqlite.path"},
		{"bad deletion mode", func(c *ServerConfig) { c.Deletion.Mode = "keep-some" }, "deletion.mode"},
		{"negative batch size", func(c *ServerConfig) { c.Streaming.BatchSize = -1 }, "streaming.batch_size"},
		{"redis without address", func(c *ServerConfig) { c.Cache.Backend = "redis" }, "cache.redis.address"},
		{"unknown cache", func(c *ServerConfig) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"unnamed system stream", func(c *ServerConfig) {
			c.SystemStreams = []SystemStreamConfig{{Unique: true}}
		}, "system_streams[0].name"},
		{"duplicate system stream", func(c *ServerConfig) {
			c.SystemStreams = []SystemStreamConfig{{Name: "email"}, {Name: "email"}}
		}, "system_streams[1].name"},
		{"dotted system stream", func(c *ServerConfig) {
			c.SystemStreams = []SystemStreamConfig{{Name: "a.b"}}
		}, "system_streams[0].name"},
		{"bad log level", func(c *ServerConfig) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *ServerConfig) { c.Logging.Format = "xml" }, "logging.format"},
		{"unknown exporter", func(c *ServerConfig) { c.Tracing.Exporter = "zipkin" }, "tracing.exporter"},
		{"otlp without endpoint", func(c *ServerConfig) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, "tracing.endpoint"},
		{"sample rate above one", func(c *ServerConfig) { c.Tracing.SampleRate = 1.5 }, "tracing.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(cfg)
			errs := NewValidator().Validate(cfg)
			if !errs.HasErrors() {
				t.Fatal("expected validation errors")
			}
			found := false
			for _, e := range errs {
				if e.Path == tt.path {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %s", errs, tt.path)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	var none ValidationErrors
	if none.Error() != "no validation errors" {
		t.Errorf("empty Error() = %q", none.Error())
	}

	one := ValidationErrors{{Path: "a", Message: "bad"}}
	if one.Error() != "a: bad" {
		t.Errorf("single Error() = %q", one.Error())
	}

	two := ValidationErrors{{Path: "a", Message: "bad"}, {Message: "worse"}}
	if !strings.HasPrefix(two.Error(), "2 validation errors") {
		t.Errorf("multi Error() = %q", two.Error())
	}
}

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	var d Duration
	if err := d.UnmarshalJSON([]byte(`"1m30s"`)); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 1m30s", d.Duration())
	}

	out, _ := d.MarshalJSON()
	if string(out) != `"1m30s"` {
		t.Errorf("MarshalJSON() = %s", out)
	}

	if err := d.UnmarshalJSON([]byte(`"soon"`)); err == nil {
		t.Error("expected an error for an invalid duration")
	}
}
