package config

import (
	"errors"
	"os"
	"testing"
	"time"

	domainconfig "github.com/felixgeelhaar/eventstore-go/domain/config"
)

func TestEnvExpander_SimpleExpansion(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		name   string
		input  string
		want   string
	}{
		{
			name:  "bracket syntax",
			input: "${TEST_VAR}",
			want:  "hello",
		},
		{
			name:  "dollar syntax",
			input: "$TEST_VAR",
			want:  "hello",
		},
		{
			name:  "embedded in text",
			input: "prefix-${TEST_VAR}-suffix",
			want:  "prefix-hello-suffix",
		},
		{
			name:  "multiple variables",
			input: "${TEST_VAR} ${TEST_VAR}",
			want:  "hello hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandEnv(tt.input)
			if got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEnvExpander_DefaultValue(t *testing.T) {
	os.Unsetenv("UNSET_VAR")
	os.Setenv("SET_VAR", "set-value")
	defer os.Unsetenv("SET_VAR")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "unset with default",
			input: "${UNSET_VAR:-default}",
			want:  "default",
		},
		{
			name:  "set with default",
			input: "${SET_VAR:-default}",
			want:  "set-value",
		},
		{
			name:  "empty string default",
			input: "${UNSET_VAR:-}",
			want:  "",
		},
		{
			name:  "complex default",
			input: "${UNSET_VAR:-http://localhost:8080}",
			want:  "http://localhost:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandEnv(tt.input)
			if got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEnvExpander_RequiredVariable(t *testing.T) {
	os.Unsetenv("REQUIRED_VAR")

	input := "${REQUIRED_VAR:?variable is required}"
	_, err := ExpandEnvStrict(input)
	if err == nil {
		t.Error("ExpandEnvStrict() should return error for required unset variable")
	}
}

func TestEnvExpander_StrictMode(t *testing.T) {
	os.Unsetenv("MISSING_VAR")

	input := "${MISSING_VAR}"
	_, err := ExpandEnvStrict(input)
	if err == nil {
		t.Error("ExpandEnvStrict() should return error for missing variable")
	}
}

func TestEnvExpander_NonStrictMode(t *testing.T) {
	os.Unsetenv("MISSING_VAR")

	input := "${MISSING_VAR}"
	got := ExpandEnv(input)
	if got != "" {
		t.Errorf("ExpandEnv(%q) = %q, want empty string", input, got)
	}
}

func TestEnvExpander_NoExpansion(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "no variables",
			input: "plain text",
		},
		{
			name:  "escaped dollar",
			input: "price: $100",
		},
		{
			name:  "invalid syntax",
			input: "${incomplete",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandEnv(tt.input)
			if got != tt.input {
				t.Errorf("ExpandEnv(%q) = %q, want %q (unchanged)", tt.input, got, tt.input)
			}
		})
	}
}

func TestEnvExpander_YAMLConfig(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://db:27017")
	t.Setenv("MONGO_DB", "pryv")

	input := `
database:
  engine: mongodb
  mongodb:
    uri: ${MONGO_URI}
    database: ${MONGO_DB}
`
	expected := `
database:
  engine: mongodb
  mongodb:
    uri: mongodb://db:27017
    database: pryv
`
	got := ExpandEnv(input)
	if got != expected {
		t.Errorf("ExpandEnv() =\n%s\nwant:\n%s", got, expected)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("EVENTSTORE_DELETION_MODE", "keep-authors")
	t.Setenv("EVENTSTORE_FORCE_KEEP_HISTORY", "true")
	t.Setenv("EVENTSTORE_CONNECT_RETRY_INTERVAL", "250ms")
	t.Setenv("EVENTSTORE_TRACING_ENABLED", "true")
	t.Setenv("EVENTSTORE_TRACING_EXPORTER", "otlp")
	t.Setenv("EVENTSTORE_TRACING_ENDPOINT", "collector:4317")

	cfg := domainconfig.Default()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides() error = %v", err)
	}
	if cfg.Deletion.Mode != "keep-authors" || !cfg.Deletion.ForceKeepHistory {
		t.Errorf("Deletion = %+v", cfg.Deletion)
	}
	if cfg.Database.ConnectRetryInterval.Duration() != 250*time.Millisecond {
		t.Errorf("ConnectRetryInterval = %v", cfg.Database.ConnectRetryInterval.Duration())
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "otlp" || cfg.Tracing.Endpoint != "collector:4317" {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}

	t.Setenv("EVENTSTORE_FORCE_KEEP_HISTORY", "maybe")
	if err := ApplyEnvOverrides(cfg); !errors.Is(err, domainconfig.ErrInvalidFormat) {
		t.Errorf("ApplyEnvOverrides() error = %v, want ErrInvalidFormat", err)
	}
}
