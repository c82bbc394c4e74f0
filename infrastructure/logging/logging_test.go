package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// testLogger creates a logger that writes to a buffer for testing
func testLogger() (*bolt.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	handler := bolt.NewJSONHandler(buf)
	logger := bolt.New(handler).SetLevel(bolt.TRACE)
	return logger, buf
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	if config.Level != "info" || config.Format != "console" || config.Output != os.Stderr {
		t.Errorf("DefaultConfig() = %+v", config)
	}

	prod := ProductionConfig()
	if prod.Format != "json" {
		t.Errorf("ProductionConfig().Format = %s, want json", prod.Format)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected bolt.Level
	}{
		{"trace", bolt.TRACE},
		{"debug", bolt.DEBUG},
		{"info", bolt.INFO},
		{"warn", bolt.WARN},
		{"error", bolt.ERROR},
		{"bogus", bolt.INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		field Field
		want  string
	}{
		{"user", UserID(storage.UserID("u1")), `"user_id":"u1"`},
		{"collection", Collection("events"), `"collection":"events"`},
		{"engine", Engine(storage.EngineSQLite), `"engine":"sqlite"`},
		{"index", IndexName("events__id"), `"index":"events__id"`},
		{"event", EventID("e1"), `"event_id":"e1"`},
		{"batch", BatchID("b1"), `"batch_id":"b1"`},
		{"count", Count("modified", 3), `"modified":3`},
		{"attempt", Attempt(2), `"attempt":2`},
		{"duration", Duration(100 * time.Millisecond), `"duration_ms":100`},
		{"component", Component("driver"), `"component":"driver"`},
		{"operation", Operation("update_many"), `"operation":"update_many"`},
		{"str", Str("custom_key", "custom_value"), `"custom_key":"custom_value"`},
		{"float", Float("time", 1000.5), `"time":"1000.5"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, buf := testLogger()
			tt.field(logger.Info()).Msg("test")
			if !bytes.Contains(buf.Bytes(), []byte(tt.want)) {
				t.Errorf("expected %s in output: %s", tt.want, buf.String())
			}
		})
	}
}

func TestErrorField(t *testing.T) {
	t.Parallel()

	logger, buf := testLogger()
	ErrorField(errors.New("boom"))(logger.Error()).Msg("failed")
	if !bytes.Contains(buf.Bytes(), []byte("boom")) {
		t.Errorf("expected error in output: %s", buf.String())
	}

	buf.Reset()
	ErrorField(nil)(logger.Info()).Msg("ok")
	if bytes.Contains(buf.Bytes(), []byte("error\":\"")) {
		t.Errorf("nil error should add nothing: %s", buf.String())
	}
}

func TestLogEvent(t *testing.T) {
	t.Parallel()

	logger, buf := testLogger()
	NewEvent(logger.Info()).Add(Collection("streams")).Add(Count("matched", 2)).Msg("test")

	if !bytes.Contains(buf.Bytes(), []byte(`"collection":"streams"`)) || !bytes.Contains(buf.Bytes(), []byte(`"matched":2`)) {
		t.Errorf("expected chained fields in output: %s", buf.String())
	}
}

func TestGet(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get() returned nil")
	}
	SetLevel("info")
}
