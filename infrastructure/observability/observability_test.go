package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServiceName != "eventstore" {
		t.Errorf("ServiceName = %q, want eventstore", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("tracing should be disabled by default")
	}
	if cfg.Exporter != ExporterNoop {
		t.Errorf("Exporter = %q, want noop", cfg.Exporter)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1", cfg.SampleRate)
	}
}

func TestOptions(t *testing.T) {
	cfg := DefaultConfig()
	for _, opt := range []Option{
		WithServiceName("svc"),
		WithServiceVersion("1.2.3"),
		WithEnvironment("prod"),
		WithExporter(ExporterOTLP, "collector:4317"),
		WithInsecure(),
		WithSampleRate(0.5),
		WithoutGlobal(),
	} {
		opt(&cfg)
	}

	if cfg.ServiceName != "svc" || cfg.ServiceVersion != "1.2.3" || cfg.Environment != "prod" {
		t.Errorf("service attributes = %q %q %q", cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	}
	if !cfg.Enabled || cfg.Exporter != ExporterOTLP || cfg.Endpoint != "collector:4317" {
		t.Errorf("exporter = %v %q %q", cfg.Enabled, cfg.Exporter, cfg.Endpoint)
	}
	if !cfg.Insecure || cfg.SampleRate != 0.5 || cfg.Global {
		t.Errorf("insecure=%v rate=%v global=%v", cfg.Insecure, cfg.SampleRate, cfg.Global)
	}
}

func TestNew_Disabled(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := p.Tracer(ScopeStorage).Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled provider should hand out non-recording spans")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_UnknownExporter(t *testing.T) {
	_, err := New(WithExporter("zipkin", ""))
	if !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("New() error = %v, want ErrUnknownExporter", err)
	}
}

func TestNew_Stdout(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(WithExporter(ExporterStdout, ""), WithWriter(&buf), WithoutGlobal())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := Start(context.Background(), p.Tracer(ScopeStorage), "events.find", AttrUserID.String("u1"))
	End(span, nil)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"Name": "events.find"`) {
		t.Errorf("exported spans missing events.find:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "eventstore.user_id") {
		t.Errorf("exported spans missing user attribute:\n%s", buf.String())
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{rate: 1, want: "AlwaysOnSampler"},
		{rate: 2, want: "AlwaysOnSampler"},
		{rate: 0, want: "AlwaysOffSampler"},
		{rate: 0.25, want: "ParentBased"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("sampler(%v) = %q, want prefix %q", tt.rate, got, tt.want)
		}
	}
}

func TestEnd_RecordsError(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tp.Tracer(ScopeStorage)

	_, ok := Start(context.Background(), tracer, "ok")
	End(ok, nil)
	_, failed := Start(context.Background(), tracer, "failed")
	End(failed, errors.New("boom"))

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("ok span status = %v", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "boom" {
		t.Errorf("failed span status = %v", spans[1].Status())
	}
	if len(spans[1].Events()) != 1 {
		t.Errorf("failed span events = %d, want the recorded error", len(spans[1].Events()))
	}
}

func TestHTTPMiddleware(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	r := chi.NewRouter()
	r.Use(HTTPMiddleware(tp.Tracer(ScopeHTTP)))
	r.Get("/users/{userID}/events", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for _, path := range []string{"/users/u1/events", "/broken"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "GET /users/{userID}/events" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["http.status_code"] != int64(200) {
		t.Errorf("http.status_code = %v", attrs["http.status_code"])
	}
	if attrs["http.route"] != "/users/{userID}/events" {
		t.Errorf("http.route = %v", attrs["http.route"])
	}
	if spans[1].Status().Code != codes.Error {
		t.Errorf("5xx span status = %v, want error", spans[1].Status())
	}
}
