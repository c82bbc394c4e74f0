package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Instrumentation scope names.
const (
	ScopeStorage = "github.com/felixgeelhaar/eventstore-go/storage"
	ScopeHTTP    = "github.com/felixgeelhaar/eventstore-go/http"
)

// Span attribute keys.
const (
	AttrUserID     = attribute.Key("eventstore.user_id")
	AttrCollection = attribute.Key("db.collection.name")
	AttrEngine     = attribute.Key("db.system")
	AttrCount      = attribute.Key("eventstore.count")
)

// NoopTracer returns a tracer that records nothing.
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer(ScopeStorage)
}

// Start opens an internal span.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// End records err on the span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
