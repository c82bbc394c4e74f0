// Package httpapi exposes event queries over HTTP, streaming results through
// the serialization pipeline.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/eventstore-go/application"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/observability"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Datastore *application.Datastore
	// Tracer opens a server span per request. Optional.
	Tracer trace.Tracer
}

// NewRouter creates the HTTP router.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if deps.Tracer != nil {
		r.Use(observability.HTTPMiddleware(deps.Tracer))
	}
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	events := NewEventsHandler(deps.Datastore)

	r.Get("/health", health)
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/events", events.List)
		r.Get("/events/deletions", events.Deletions)
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// requestLogger logs one debug line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logging.Debug().
			Add(logging.Component("http")).
			Add(logging.Str("method", r.Method)).
			Add(logging.Str("path", r.URL.Path)).
			Add(logging.Str("request_id", middleware.GetReqID(r.Context()))).
			Add(logging.Int("status", ww.Status())).
			Add(logging.Duration(time.Since(start))).
			Msg("request served")
	})
}
