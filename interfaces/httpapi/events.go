package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/felixgeelhaar/eventstore-go/application"
	"github.com/felixgeelhaar/eventstore-go/domain/event"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/query"
)

// Error ids returned in error bodies.
const (
	ErrIDInvalidParameters = "invalid-parameters-format"
	ErrIDUnexpected        = "unexpected-error"
)

// EventsHandler serves event queries.
type EventsHandler struct {
	ds *application.Datastore
}

// NewEventsHandler creates a handler over a datastore.
func NewEventsHandler(ds *application.Datastore) *EventsHandler {
	return &EventsHandler{ds: ds}
}

// List handles GET /users/{userID}/events.
//
// Parameters: fromTime, toTime, streams (repeated ids or a JSON streams
// query), types (repeated), running, modifiedSince, includeDeletions,
// sortAscending, skip and limit.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := storage.UserID(chi.URLParam(r, "userID"))

	q, err := parseEventQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrIDInvalidParameters, err.Error())
		return
	}

	res, err := h.ds.QueryEvents(ctx, user, q)
	if err != nil {
		h.fail(w, user, err)
		return
	}
	_ = res.WriteToHTTPResponse(ctx, w, http.StatusOK)
}

// Deletions handles GET /users/{userID}/events/deletions.
func (h *EventsHandler) Deletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := storage.UserID(chi.URLParam(r, "userID"))
	params := r.URL.Query()

	since, err := floatParam(params, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrIDInvalidParameters, err.Error())
		return
	}
	var opts storage.FindOptions
	if opts.Limit, err = intParam(params, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, ErrIDInvalidParameters, err.Error())
		return
	}
	from := 0.0
	if since != nil {
		from = *since
	}

	res, err := h.ds.QueryDeletions(ctx, user, from, opts)
	if err != nil {
		h.fail(w, user, err)
		return
	}
	_ = res.WriteToHTTPResponse(ctx, w, http.StatusOK)
}

func (h *EventsHandler) fail(w http.ResponseWriter, user storage.UserID, err error) {
	switch {
	case errors.Is(err, event.ErrUnknownPredicate), errors.Is(err, storage.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, ErrIDInvalidParameters, err.Error())
	default:
		logging.Error().
			Add(logging.Component("http")).
			Add(logging.UserID(user)).
			Add(logging.ErrorField(err)).
			Msg("event query failed")
		writeError(w, http.StatusInternalServerError, ErrIDUnexpected, unexpectedMessage)
	}
}

type errorBody struct {
	Error struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"error"`
}

// unexpectedMessage is all a client learns about a server-side failure; the
// cause is only logged.
const unexpectedMessage = "An unexpected error occurred"

func writeError(w http.ResponseWriter, status int, id, message string) {
	var body errorBody
	body.Error.ID = id
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseEventQuery(params url.Values) (application.EventQuery, error) {
	var q application.EventQuery

	from, err := floatParam(params, "fromTime")
	if err != nil {
		return q, err
	}
	to, err := floatParam(params, "toTime")
	if err != nil {
		return q, err
	}
	if from != nil || to != nil {
		q.Predicates = append(q.Predicates, query.TimeRange(from, to)...)
	}

	if streams := params["streams"]; len(streams) > 0 {
		p, err := streamsPredicate(streams)
		if err != nil {
			return q, err
		}
		q.Predicates = append(q.Predicates, p)
	}

	if types := params["types"]; len(types) > 0 {
		q.Predicates = append(q.Predicates, event.TypesList(types...))
	}

	modifiedSince, err := floatParam(params, "modifiedSince")
	if err != nil {
		return q, err
	}
	if modifiedSince != nil {
		q.Predicates = append(q.Predicates, event.Greater(event.FieldModified, *modifiedSince))
	}

	if q.Running, err = boolParam(params, "running"); err != nil {
		return q, err
	}

	includeDeletions, err := boolParam(params, "includeDeletions")
	if err != nil {
		return q, err
	}
	if includeDeletions {
		if modifiedSince == nil {
			return q, errors.New("includeDeletions requires modifiedSince")
		}
		q.DeletionsSince = modifiedSince
	}

	ascending, err := boolParam(params, "sortAscending")
	if err != nil {
		return q, err
	}
	if ascending {
		q.Options.Sort = []storage.SortKey{{Field: event.FieldTime, Direction: storage.Ascending}}
	}

	if q.Options.Skip, err = intParam(params, "skip"); err != nil {
		return q, err
	}
	if q.Options.Limit, err = intParam(params, "limit"); err != nil {
		return q, err
	}
	return q, nil
}

// streamsPredicate accepts either plain stream ids, matched as one "any"
// block, or a single JSON value holding one block or an array of blocks.
func streamsPredicate(values []string) (event.Predicate, error) {
	if len(values) == 1 {
		v := strings.TrimSpace(values[0])
		switch {
		case strings.HasPrefix(v, "["):
			var blocks []event.StreamsQuery
			if err := json.Unmarshal([]byte(v), &blocks); err != nil {
				return event.Predicate{}, fmt.Errorf("streams: %w", err)
			}
			return event.Streams(blocks...), nil
		case strings.HasPrefix(v, "{"):
			var block event.StreamsQuery
			if err := json.Unmarshal([]byte(v), &block); err != nil {
				return event.Predicate{}, fmt.Errorf("streams: %w", err)
			}
			return event.Streams(block), nil
		}
	}
	return event.Streams(event.StreamsQuery{Any: values}), nil
}

func floatParam(params url.Values, name string) (*float64, error) {
	s := params.Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: expected a number, got %q", name, s)
	}
	return &v, nil
}

func intParam(params url.Values, name string) (int64, error) {
	s := params.Get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s: expected a non-negative integer, got %q", name, s)
	}
	return v, nil
}

func boolParam(params url.Values, name string) (bool, error) {
	s := params.Get(name)
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s: expected a boolean, got %q", name, s)
	}
	return v, nil
}
