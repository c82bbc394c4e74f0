package httpapi_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/felixgeelhaar/eventstore-go/application"
	"github.com/felixgeelhaar/eventstore-go/domain/event"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/memory"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/sqlite"
	"github.com/felixgeelhaar/eventstore-go/interfaces/httpapi"
)

const user storage.UserID = "u1"

func newRouter(t *testing.T) (http.Handler, *application.Datastore) {
	t.Helper()

	ds, err := application.NewDatastoreWithOptions(
		application.WithDriver(sqlite.New(sqlite.DefaultConfig(), sqlite.WithPath(filepath.Join(t.TempDir(), "http.db")))),
		application.WithDeletion(event.KeepNothing, false),
		application.WithCache(memory.NewCache(), time.Minute),
		application.WithClock(func() float64 { return 500 }),
	)
	if err != nil {
		t.Fatalf("NewDatastoreWithOptions() error = %v", err)
	}
	t.Cleanup(func() { _ = ds.Close(context.Background()) })

	ctx := context.Background()
	for _, s := range []storage.Document{
		{"id": "health", "name": "Health"},
		{"id": "weight", "name": "Weight", "parentId": "health"},
		{"id": "diary", "name": "Diary"},
	} {
		if _, err := ds.Streams().InsertOne(ctx, user, s); err != nil {
			t.Fatalf("insert stream: %v", err)
		}
	}
	for _, e := range []storage.Document{
		{"id": "e1", "streamIds": []any{"weight"}, "time": 100.0, "type": "mass/kg", "content": 80.0, "modified": 10.0},
		{"id": "e2", "streamIds": []any{"health"}, "time": 200.0, "type": "note/txt", "content": "ok", "modified": 10.0},
		{"id": "e3", "streamIds": []any{"diary"}, "time": 300.0, "type": "note/txt", "content": "dear", "modified": 10.0},
		{"id": "e4", "streamIds": []any{"diary"}, "time": 400.0, "type": "note/txt", "content": "gone", "modified": 10.0},
	} {
		if _, err := ds.Events().InsertOne(ctx, user, e); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}
	if _, err := ds.Events().Delete(ctx, user, storage.Eq{Field: "id", Value: "e4"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	return httpapi.NewRouter(&httpapi.Deps{Datastore: ds}), ds
}

type response struct {
	Events         []map[string]any `json:"events"`
	EventDeletions []map[string]any `json:"eventDeletions"`
	Meta           map[string]any   `json:"meta"`
	Error          *struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"error"`
}

func get(t *testing.T, h http.Handler, path string, params url.Values) (int, response) {
	t.Helper()
	target := path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func idsOf(items []map[string]any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		id, _ := it["id"].(string)
		out = append(out, id)
	}
	return out
}

func TestEventsHandler_List(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)

	tests := []struct {
		name   string
		params url.Values
		want   []string
	}{
		{name: "all live events", want: []string{"e3", "e2", "e1"}},
		{name: "stream with descendants", params: url.Values{"streams": {"health"}}, want: []string{"e2", "e1"}},
		{name: "several streams", params: url.Values{"streams": {"weight", "diary"}}, want: []string{"e3", "e1"}},
		{name: "streams query", params: url.Values{"streams": {`{"any":["health"],"not":["weight"]}`}}, want: []string{"e2"}},
		{name: "streams query blocks", params: url.Values{"streams": {`[{"any":["weight"]},{"any":["diary"]}]`}}, want: []string{"e3", "e1"}},
		{name: "types wildcard", params: url.Values{"types": {"note/*"}}, want: []string{"e3", "e2"}},
		{name: "time range", params: url.Values{"fromTime": {"0"}, "toTime": {"150"}}, want: []string{"e1"}},
		{name: "ascending", params: url.Values{"sortAscending": {"true"}}, want: []string{"e1", "e2", "e3"}},
		{name: "paging", params: url.Values{"skip": {"1"}, "limit": {"1"}}, want: []string{"e2"}},
		{name: "running", params: url.Values{"running": {"true"}}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, h, "/users/u1/events", tt.params)
			if code != http.StatusOK {
				t.Fatalf("status = %d, body error = %+v", code, body.Error)
			}
			if got := idsOf(body.Events); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("events = %v, want %v", got, tt.want)
			}
			if body.Meta["serverTime"] != 500.0 {
				t.Errorf("serverTime = %v", body.Meta["serverTime"])
			}
		})
	}
}

func TestEventsHandler_IncludeDeletions(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)
	code, body := get(t, h, "/users/u1/events", url.Values{
		"modifiedSince":    {"5"},
		"includeDeletions": {"true"},
	})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got := idsOf(body.Events); !reflect.DeepEqual(got, []string{"e3", "e2", "e1"}) {
		t.Errorf("events = %v", got)
	}
	if got := idsOf(body.EventDeletions); !reflect.DeepEqual(got, []string{"e4"}) {
		t.Errorf("eventDeletions = %v", got)
	}
	if body.EventDeletions[0]["deleted"] != 500.0 {
		t.Errorf("deleted = %v, want 500", body.EventDeletions[0]["deleted"])
	}
}

func TestEventsHandler_OtherUserSeesNothing(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)
	code, body := get(t, h, "/users/u2/events", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Events) != 0 {
		t.Errorf("events = %v, want none", idsOf(body.Events))
	}
}

func TestEventsHandler_InvalidParameters(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)

	tests := []struct {
		name   string
		params url.Values
	}{
		{name: "bad number", params: url.Values{"fromTime": {"yesterday"}}},
		{name: "bad boolean", params: url.Values{"running": {"maybe"}}},
		{name: "negative limit", params: url.Values{"limit": {"-1"}}},
		{name: "deletions without modifiedSince", params: url.Values{"includeDeletions": {"true"}}},
		{name: "malformed streams query", params: url.Values{"streams": {`{"any":`}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, h, "/users/u1/events", tt.params)
			if code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
			if body.Error == nil || body.Error.ID != httpapi.ErrIDInvalidParameters {
				t.Errorf("error = %+v", body.Error)
			}
		})
	}
}

// brokenDriver fails every read with a backend error naming a file.
type brokenDriver struct {
	storage.Driver
}

func (brokenDriver) Find(context.Context, storage.Collection, storage.Filter, storage.FindOptions) (storage.Cursor, error) {
	return nil, storage.Unexpected(errors.New("disk I/O error on /srv/secret/events.db table events"))
}

func TestEventsHandler_UnexpectedErrorHidesCause(t *testing.T) {
	t.Parallel()

	driver := sqlite.New(sqlite.DefaultConfig(), sqlite.WithPath(filepath.Join(t.TempDir(), "broken.db")))
	ds, err := application.NewDatastoreWithOptions(
		application.WithDriver(brokenDriver{Driver: driver}),
		application.WithDeletion(event.KeepNothing, false),
		application.WithCache(memory.NewCache(), time.Minute),
	)
	if err != nil {
		t.Fatalf("NewDatastoreWithOptions() error = %v", err)
	}
	t.Cleanup(func() { _ = ds.Close(context.Background()) })
	h := httpapi.NewRouter(&httpapi.Deps{Datastore: ds})

	for _, path := range []string{"/users/u1/events", "/users/u1/events/deletions"} {
		t.Run(path, func(t *testing.T) {
			code, body := get(t, h, path, nil)
			if code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", code)
			}
			if body.Error == nil || body.Error.ID != httpapi.ErrIDUnexpected {
				t.Fatalf("error = %+v", body.Error)
			}
			for _, leak := range []string{"/srv/secret", "disk I/O", "unexpected storage error"} {
				if strings.Contains(body.Error.Message, leak) {
					t.Errorf("message %q leaks %q", body.Error.Message, leak)
				}
			}
		})
	}
}

func TestEventsHandler_Deletions(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)

	code, body := get(t, h, "/users/u1/events/deletions", url.Values{"since": {"400"}})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got := idsOf(body.EventDeletions); !reflect.DeepEqual(got, []string{"e4"}) {
		t.Errorf("eventDeletions = %v", got)
	}

	_, body = get(t, h, "/users/u1/events/deletions", url.Values{"since": {"600"}})
	if len(body.EventDeletions) != 0 {
		t.Errorf("eventDeletions after 600 = %v", idsOf(body.EventDeletions))
	}
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"status":"ok"}` {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestServer_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- httpapi.NewServer("", h, time.Second).ServeListener(ctx, ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeListener() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
