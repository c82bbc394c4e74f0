package application_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/eventstore-go/application"
	"github.com/felixgeelhaar/eventstore-go/domain/config"
	"github.com/felixgeelhaar/eventstore-go/domain/event"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/filesystem"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/memory"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/sqlite"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/streaming"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const user storage.UserID = "u1"

func newDatastore(t *testing.T) (*application.Datastore, *filesystem.AttachmentStore) {
	t.Helper()
	dir := t.TempDir()

	files, err := filesystem.NewAttachmentStore(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("NewAttachmentStore() error = %v", err)
	}
	ds, err := application.NewDatastoreWithOptions(
		application.WithDriver(sqlite.New(sqlite.DefaultConfig(), sqlite.WithPath(filepath.Join(dir, "store.db")))),
		application.WithDeletion(event.KeepNothing, false),
		application.WithIntegrity(true),
		application.WithAttachments(files),
		application.WithCache(memory.NewCache(), time.Minute),
		application.WithStreaming(streaming.WithBatchSize(2)),
		application.WithClock(func() float64 { return 500 }),
		application.WithConnectRetry(10*time.Millisecond, 3),
	)
	if err != nil {
		t.Fatalf("NewDatastoreWithOptions() error = %v", err)
	}
	t.Cleanup(func() { _ = ds.Close(context.Background()) })

	ctx := context.Background()
	if err := ds.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := ds.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes() error = %v", err)
	}
	return ds, files
}

func seed(t *testing.T, ds *application.Datastore) {
	t.Helper()
	ctx := context.Background()

	for _, s := range []storage.Document{
		{"id": "health", "name": "Health"},
		{"id": "weight", "name": "Weight", "parentId": "health"},
		{"id": "diary", "name": "Diary"},
	} {
		if _, err := ds.Streams().InsertOne(ctx, user, s); err != nil {
			t.Fatalf("insert stream %v: %v", s["id"], err)
		}
	}
	for _, e := range []storage.Document{
		{"id": "e1", "streamIds": []any{"weight"}, "time": 100.0, "type": "mass/kg", "content": 80.0},
		{"id": "e2", "streamIds": []any{"health"}, "time": 200.0, "type": "note/txt", "content": "ok"},
		{"id": "e3", "streamIds": []any{"diary"}, "time": 300.0, "type": "note/txt", "content": "dear"},
	} {
		if _, err := ds.Events().InsertOne(ctx, user, e); err != nil {
			t.Fatalf("insert event %v: %v", e["id"], err)
		}
	}
}

func ids(t *testing.T, v any) []string {
	t.Helper()
	docs, ok := v.([]storage.Document)
	if !ok {
		t.Fatalf("result entry is %T, want []storage.Document", v)
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.String("id"))
	}
	return out
}

func TestNewDatastore_RequiresDriver(t *testing.T) {
	t.Parallel()

	if _, err := application.NewDatastore(application.DatastoreConfig{}); err == nil {
		t.Error("NewDatastore() without driver should fail")
	}
}

func TestNewDatastore_RejectsUnknownDeletionMode(t *testing.T) {
	t.Parallel()

	_, err := application.NewDatastoreWithOptions(
		application.WithDriver(sqlite.New(sqlite.DefaultConfig(), sqlite.WithPath(filepath.Join(t.TempDir(), "x.db")))),
		application.WithDeletion("keep-some", false),
	)
	if err == nil {
		t.Error("NewDatastore() with unknown deletion mode should fail")
	}
}

func TestDatastore_QueryEvents(t *testing.T) {
	t.Parallel()

	ds, _ := newDatastore(t)
	seed(t, ds)
	ctx := context.Background()

	res, err := ds.QueryEvents(ctx, user, application.EventQuery{
		Predicates: []event.Predicate{event.Streams(event.StreamsQuery{Any: []string{"health"}})},
	})
	if err != nil {
		t.Fatalf("QueryEvents() error = %v", err)
	}
	out, err := res.ToObject(ctx)
	if err != nil {
		t.Fatalf("ToObject() error = %v", err)
	}
	if got := strings.Join(ids(t, out[application.ResultEvents]), ","); got != "e2,e1" {
		t.Errorf("events = %s, want e2,e1", got)
	}
	if _, ok := out[application.ResultEventDeletions]; ok {
		t.Error("deletions should only be present when requested")
	}
	meta, _ := out[streaming.MetaKey].(map[string]any)
	if meta["serverTime"] != 500.0 {
		t.Errorf("serverTime = %v, want 500", meta["serverTime"])
	}
}

func TestDatastore_QueryEventsWithDeletions(t *testing.T) {
	t.Parallel()

	ds, _ := newDatastore(t)
	seed(t, ds)
	ctx := context.Background()

	if _, err := ds.Events().Delete(ctx, user, storage.Eq{Field: "id", Value: "e3"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	since := 0.0
	res, err := ds.QueryEvents(ctx, user, application.EventQuery{DeletionsSince: &since})
	if err != nil {
		t.Fatalf("QueryEvents() error = %v", err)
	}

	var b strings.Builder
	if _, err := res.Encode(ctx, &b); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	body := b.String()
	if !strings.Contains(body, `"eventDeletions":[{`) || !strings.Contains(body, `"e3"`) {
		t.Errorf("body = %s, want e3 in eventDeletions", body)
	}
	if !strings.HasPrefix(body, `{"events":[`) || !strings.HasSuffix(body, `"meta":{"serverTime":500}}`) {
		t.Errorf("body = %s", body)
	}
}

func TestDatastore_QueryEventsUnknownPredicate(t *testing.T) {
	t.Parallel()

	ds, _ := newDatastore(t)
	_, err := ds.QueryEvents(context.Background(), user, application.EventQuery{
		Predicates: []event.Predicate{{Type: "sometimes"}},
	})
	if err == nil {
		t.Error("QueryEvents() with unknown predicate should fail")
	}
}

func TestDatastore_StorageSizeAndDeleteUser(t *testing.T) {
	t.Parallel()

	ds, files := newDatastore(t)
	seed(t, ds)
	ctx := context.Background()

	fileID, err := files.SaveFromStream(ctx, strings.NewReader("payload"), user, "e1")
	if err != nil {
		t.Fatalf("SaveFromStream() error = %v", err)
	}
	if _, err := ds.Events().UpdateOne(ctx, user, storage.Eq{Field: "id", Value: "e1"}, storage.Update{
		Set: storage.Document{"attachments": []any{map[string]any{"id": fileID, "fileName": "a.txt", "size": 7.0}}},
	}); err != nil {
		t.Fatalf("UpdateOne() error = %v", err)
	}
	if _, err := ds.Accesses().InsertOne(ctx, user, storage.Document{"id": "a1", "token": "t1", "type": "app", "name": "app"}); err != nil {
		t.Fatalf("insert access: %v", err)
	}

	size, err := ds.UserStorageSize(ctx, user)
	if err != nil {
		t.Fatalf("UserStorageSize() error = %v", err)
	}
	if size.DBDocuments <= 0 {
		t.Errorf("DBDocuments = %d, want > 0", size.DBDocuments)
	}
	if size.AttachedFiles != 7 {
		t.Errorf("AttachedFiles = %d, want 7", size.AttachedFiles)
	}

	if err := ds.DeleteUser(ctx, user); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	size, err = ds.UserStorageSize(ctx, user)
	if err != nil {
		t.Fatalf("UserStorageSize() error = %v", err)
	}
	if size.DBDocuments != 0 || size.AttachedFiles != 0 {
		t.Errorf("size after DeleteUser = %+v, want zero", size)
	}
	tree, err := ds.Streams().Tree(ctx, user)
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if len(tree) != 0 {
		t.Errorf("stream tree after DeleteUser has %d roots", len(tree))
	}
}

func TestDatastore_VersionsShareDriver(t *testing.T) {
	t.Parallel()

	ds, _ := newDatastore(t)
	ctx := context.Background()

	if err := ds.Versions().StartMigration(ctx, "1.9.0"); err != nil {
		t.Fatalf("StartMigration() error = %v", err)
	}
	if err := ds.Versions().CompleteMigration(ctx, "1.9.0"); err != nil {
		t.Fatalf("CompleteMigration() error = %v", err)
	}
	v, err := ds.Versions().Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if v.ID != "1.9.0" || v.MigrationCompleted != 500 {
		t.Errorf("Current() = %+v", v)
	}
}

func TestOpen_SQLite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.SQLite.Path = filepath.Join(dir, "open.db")
	cfg.Attachments.Path = filepath.Join(dir, "files")
	cfg.SystemStreams = []config.SystemStreamConfig{{Name: "email", Unique: true}}

	ctx := context.Background()
	ds, err := application.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = ds.Close(ctx) }()

	if ds.Driver().Engine() != storage.EngineSQLite {
		t.Errorf("Engine() = %s", ds.Driver().Engine())
	}
	if err := ds.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes() error = %v", err)
	}
	indexes, err := ds.Events().ListIndexes(ctx)
	if err != nil {
		t.Fatalf("ListIndexes() error = %v", err)
	}
	found := false
	for _, idx := range indexes {
		if idx.Name == "events__email__unique" && idx.Unique {
			found = true
		}
	}
	if !found {
		t.Errorf("ListIndexes() = %v, want events__email__unique", indexes)
	}
}

func TestNewDriver_UnknownEngine(t *testing.T) {
	t.Parallel()

	_, err := application.NewDriver(config.DatabaseConfig{Engine: "cassandra"}, nil)
	if !errors.Is(err, application.ErrUnknownEngine) {
		t.Errorf("NewDriver() error = %v, want ErrUnknownEngine", err)
	}
}

func TestNewCache_UnknownBackend(t *testing.T) {
	t.Parallel()

	if _, err := application.NewCache(context.Background(), config.CacheConfig{Backend: "memcached"}); err == nil {
		t.Error("NewCache() with unknown backend should fail")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := application.Registry([]config.SystemStreamConfig{
		{Name: "email", Unique: true},
		{Name: "language", Indexed: true},
	})
	if !r.IsUniqueStream(":_system:email") {
		t.Error("email stream should be unique")
	}
	if got := r.IndexedFields(); len(got) != 1 || got[0] != "language" {
		t.Errorf("IndexedFields() = %v", got)
	}
	if len(application.Registry(nil).UniqueFields()) != 0 {
		t.Error("empty config should yield the empty registry")
	}
}

func TestDatastore_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	ds, err := application.NewDatastoreWithOptions(
		application.WithDriver(sqlite.New(sqlite.DefaultConfig(), sqlite.WithPath(filepath.Join(t.TempDir(), "spans.db")))),
		application.WithTracer(tp.Tracer("test")),
	)
	if err != nil {
		t.Fatalf("NewDatastoreWithOptions() error = %v", err)
	}
	t.Cleanup(func() { _ = ds.Close(context.Background()) })

	ctx := context.Background()
	if err := ds.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_, err = ds.QueryEvents(ctx, user, application.EventQuery{
		Predicates: []event.Predicate{{Type: "nonsense"}},
	})
	if err == nil {
		t.Fatal("QueryEvents() should reject an unknown predicate")
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "datastore.connect" || spans[0].Status().Code != codes.Ok {
		t.Errorf("connect span = %q %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Name() != "datastore.query_events" || spans[1].Status().Code != codes.Error {
		t.Errorf("query span = %q %v", spans[1].Name(), spans[1].Status())
	}
}
