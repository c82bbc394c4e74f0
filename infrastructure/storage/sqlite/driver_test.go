package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d := New(DefaultConfig(), WithPath(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func eventsCollection() storage.Collection {
	return storage.Collection{
		Name:         "events",
		PartitionKey: storage.FieldUserID,
		Indexes: []storage.Index{
			{Name: "time", Keys: []storage.IndexKey{{Field: "time", Direction: storage.Descending}}},
			{
				Name:    "email",
				Keys:    []storage.IndexKey{{Field: "email__unique", Direction: storage.Ascending}},
				Unique:  true,
				Partial: storage.Exists{Field: "email__unique", Exists: true},
			},
		},
	}
}

func seed(t *testing.T, d *Driver, c storage.Collection, docs ...storage.Document) {
	t.Helper()
	if err := d.InsertMany(context.Background(), c, docs); err != nil {
		t.Fatalf("InsertMany() error = %v", err)
	}
}

func ids(t *testing.T, d *Driver, c storage.Collection, f storage.Filter, opts storage.FindOptions) []string {
	t.Helper()
	ctx := context.Background()
	cur, err := d.Find(ctx, c, f, opts)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	docs, err := storage.Collect(ctx, cur)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.String(storage.FieldDBID))
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDriver_RoundTrip(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := eventsCollection()
	ctx := context.Background()

	seed(t, d, c, storage.Document{
		"_id":       "e1",
		"userId":    "u1",
		"time":      float64(100),
		"streamIds": []any{"diary"},
		"content":   map[string]any{"mood": "ok", "score": float64(3)},
	})

	doc, err := d.FindOne(ctx, c, storage.Eq{Field: "_id", Value: "e1"}, storage.FindOptions{})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if doc.String("userId") != "u1" {
		t.Errorf("userId = %v", doc["userId"])
	}
	if v, _ := doc.Lookup("content.score"); v != float64(3) {
		t.Errorf("content.score = %v (%T)", v, v)
	}
	if got := doc.Strings("streamIds"); len(got) != 1 || got[0] != "diary" {
		t.Errorf("streamIds = %v", got)
	}

	_, err = d.FindOne(ctx, c, storage.Eq{Field: "_id", Value: "missing"}, storage.FindOptions{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("FindOne(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDriver_InsertGeneratesID(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := storage.Collection{Name: "things"}
	doc := storage.Document{"name": "x"}
	if err := d.InsertOne(context.Background(), c, doc); err != nil {
		t.Fatalf("InsertOne() error = %v", err)
	}
	if doc.String(storage.FieldDBID) == "" {
		t.Error("expected generated _id")
	}
}

func TestDriver_Filters(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := eventsCollection()
	seed(t, d, c,
		storage.Document{"_id": "a", "userId": "u1", "time": float64(10), "streamIds": []any{"diary", "work"}, "type": "note/txt"},
		storage.Document{"_id": "b", "userId": "u1", "time": float64(20), "streamIds": []any{"health"}, "type": "mass/kg", "trashed": true},
		storage.Document{"_id": "c", "userId": "u1", "time": float64(30), "streamIds": []any{"diary"}, "type": "note/html", "deleted": float64(5)},
		storage.Document{"_id": "d", "userId": "u2", "time": float64(40), "streamIds": []any{"diary"}, "type": "note/txt"},
	)

	tests := []struct {
		name   string
		filter storage.Filter
		want   []string
	}{
		{"array contains", storage.Eq{Field: "streamIds", Value: "diary"}, []string{"a", "c", "d"}},
		{"partition key", storage.Eq{Field: "userId", Value: "u2"}, []string{"d"}},
		{"ne on absent field", storage.Ne{Field: "trashed", Value: true}, []string{"a", "c", "d"}},
		{"eq nil", storage.Eq{Field: "deleted", Value: nil}, []string{"a", "b", "d"}},
		{"exists", storage.Exists{Field: "deleted", Exists: true}, []string{"c"}},
		{"range", storage.And{storage.Gte{Field: "time", Value: float64(20)}, storage.Lt{Field: "time", Value: float64(40)}}, []string{"b", "c"}},
		{"in array", storage.In{Field: "streamIds", Values: []any{"work", "health"}}, []string{"a", "b"}},
		{"not in", storage.NotIn{Field: "streamIds", Values: []any{"diary"}}, []string{"b"}},
		{"prefix", storage.Prefix{Field: "type", Prefix: "note/"}, []string{"a", "c", "d"}},
		{"or", storage.Or{storage.Eq{Field: "_id", Value: "a"}, storage.Eq{Field: "type", Value: "mass/kg"}}, []string{"a", "b"}},
		{"not", storage.Not{Filter: storage.Eq{Field: "type", Value: "note/txt"}}, []string{"b", "c"}},
		{"live only", storage.LiveOnly(), []string{"a", "b", "d"}},
		{"all", storage.All{}, []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(t, d, c, tt.filter, storage.FindOptions{})
			if !equalIDs(got, tt.want) {
				t.Errorf("Find() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDriver_SortSkipLimitProjection(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := eventsCollection()
	ctx := context.Background()
	seed(t, d, c,
		storage.Document{"_id": "a", "userId": "u1", "time": float64(10), "type": "x"},
		storage.Document{"_id": "b", "userId": "u1", "time": float64(30), "type": "x"},
		storage.Document{"_id": "c", "userId": "u1", "time": float64(20), "type": "x"},
	)

	sorted := storage.FindOptions{Sort: []storage.SortKey{{Field: "time", Direction: storage.Descending}}}
	if got := ids(t, d, c, storage.All{}, sorted); !equalIDs(got, []string{"b", "c", "a"}) {
		t.Errorf("sorted = %v", got)
	}

	sorted.Skip = 1
	if got := ids(t, d, c, storage.All{}, sorted); !equalIDs(got, []string{"c", "a"}) {
		t.Errorf("skip = %v", got)
	}

	sorted.Limit = 1
	if got := ids(t, d, c, storage.All{}, sorted); !equalIDs(got, []string{"c"}) {
		t.Errorf("skip+limit = %v", got)
	}

	doc, err := d.FindOne(ctx, c, storage.All{}, storage.FindOptions{Projection: []string{"time"}})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if len(doc) != 2 || !doc.Has("time") || !doc.Has("_id") {
		t.Errorf("projection = %v", doc)
	}
}

func TestDriver_UniquePartialIndex(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := eventsCollection()
	ctx := context.Background()
	seed(t, d, c,
		storage.Document{"_id": "a", "userId": "u1", "email__unique": "x@example.com"},
		storage.Document{"_id": "b", "userId": "u1"},
		storage.Document{"_id": "c", "userId": "u1"},
		storage.Document{"_id": "d", "userId": "u2", "email__unique": "x@example.com"},
	)

	err := d.InsertOne(ctx, c, storage.Document{"_id": "e", "userId": "u1", "email__unique": "x@example.com"})
	dup, ok := storage.AsDuplicate(err)
	if !ok {
		t.Fatalf("InsertOne() error = %v, want duplicate", err)
	}
	if !dup.IsDuplicateIndex("email__unique") {
		t.Errorf("duplicate field = %q", dup.Field)
	}
	if dup.Index != "events__email" {
		t.Errorf("duplicate index = %q", dup.Index)
	}
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Error("expected errors.Is(err, ErrDuplicate)")
	}

	_, err = d.UpdateOne(ctx, c, storage.Eq{Field: "_id", Value: "b"}, storage.Update{Set: storage.Document{"email__unique": "x@example.com"}})
	if _, ok := storage.AsDuplicate(err); !ok {
		t.Errorf("UpdateOne() error = %v, want duplicate", err)
	}
}

func TestDriver_PrimaryKeyDuplicate(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := storage.Collection{Name: "streams"}
	ctx := context.Background()
	seed(t, d, c, storage.Document{"_id": "s1"})

	err := d.InsertOne(ctx, c, storage.Document{"_id": "s1"})
	dup, ok := storage.AsDuplicate(err)
	if !ok {
		t.Fatalf("InsertOne() error = %v, want duplicate", err)
	}
	if dup.Field != storage.FieldID {
		t.Errorf("Field = %q, want %q", dup.Field, storage.FieldID)
	}

	err = d.InsertMany(ctx, c, []storage.Document{{"_id": "s2"}, {"_id": "s1"}})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("InsertMany() error = %v", err)
	}
	n, err := d.Count(ctx, c, storage.All{})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("InsertMany should be atomic, count = %d", n)
	}
}

func TestDriver_IDsScopedToPartition(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := eventsCollection()
	ctx := context.Background()
	seed(t, d, c,
		storage.Document{"_id": "same", "userId": "u1", "content": "one"},
		storage.Document{"_id": "same", "userId": "u2", "content": "two"},
	)

	err := d.InsertOne(ctx, c, storage.Document{"_id": "same", "userId": "u1"})
	if dup, ok := storage.AsDuplicate(err); !ok || dup.Field != storage.FieldID {
		t.Fatalf("InsertOne() same user error = %v, want duplicate id", err)
	}

	byID := func(user string) storage.Filter {
		return storage.And{storage.Eq{Field: "userId", Value: user}, storage.Eq{Field: "_id", Value: "same"}}
	}
	if _, err := d.UpdateOne(ctx, c, byID("u1"), storage.Update{Set: storage.Document{"content": "changed"}}); err != nil {
		t.Fatalf("UpdateOne() error = %v", err)
	}
	if _, err := d.UpdateMany(ctx, c, byID("u1"), storage.Update{Set: storage.Document{"trashed": true}}); err != nil {
		t.Fatalf("UpdateMany() error = %v", err)
	}
	if n, err := d.ReplaceOne(ctx, c, byID("u1"), storage.Document{"userId": "u1", "content": "replaced"}); err != nil || n != 1 {
		t.Fatalf("ReplaceOne() = %d, %v", n, err)
	}

	tests := []struct {
		user    string
		content string
		trashed bool
	}{
		{"u1", "replaced", false},
		{"u2", "two", false},
	}
	for _, tt := range tests {
		doc, err := d.FindOne(ctx, c, byID(tt.user), storage.FindOptions{})
		if err != nil {
			t.Fatalf("FindOne(%s) error = %v", tt.user, err)
		}
		if doc.String("content") != tt.content || doc.Has("trashed") != tt.trashed {
			t.Errorf("FindOne(%s) = %v", tt.user, doc)
		}
	}

	if n, err := d.DeleteMany(ctx, c, byID("u2")); err != nil || n != 1 {
		t.Fatalf("DeleteMany() = %d, %v", n, err)
	}
	if n, err := d.Count(ctx, c, storage.Eq{Field: "_id", Value: "same"}); err != nil || n != 1 {
		t.Errorf("Count() after delete = %d, %v", n, err)
	}
}

func TestDriver_UpgradesGlobalKeyTable(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := eventsCollection()
	ctx := context.Background()

	db, err := d.handle(ctx)
	if err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	legacy := []string{
		`CREATE TABLE "events" (_id TEXT PRIMARY KEY, doc TEXT NOT NULL)`,
		`INSERT INTO "events" (_id, doc) VALUES ('e1', '{"userId":"u1","content":"kept"}')`,
	}
	for _, stmt := range legacy {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	if err := d.EnsureIndexes(ctx, c); err != nil {
		t.Fatalf("EnsureIndexes() error = %v", err)
	}
	doc, err := d.FindOne(ctx, c, storage.Eq{Field: "_id", Value: "e1"}, storage.FindOptions{})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if doc.String("content") != "kept" {
		t.Errorf("FindOne() = %v", doc)
	}
	if err := d.InsertOne(ctx, c, storage.Document{"_id": "e1", "userId": "u2"}); err != nil {
		t.Errorf("InsertOne() for another user after upgrade error = %v", err)
	}
	if err := d.InsertOne(ctx, c, storage.Document{"_id": "e1", "userId": "u1"}); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("InsertOne() same user after upgrade error = %v, want duplicate", err)
	}
}

func TestDriver_Updates(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := eventsCollection()
	ctx := context.Background()
	seed(t, d, c,
		storage.Document{"_id": "a", "userId": "u1", "streamIds": []any{"x", "y"}, "trashed": true},
		storage.Document{"_id": "b", "userId": "u1", "streamIds": []any{"x"}},
		storage.Document{"_id": "c", "userId": "u1", "streamIds": []any{"z"}},
	)

	updated, err := d.UpdateOne(ctx, c, storage.Eq{Field: "_id", Value: "a"}, storage.Update{
		Set:   storage.Document{"content": "hello"},
		Unset: []string{"trashed"},
	})
	if err != nil {
		t.Fatalf("UpdateOne() error = %v", err)
	}
	if updated.String("content") != "hello" || updated.Has("trashed") {
		t.Errorf("UpdateOne() = %v", updated)
	}

	res, err := d.UpdateMany(ctx, c, storage.All{}, storage.Update{Pull: map[string][]any{"streamIds": {"x"}}})
	if err != nil {
		t.Fatalf("UpdateMany() error = %v", err)
	}
	if res.Matched != 3 || res.Modified != 2 {
		t.Errorf("UpdateMany() = %+v", res)
	}

	n, err := d.ReplaceOne(ctx, c, storage.Eq{Field: "_id", Value: "c"}, storage.Document{"userId": "u1", "streamIds": []any{"new"}})
	if err != nil || n != 1 {
		t.Fatalf("ReplaceOne() = %d, %v", n, err)
	}
	doc, err := d.FindOne(ctx, c, storage.Eq{Field: "_id", Value: "c"}, storage.FindOptions{})
	if err != nil {
		t.Fatalf("FindOne() error = %v", err)
	}
	if got := doc.Strings("streamIds"); len(got) != 1 || got[0] != "new" {
		t.Errorf("replaced streamIds = %v", got)
	}

	if _, err := d.UpdateOne(ctx, c, storage.Eq{Field: "_id", Value: "missing"}, storage.Update{Set: storage.Document{"a": 1.0}}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateOne(missing) error = %v", err)
	}
}

func TestDriver_DeleteCountSize(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := eventsCollection()
	ctx := context.Background()
	seed(t, d, c,
		storage.Document{"_id": "a", "userId": "u1"},
		storage.Document{"_id": "b", "userId": "u1"},
		storage.Document{"_id": "c", "userId": "u2"},
	)

	size, err := d.TotalSize(ctx, c, storage.Eq{Field: "userId", Value: "u1"})
	if err != nil {
		t.Fatalf("TotalSize() error = %v", err)
	}
	if size <= 0 {
		t.Errorf("TotalSize() = %d", size)
	}

	n, err := d.DeleteMany(ctx, c, storage.Eq{Field: "userId", Value: "u1"})
	if err != nil || n != 2 {
		t.Fatalf("DeleteMany() = %d, %v", n, err)
	}
	if n, _ := d.Count(ctx, c, storage.All{}); n != 1 {
		t.Errorf("Count() = %d", n)
	}
	if size, _ := d.TotalSize(ctx, c, storage.Eq{Field: "userId", Value: "u1"}); size != 0 {
		t.Errorf("TotalSize() after delete = %d", size)
	}
}

func TestDriver_IndexesAndDrop(t *testing.T) {
	t.Parallel()

	d := newTestDriver(t)
	c := eventsCollection()
	ctx := context.Background()

	if err := d.EnsureIndexes(ctx, c); err != nil {
		t.Fatalf("EnsureIndexes() error = %v", err)
	}
	infos, err := d.ListIndexes(ctx, c)
	if err != nil {
		t.Fatalf("ListIndexes() error = %v", err)
	}
	got := map[string]bool{}
	for _, info := range infos {
		got[info.Name] = info.Unique
	}
	want := map[string]bool{"_id_": true, "events__time": false, "events__email": true}
	for name, unique := range want {
		u, ok := got[name]
		if !ok || u != unique {
			t.Errorf("index %s: present=%v unique=%v", name, ok, u)
		}
	}

	seed(t, d, c, storage.Document{"_id": "a", "userId": "u1"})
	if err := d.DropCollection(ctx, c); err != nil {
		t.Fatalf("DropCollection() error = %v", err)
	}
	if n, err := d.Count(ctx, c, storage.All{}); err != nil || n != 0 {
		t.Errorf("Count() after drop = %d, %v", n, err)
	}
}

func TestDSN(t *testing.T) {
	t.Parallel()

	got := dsn(Config{Path: "/tmp/x.db", JournalMode: "wal", BusyTimeout: 5 * time.Second})
	for _, part := range []string{"_busy_timeout=5000", "_journal_mode=WAL", "_txlock=immediate"} {
		if !strings.Contains(got, part) {
			t.Errorf("dsn() = %q, missing %q", got, part)
		}
	}
}
