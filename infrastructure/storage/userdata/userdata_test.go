package userdata_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/collection"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/sqlite"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/userdata"
)

func newDriver(t *testing.T) *sqlite.Driver {
	t.Helper()
	driver := sqlite.New(sqlite.DefaultConfig(), sqlite.WithPath(filepath.Join(t.TempDir(), "userdata.db")))
	t.Cleanup(func() { _ = driver.Close(context.Background()) })
	return driver
}

func TestAccesses_Uniqueness(t *testing.T) {
	t.Parallel()

	s := userdata.Accesses(newDriver(t), collection.WithClock(func() float64 { return 10 }))
	ctx := context.Background()

	if _, err := s.InsertOne(ctx, "u1", storage.Document{"id": "a1", "token": "t1", "type": "app", "name": "diary"}); err != nil {
		t.Fatalf("InsertOne() error = %v", err)
	}

	tests := []struct {
		name  string
		doc   storage.Document
		field string
	}{
		{"token", storage.Document{"id": "a2", "token": "t1", "type": "app", "name": "other"}, "token"},
		{"name", storage.Document{"id": "a3", "token": "t3", "type": "app", "name": "diary"}, "name"},
	}
	for _, tt := range tests {
		_, err := s.InsertOne(ctx, "u1", tt.doc)
		dup, ok := storage.AsDuplicate(err)
		if !ok || dup.Field != tt.field {
			t.Errorf("%s: InsertOne() error = %v, want duplicate on %s", tt.name, err, tt.field)
		}
	}

	if _, err := s.InsertOne(ctx, "u2", storage.Document{"id": "a1", "token": "t1", "type": "app", "name": "diary"}); err != nil {
		t.Errorf("InsertOne() for another user error = %v", err)
	}

	if _, err := s.Delete(ctx, "u1", storage.Eq{Field: "id", Value: "a1"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	deleted, err := s.FindDeletions(ctx, "u1", 0, storage.FindOptions{})
	if err != nil || len(deleted) != 1 || deleted[0]["deleted"] != 10.0 {
		t.Fatalf("FindDeletions() = %v, %v", deleted, err)
	}
	_, err = s.InsertOne(ctx, "u1", storage.Document{"id": "a4", "token": "t1", "type": "app", "name": "new"})
	if _, ok := storage.AsDuplicate(err); !ok {
		t.Errorf("token of a deleted access was reused: %v", err)
	}
}

func TestWebhooks_DeleteFreesURL(t *testing.T) {
	t.Parallel()

	s := userdata.Webhooks(newDriver(t))
	ctx := context.Background()

	hook := storage.Document{"id": "w1", "accessId": "a1", "url": "https://example.com/hook"}
	if _, err := s.InsertOne(ctx, "u1", hook); err != nil {
		t.Fatalf("InsertOne() error = %v", err)
	}
	if _, err := s.Delete(ctx, "u1", storage.Eq{Field: "id", Value: "w1"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	hook["id"] = "w2"
	if _, err := s.InsertOne(ctx, "u1", hook); err != nil {
		t.Errorf("InsertOne() after delete error = %v", err)
	}
}

func TestProfile_Sets(t *testing.T) {
	t.Parallel()

	s := userdata.Profile(newDriver(t))
	ctx := context.Background()

	if _, err := s.InsertOne(ctx, "u1", storage.Document{"id": "public", "data": map[string]any{"nick": "x"}}); err != nil {
		t.Fatalf("InsertOne() error = %v", err)
	}
	got, err := s.UpdateOne(ctx, "u1", storage.Eq{Field: "id", Value: "public"},
		storage.Update{Set: storage.Document{"data.nick": "y", "data.lang": "en"}})
	if err != nil {
		t.Fatalf("UpdateOne() error = %v", err)
	}
	data, ok := got["data"].(map[string]any)
	if !ok || data["nick"] != "y" || data["lang"] != "en" {
		t.Errorf("UpdateOne() = %v", got)
	}
}

func TestProfile_SameSetAcrossUsers(t *testing.T) {
	t.Parallel()

	s := userdata.Profile(newDriver(t))
	ctx := context.Background()

	users := []struct {
		user storage.UserID
		nick string
	}{
		{"u1", "first"},
		{"u2", "second"},
	}
	for _, u := range users {
		for _, set := range []string{"public", "private", "app"} {
			doc := storage.Document{"id": set, "data": map[string]any{"nick": u.nick}}
			if _, err := s.InsertOne(ctx, u.user, doc); err != nil {
				t.Fatalf("InsertOne(%s, %s) error = %v", u.user, set, err)
			}
		}
	}

	if _, err := s.UpdateOne(ctx, "u1", storage.Eq{Field: "id", Value: "public"},
		storage.Update{Set: storage.Document{"data.nick": "renamed"}}); err != nil {
		t.Fatalf("UpdateOne() error = %v", err)
	}
	if _, err := s.RemoveOne(ctx, "u1", storage.Eq{Field: "id", Value: "app"}); err != nil {
		t.Fatalf("RemoveOne() error = %v", err)
	}

	tests := []struct {
		user storage.UserID
		set  string
		nick string
	}{
		{"u1", "public", "renamed"},
		{"u2", "public", "second"},
		{"u2", "app", "second"},
	}
	for _, tt := range tests {
		got, err := s.FindOne(ctx, tt.user, storage.Eq{Field: "id", Value: tt.set}, storage.FindOptions{})
		if err != nil {
			t.Fatalf("FindOne(%s, %s) error = %v", tt.user, tt.set, err)
		}
		if data, _ := got["data"].(map[string]any); data["nick"] != tt.nick {
			t.Errorf("FindOne(%s, %s) = %v, want nick %s", tt.user, tt.set, got, tt.nick)
		}
	}

	_, err := s.InsertOne(ctx, "u2", storage.Document{"id": "public"})
	if dup, ok := storage.AsDuplicate(err); !ok || dup.Field != storage.FieldID {
		t.Errorf("InsertOne() same user and set error = %v, want duplicate id", err)
	}
}

func TestFollowedSlices_CompoundUniqueness(t *testing.T) {
	t.Parallel()

	s := userdata.FollowedSlices(newDriver(t))
	ctx := context.Background()

	if _, err := s.InsertOne(ctx, "u1", storage.Document{"id": "f1", "name": "a", "url": "https://x", "accessToken": "t"}); err != nil {
		t.Fatalf("InsertOne() error = %v", err)
	}
	if _, err := s.InsertOne(ctx, "u1", storage.Document{"id": "f2", "name": "b", "url": "https://x", "accessToken": "other"}); err != nil {
		t.Errorf("InsertOne() with another token error = %v", err)
	}
	_, err := s.InsertOne(ctx, "u1", storage.Document{"id": "f3", "name": "c", "url": "https://x", "accessToken": "t"})
	if dup, ok := storage.AsDuplicate(err); !ok || dup.Field != "accessToken" {
		t.Errorf("InsertOne() error = %v, want duplicate on accessToken", err)
	}
}
