package versions_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/collection"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/sqlite"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/versions"
)

func TestStore_Migrations(t *testing.T) {
	t.Parallel()

	driver := sqlite.New(sqlite.DefaultConfig(), sqlite.WithPath(filepath.Join(t.TempDir(), "versions.db")))
	t.Cleanup(func() { _ = driver.Close(context.Background()) })

	now := 100.0
	s := versions.New(driver, collection.WithClock(func() float64 {
		now++
		return now
	}))
	ctx := context.Background()

	if _, err := s.Current(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Current() on empty store error = %v", err)
	}

	for _, v := range []string{"1.8.0", "1.9.0"} {
		if err := s.StartMigration(ctx, v); err != nil {
			t.Fatalf("StartMigration(%s) error = %v", v, err)
		}
		if err := s.CompleteMigration(ctx, v); err != nil {
			t.Fatalf("CompleteMigration(%s) error = %v", v, err)
		}
	}

	cur, err := s.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if cur.ID != "1.9.0" || !cur.Completed() {
		t.Errorf("Current() = %+v", cur)
	}

	if err := s.StartMigration(ctx, "1.9.0"); !errors.Is(err, versions.ErrMigrationConflict) {
		t.Errorf("StartMigration() twice error = %v", err)
	}
	if err := s.CompleteMigration(ctx, "1.9.0"); !errors.Is(err, versions.ErrMigrationConflict) {
		t.Errorf("CompleteMigration() twice error = %v", err)
	}

	if err := s.StartMigration(ctx, "2.0.0"); err != nil {
		t.Fatalf("StartMigration() error = %v", err)
	}
	pending, err := s.Get(ctx, "2.0.0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if pending.Completed() || pending.MigrationStarted == 0 {
		t.Errorf("Get() = %+v", pending)
	}
	cur, err = s.Current(ctx)
	if err != nil || cur.ID != "1.9.0" {
		t.Errorf("Current() with pending migration = %+v, %v", cur, err)
	}

	if err := s.RemoveAll(ctx); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
}
