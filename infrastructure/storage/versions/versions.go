// Package versions tracks the storage schema versions and their migration
// state in the unpartitioned "versions" collection.
package versions

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/collection"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/convert"
)

// Name is the versions collection name.
const Name = "versions"

// Version fields.
const (
	FieldMigrationStarted   = "migrationStarted"
	FieldMigrationCompleted = "migrationCompleted"
)

// ErrMigrationConflict is returned when starting or completing a migration
// a second time.
var ErrMigrationConflict = errors.New("migration state conflict")

// Version is one schema version record.
type Version struct {
	ID                 string
	MigrationStarted   float64
	MigrationCompleted float64
}

// Completed reports whether the migration to this version finished.
func (v Version) Completed() bool {
	return v.MigrationCompleted > 0
}

func fromDocument(d storage.Document) Version {
	started, _ := d.Float(FieldMigrationStarted)
	completed, _ := d.Float(FieldMigrationCompleted)
	return Version{ID: d.String(storage.FieldID), MigrationStarted: started, MigrationCompleted: completed}
}

// Store reads and writes version records.
type Store struct {
	base *collection.Store
}

// New creates the versions store.
func New(driver storage.Driver, opts ...collection.Option) *Store {
	c := storage.Collection{
		Name: Name,
		Indexes: []storage.Index{
			{Name: "completed", Keys: []storage.IndexKey{{Field: FieldMigrationCompleted, Direction: storage.Descending}}},
		},
	}
	return &Store{base: collection.New(c, driver, convert.Default(), opts...)}
}

// Current returns the most recently completed version. It returns
// storage.ErrNotFound on a fresh store.
func (s *Store) Current(ctx context.Context) (Version, error) {
	d, err := s.base.FindOne(ctx, "", storage.Exists{Field: FieldMigrationCompleted, Exists: true}, storage.FindOptions{
		Sort: []storage.SortKey{{Field: FieldMigrationCompleted, Direction: storage.Descending}},
	})
	if err != nil {
		return Version{}, err
	}
	return fromDocument(d), nil
}

// Get returns one version record.
func (s *Store) Get(ctx context.Context, id string) (Version, error) {
	d, err := s.base.FindOne(ctx, "", storage.Eq{Field: storage.FieldID, Value: id}, storage.FindOptions{})
	if err != nil {
		return Version{}, err
	}
	return fromDocument(d), nil
}

// StartMigration records the start of the migration to a version.
func (s *Store) StartMigration(ctx context.Context, id string) error {
	_, err := s.base.InsertOne(ctx, "", storage.Document{
		storage.FieldID:        id,
		FieldMigrationStarted: s.base.Now(),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return errors.Join(ErrMigrationConflict, err)
	}
	if err == nil {
		logging.Info().
			Add(logging.Collection(Name)).
			Add(logging.Str("version", id)).
			Msg("migration started")
	}
	return err
}

// CompleteMigration marks the migration to a version as finished.
func (s *Store) CompleteMigration(ctx context.Context, id string) error {
	_, err := s.base.UpdateOne(ctx, "",
		storage.Conjoin(
			storage.Eq{Field: storage.FieldID, Value: id},
			storage.Exists{Field: FieldMigrationCompleted, Exists: false},
		),
		storage.Update{Set: storage.Document{FieldMigrationCompleted: s.base.Now()}},
	)
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Join(ErrMigrationConflict, err)
	}
	return err
}

// RemoveAll drops every version record.
func (s *Store) RemoveAll(ctx context.Context) error {
	_, err := s.base.RemoveAll(ctx, "")
	return err
}

// EnsureIndexes creates the version indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	return s.base.EnsureIndexes(ctx)
}
