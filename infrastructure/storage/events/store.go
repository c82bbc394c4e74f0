// Package events implements the event store: duration and end time
// duality, deletion modes, version history, uniqueness mirrors and the
// integrity re-stamping that follows every bulk update.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/eventstore-go/domain/attachment"
	"github.com/felixgeelhaar/eventstore-go/domain/event"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/domain/systemstream"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/statemachine"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/collection"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/integrity"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
)

// Name is the event collection name.
const Name = "events"

// Config configures the event store.
type Config struct {
	// Deletion is the global retention policy.
	Deletion event.DeletionConfig

	// Integrity enables content hashing.
	Integrity bool

	// Registry describes the unique system streams. Nil means none.
	Registry systemstream.Registry

	// Attachments removes files of deleted events. Nil disables removal.
	Attachments attachment.Store

	// Metrics records operations.
	Metrics telemetry.Metrics

	// Clock provides deletion times.
	Clock collection.Clock
}

// Collection returns the event collection descriptor. Every unique system
// field gets a unique index on its mirror, restricted to documents that
// carry the mirror.
func Collection(registry systemstream.Registry) storage.Collection {
	indexes := []storage.Index{
		{Name: "time", Keys: []storage.IndexKey{{Field: event.FieldTime, Direction: storage.Descending}}},
		{Name: "endTime", Keys: []storage.IndexKey{{Field: event.FieldEndTime, Direction: storage.Ascending}}},
		{Name: "streamIds", Keys: []storage.IndexKey{{Field: event.FieldStreamIDs, Direction: storage.Ascending}}},
		{Name: "type", Keys: []storage.IndexKey{{Field: event.FieldType, Direction: storage.Ascending}}},
		{Name: "modified", Keys: []storage.IndexKey{{Field: event.FieldModified, Direction: storage.Ascending}}},
		{
			Name:    "deleted",
			Keys:    []storage.IndexKey{{Field: storage.FieldDeleted, Direction: storage.Ascending}},
			Partial: storage.Exists{Field: storage.FieldDeleted, Exists: true},
		},
		{
			Name:    "headId",
			Keys:    []storage.IndexKey{{Field: storage.FieldHeadID, Direction: storage.Ascending}},
			Partial: storage.Exists{Field: storage.FieldHeadID, Exists: true},
		},
	}
	if registry != nil {
		for _, field := range registry.UniqueFields() {
			mirror := event.MirrorField(field)
			indexes = append(indexes, storage.Index{
				Name:    mirror,
				Keys:    []storage.IndexKey{{Field: mirror, Direction: storage.Ascending}},
				Unique:  true,
				Partial: storage.Exists{Field: mirror, Exists: true},
			})
		}
	}
	return storage.Collection{Name: Name, Indexes: indexes, PartitionKey: storage.FieldUserID}
}

// Store is the event store.
type Store struct {
	*collection.Store

	deletion    event.DeletionConfig
	registry    systemstream.Registry
	hasher      *integrity.Hasher
	lifecycle   *statemachine.Lifecycle
	attachments attachment.Store
}

// New creates the event store.
func New(driver storage.Driver, cfg Config) (*Store, error) {
	mode, err := event.ParseDeletionMode(string(cfg.Deletion.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Deletion.Mode = mode

	lifecycle, err := statemachine.NewLifecycle(mode)
	if err != nil {
		return nil, err
	}

	s := &Store{
		deletion:    cfg.Deletion,
		registry:    cfg.Registry,
		hasher:      integrity.New(integrity.KindEvent, cfg.Integrity),
		lifecycle:   lifecycle,
		attachments: cfg.Attachments,
	}
	if s.registry == nil {
		s.registry = systemstream.Empty
	}

	s.Store = collection.New(
		Collection(s.registry),
		driver,
		Converters(s.registry, s.hasher),
		collection.WithMetrics(cfg.Metrics),
		collection.WithClock(cfg.Clock),
		collection.WithTombstone(s.tombstone),
	)
	return s, nil
}

// Hasher returns the integrity hasher.
func (s *Store) Hasher() *integrity.Hasher { return s.hasher }

// DeletionMode returns the configured deletion mode.
func (s *Store) DeletionMode() event.DeletionMode { return s.deletion.Mode }

// tombstone builds the deletion update for the configured mode. Mirrors
// always go so that the unique value is freed.
func (s *Store) tombstone(deleted float64) storage.Update {
	mode := s.deletion.Mode
	var unset []string
	for _, field := range s.registry.UniqueFields() {
		unset = append(unset, event.MirrorField(field))
	}
	if !mode.KeepsContent() {
		unset = append(unset, event.ContentFields...)
	}
	if !mode.KeepsProvenance() {
		unset = append(unset, event.ProvenanceFields...)
	}
	if !mode.KeepsIntegrity() {
		unset = append(unset, storage.FieldIntegrity)
	}
	return storage.Update{
		Set:   storage.Document{storage.FieldDeleted: deleted},
		Unset: unset,
	}
}

// normalizeDuplicate reports mirror collisions under the system field name.
func normalizeDuplicate(err error) error {
	dup, ok := storage.AsDuplicate(err)
	if !ok || !event.IsMirrorField(dup.Field) {
		return err
	}
	out := *dup
	out.Field = strings.TrimSuffix(dup.Field, event.UniqueSuffix)
	return &out
}

// InsertOne stores a new event. A missing id is generated.
func (s *Store) InsertOne(ctx context.Context, user storage.UserID, d storage.Document) (storage.Document, error) {
	d = d.Clone()
	if d.IsNull(storage.FieldID) {
		d[storage.FieldID] = uuid.NewString()
	}
	out, err := s.Store.InsertOne(ctx, user, d)
	return out, normalizeDuplicate(err)
}

// InsertMany stores new events in order.
func (s *Store) InsertMany(ctx context.Context, user storage.UserID, docs []storage.Document) error {
	prepared := make([]storage.Document, len(docs))
	for i, d := range docs {
		d = d.Clone()
		if d.IsNull(storage.FieldID) {
			d[storage.FieldID] = uuid.NewString()
		}
		prepared[i] = d
	}
	return normalizeDuplicate(s.Store.InsertMany(ctx, user, prepared))
}

// UpdateOne replaces the first live event matching the filter with its
// updated version: the current document is read, snapshotted into history
// when required, merged with the update, converted and written back whole.
func (s *Store) UpdateOne(ctx context.Context, user storage.UserID, f storage.Filter, u storage.Update) (_ storage.Document, err error) {
	defer s.Observe(ctx, "updateOne", time.Now(), &err)

	if u.Touches(storage.FieldDeleted) || u.Touches(storage.FieldHeadID) || u.Touches(storage.FieldID) {
		return nil, storage.InvalidOperation("deletion state and identifiers cannot be updated")
	}

	q, err := s.Query(ctx, user, f, true)
	if err != nil {
		return nil, err
	}
	stored, err := s.Driver().FindOne(ctx, s.Collection(), q, storage.FindOptions{})
	if err != nil {
		return nil, err
	}
	current, err := s.FromDB(ctx, stored)
	if err != nil {
		return nil, err
	}
	id := current.String(storage.FieldID)

	merged := current.Clone()
	u.Apply(merged)
	delete(merged, storage.FieldIntegrity)

	if event.IsSeriesType(current.String(event.FieldType)) != event.IsSeriesType(merged.String(event.FieldType)) {
		return nil, event.ErrSeriesTypeChange
	}
	if err := s.lifecycle.Check(id, event.StateOf(current), event.StateOf(merged)); err != nil {
		return nil, err
	}

	if s.deletion.ForceKeepHistory {
		if err := s.snapshot(ctx, user, current); err != nil {
			return nil, err
		}
	}

	replacement, err := s.ToDB(ctx, user, merged)
	if err != nil {
		return nil, err
	}
	byID, err := s.Scope(user, storage.Eq{Field: storage.FieldDBID, Value: id})
	if err != nil {
		return nil, err
	}
	n, err := s.Driver().ReplaceOne(ctx, s.Collection(), byID, replacement)
	if err != nil {
		return nil, normalizeDuplicate(err)
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}
	return s.FromDB(ctx, replacement.Clone())
}

// snapshot inserts a history record of an event in API shape. The record
// gets a fresh id and points at the event through headId.
func (s *Store) snapshot(ctx context.Context, user storage.UserID, current storage.Document) error {
	h := current.Clone()
	h[storage.FieldHeadID] = current[storage.FieldID]
	h[storage.FieldID] = uuid.NewString()
	delete(h, storage.FieldIntegrity)

	stored, err := s.ToDB(ctx, user, h)
	if err != nil {
		return err
	}
	return s.Driver().InsertOne(ctx, s.Collection(), stored)
}

// UpdateMany applies an update to every live event matching the filter,
// then re-stamps integrity and mirrors of each modified event.
func (s *Store) UpdateMany(ctx context.Context, user storage.UserID, f storage.Filter, u storage.Update) (_ storage.UpdateResult, err error) {
	defer s.Observe(ctx, "updateMany", time.Now(), &err)

	if u.Touches(storage.FieldDeleted) || u.Touches(storage.FieldHeadID) || u.Touches(storage.FieldID) {
		return storage.UpdateResult{}, storage.InvalidOperation("deletion state and identifiers cannot be updated")
	}

	q, err := s.Query(ctx, user, f, true)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	conv, err := s.Converters().Update(ctx, u)
	if err != nil {
		return storage.UpdateResult{}, err
	}

	if s.deletion.ForceKeepHistory {
		targets, err := s.collect(ctx, q)
		if err != nil {
			return storage.UpdateResult{}, err
		}
		for _, t := range targets {
			current, err := s.FromDB(ctx, t)
			if err != nil {
				return storage.UpdateResult{}, err
			}
			if err := s.snapshot(ctx, user, current); err != nil {
				return storage.UpdateResult{}, err
			}
		}
	}

	res, err := s.bulkUpdate(ctx, user, q, conv, true)
	return res, normalizeDuplicate(err)
}

// Delete turns the live events matching the filter into tombstones
// according to the deletion mode. History is purged or stripped and
// attachments are removed when the mode discards them. Tombstones are left
// untouched, which makes deleting twice a no-op.
func (s *Store) Delete(ctx context.Context, user storage.UserID, f storage.Filter) (_ storage.UpdateResult, err error) {
	defer s.Observe(ctx, "delete", time.Now(), &err)

	q, err := s.Query(ctx, user, f, true)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	targets, err := s.collect(ctx, q)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	if len(targets) == 0 {
		return storage.UpdateResult{}, nil
	}

	mode := s.deletion.Mode
	ids := make([]any, 0, len(targets))
	for _, t := range targets {
		id := t.String(storage.FieldDBID)
		if err := s.lifecycle.Check(id, event.StateOf(t), event.StateTombstoned); err != nil {
			return storage.UpdateResult{}, err
		}
		ids = append(ids, id)
	}

	if s.deletion.ForceKeepHistory && mode.KeepsHistory() {
		for _, t := range targets {
			current, err := s.FromDB(ctx, t.Clone())
			if err != nil {
				return storage.UpdateResult{}, err
			}
			if err := s.snapshot(ctx, user, current); err != nil {
				return storage.UpdateResult{}, err
			}
		}
	}

	if err := s.retainHistory(ctx, user, ids); err != nil {
		return storage.UpdateResult{}, err
	}

	if mode.DiscardsAttachments() {
		s.removeAttachments(ctx, user, targets)
	}

	byIDs, err := s.Scope(user, storage.Conjoin(
		storage.In{Field: storage.FieldDBID, Values: ids},
		storage.LiveOnly(),
	))
	if err != nil {
		return storage.UpdateResult{}, err
	}
	return s.bulkUpdate(ctx, user, byIDs, s.tombstone(s.Now()), mode.KeepsIntegrity())
}

// retainHistory applies the deletion mode to the history of deleted events.
func (s *Store) retainHistory(ctx context.Context, user storage.UserID, ids []any) error {
	mode := s.deletion.Mode
	if mode.KeepsHistory() && !mode.StripsHistory() {
		return nil
	}
	q, err := s.Scope(user, storage.In{Field: storage.FieldHeadID, Values: ids})
	if err != nil {
		return err
	}

	if !mode.KeepsHistory() {
		n, err := s.Driver().DeleteMany(ctx, s.Collection(), q)
		if err != nil {
			return err
		}
		if n > 0 {
			logging.Debug().
				Add(logging.UserID(user)).
				Add(logging.Count("history_records", n)).
				Msg("history purged")
		}
		return nil
	}

	_, err = s.bulkUpdate(ctx, user, q, storage.Update{Unset: event.ContentFields}, true)
	return err
}

// removeAttachments deletes the files of every target event. Failures are
// logged; the deletion itself goes on.
func (s *Store) removeAttachments(ctx context.Context, user storage.UserID, targets []storage.Document) {
	if s.attachments == nil {
		return
	}
	for _, t := range targets {
		if len(event.AttachmentsOf(t)) == 0 {
			continue
		}
		id := t.String(storage.FieldDBID)
		if err := s.attachments.RemoveAllForEvent(ctx, user, id); err != nil {
			logging.Warn().
				Add(logging.UserID(user)).
				Add(logging.EventID(id)).
				Add(logging.ErrorField(err)).
				Msg("failed to remove attachments of deleted event")
		}
	}
}

// collect reads every document matching a storage filter before anything
// is written.
func (s *Store) collect(ctx context.Context, q storage.Filter) ([]storage.Document, error) {
	cur, err := s.Driver().Find(ctx, s.Collection(), q, storage.FindOptions{})
	if err != nil {
		return nil, err
	}
	return storage.Collect(ctx, cur)
}

// FindHistory returns the history records of an event, oldest first,
// relabeled with the event id.
func (s *Store) FindHistory(ctx context.Context, user storage.UserID, headID string, opts storage.FindOptions) (_ []storage.Document, err error) {
	defer s.Observe(ctx, "findHistory", time.Now(), &err)

	q, err := s.Scope(user, storage.Eq{Field: storage.FieldHeadID, Value: headID})
	if err != nil {
		return nil, err
	}
	if len(opts.Sort) == 0 {
		opts.Sort = []storage.SortKey{{Field: event.FieldModified, Direction: storage.Ascending}}
	}
	cur, err := s.Driver().Find(ctx, s.Collection(), q, opts)
	if err != nil {
		return nil, err
	}
	docs, err := storage.Collect(ctx, storage.NewMappedCursor(cur, s.FromDB))
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		d[storage.FieldID] = d[storage.FieldHeadID]
		delete(d, storage.FieldHeadID)
	}
	return docs, nil
}

// MinimizeHistory strips the history records of an event down to their
// provenance.
func (s *Store) MinimizeHistory(ctx context.Context, user storage.UserID, headID string) (err error) {
	defer s.Observe(ctx, "minimizeHistory", time.Now(), &err)

	q, err := s.Scope(user, storage.Eq{Field: storage.FieldHeadID, Value: headID})
	if err != nil {
		return err
	}
	_, err = s.bulkUpdate(ctx, user, q, storage.Update{Unset: event.ContentFields}, true)
	return err
}

// RemoveHistory physically removes the history records of an event.
func (s *Store) RemoveHistory(ctx context.Context, user storage.UserID, headID string) (_ int64, err error) {
	defer s.Observe(ctx, "removeHistory", time.Now(), &err)

	q, err := s.Scope(user, storage.Eq{Field: storage.FieldHeadID, Value: headID})
	if err != nil {
		return 0, err
	}
	return s.Driver().DeleteMany(ctx, s.Collection(), q)
}

// GetTotalSize returns the storage size of a user's events, tombstones and
// history included.
func (s *Store) GetTotalSize(ctx context.Context, user storage.UserID) (int64, error) {
	return s.TotalSize(ctx, user)
}

// Verify reports whether a stored event still matches its integrity hash.
func (s *Store) Verify(ctx context.Context, user storage.UserID, id string) (bool, error) {
	q, err := s.Scope(user, storage.Eq{Field: storage.FieldDBID, Value: id})
	if err != nil {
		return false, err
	}
	d, err := s.Driver().FindOne(ctx, s.Collection(), q, storage.FindOptions{})
	if err != nil {
		return false, err
	}
	return s.hasher.Verify(d)
}
