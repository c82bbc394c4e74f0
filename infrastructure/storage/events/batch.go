package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/eventstore-go/domain/event"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
)

// bulkUpdate runs a multi-document update in two passes. The first pass
// applies the update, clears the integrity field and the uniqueness mirrors
// and tags every modified document with a fresh batch id. The second pass
// re-reads the tagged documents and rewrites each one with its recomputed
// end time, mirrors and hash, removing the tag. A re-stamp count that
// differs from the modified count is reported but never fails the call.
//
// An update that would give two live events the same unique value is
// rejected before anything is written. A document whose re-stamp still
// fails is restored to its state before the batch.
func (s *Store) bulkUpdate(ctx context.Context, user storage.UserID, q storage.Filter, u storage.Update, stamp bool) (storage.UpdateResult, error) {
	originals, err := s.collect(ctx, q)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	if len(originals) == 0 {
		return storage.UpdateResult{}, nil
	}
	if err := s.checkUnique(ctx, user, originals, u); err != nil {
		return storage.UpdateResult{}, err
	}

	batch := uuid.NewString()
	unset := append([]string{storage.FieldIntegrity}, s.mirrorFields()...)
	marked := u.WithSet(event.FieldBatchID, batch).WithUnset(unset...)

	res, err := s.Driver().UpdateMany(ctx, s.Collection(), q, marked)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	if res.Matched == 0 {
		return res, nil
	}

	byID := make(map[string]storage.Document, len(originals))
	for _, o := range originals {
		byID[o.String(storage.FieldDBID)] = o
	}
	restamped, err := s.restamp(ctx, user, batch, stamp, byID)

	name := s.Collection().Name
	if restamped > 0 {
		s.Metrics().RecordIntegrityRestamp(ctx, name, restamped)
	}
	if err != nil {
		return res, err
	}
	if restamped != res.Modified {
		logging.Warn().
			Add(logging.Collection(name)).
			Add(logging.UserID(user)).
			Add(logging.BatchID(batch)).
			Add(logging.Count("modified", res.Modified)).
			Add(logging.Count("restamped", restamped)).
			Msg("integrity re-stamp count differs from modified count")
		s.Metrics().RecordIntegrityMismatch(ctx, name, res.Modified, restamped)
	}
	return res, nil
}

func (s *Store) mirrorFields() []string {
	fields := s.registry.UniqueFields()
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		out = append(out, event.MirrorField(field))
	}
	return out
}

// checkUnique simulates the update on the targets and fails when a unique
// value would end up on two live events: two targets, or a target and an
// event outside the batch.
func (s *Store) checkUnique(ctx context.Context, user storage.UserID, targets []storage.Document, u storage.Update) error {
	mirrors := s.mirrorFields()
	if len(mirrors) == 0 {
		return nil
	}

	ids := make([]any, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.String(storage.FieldDBID))
	}

	seen := make(map[string]bool)
	for _, before := range targets {
		after := before.Clone()
		u.Apply(after)
		refreshMirrors(after, s.registry)

		for _, mirror := range mirrors {
			value, ok := after[mirror]
			if !ok || value == nil {
				continue
			}
			key := mirror + "\x00" + fmt.Sprintf("%T:%v", value, value)
			if seen[key] {
				return s.duplicateMirror(mirror)
			}
			seen[key] = true

			// The unique index already keeps a value the event holds from
			// reaching anyone else.
			if held, ok := before[mirror]; ok && storage.ValuesEqual(held, value) {
				continue
			}
			others, err := s.Scope(user, storage.Conjoin(
				storage.Eq{Field: mirror, Value: value},
				storage.NotIn{Field: storage.FieldDBID, Values: ids},
			))
			if err != nil {
				return err
			}
			n, err := s.Driver().Count(ctx, s.Collection(), others)
			if err != nil {
				return err
			}
			if n > 0 {
				return s.duplicateMirror(mirror)
			}
		}
	}
	return nil
}

func (s *Store) duplicateMirror(mirror string) error {
	c := s.Collection()
	return &storage.DuplicateError{
		Collection: c.Name,
		Index:      c.IndexName(storage.Index{Name: mirror}),
		Field:      mirror,
		Err:        storage.ErrDuplicate,
	}
}

// restamp is the second pass of bulkUpdate. Every tagged document is
// visited even after a failure, so none keeps the batch id.
func (s *Store) restamp(ctx context.Context, user storage.UserID, batch string, stamp bool, originals map[string]storage.Document) (int64, error) {
	tagged, err := s.Scope(user, storage.Eq{Field: event.FieldBatchID, Value: batch})
	if err != nil {
		return 0, err
	}
	docs, err := s.collect(ctx, tagged)
	if err != nil {
		return 0, err
	}

	var n int64
	var failures []error
	for _, before := range docs {
		id := before.String(storage.FieldDBID)
		err := s.restampOne(ctx, user, batch, before, stamp)
		switch {
		case err == nil:
			n++
		case errors.Is(err, storage.ErrNotFound):
			logging.Debug().
				Add(logging.EventID(id)).
				Add(logging.BatchID(batch)).
				Msg("event changed during re-stamp")
		default:
			failures = append(failures, err)
			s.rollback(ctx, user, batch, id, originals[id], err)
		}
	}

	logging.Trace().
		Add(logging.Collection(s.Collection().Name)).
		Add(logging.BatchID(batch)).
		Add(logging.Count("restamped", n)).
		Msg("batch re-stamped")
	return n, errors.Join(failures...)
}

func (s *Store) restampOne(ctx context.Context, user storage.UserID, batch string, before storage.Document, stamp bool) error {
	after := before.Clone()
	delete(after, event.FieldBatchID)
	syncEndTime(after)
	refreshMirrors(after, s.registry)
	if stamp {
		if err := s.hasher.Stamp(after); err != nil {
			return err
		}
	}

	byID, err := s.Scope(user, storage.Conjoin(
		storage.Eq{Field: storage.FieldDBID, Value: before.String(storage.FieldDBID)},
		storage.Eq{Field: event.FieldBatchID, Value: batch},
	))
	if err != nil {
		return err
	}
	_, err = s.Driver().UpdateOne(ctx, s.Collection(), byID, diff(before, after))
	return err
}

// rollback puts an event whose re-stamp failed back into its state before
// the batch. Without a known prior state only the batch id is removed.
func (s *Store) rollback(ctx context.Context, user storage.UserID, batch, id string, original storage.Document, cause error) {
	byID, err := s.Scope(user, storage.Conjoin(
		storage.Eq{Field: storage.FieldDBID, Value: id},
		storage.Eq{Field: event.FieldBatchID, Value: batch},
	))
	if err != nil {
		return
	}

	if original != nil {
		if _, err = s.Driver().ReplaceOne(ctx, s.Collection(), byID, original); err == nil {
			logging.Warn().
				Add(logging.EventID(id)).
				Add(logging.BatchID(batch)).
				Add(logging.ErrorField(cause)).
				Msg("event restored after failed re-stamp")
			return
		}
	}
	if _, err = s.Driver().UpdateOne(ctx, s.Collection(), byID, storage.Update{Unset: []string{event.FieldBatchID}}); err != nil {
		logging.Error().
			Add(logging.EventID(id)).
			Add(logging.BatchID(batch)).
			Add(logging.ErrorField(err)).
			Msg("batch id left on event")
	}
}

// diff returns the update turning before into after, comparing top-level
// fields only.
func diff(before, after storage.Document) storage.Update {
	var u storage.Update
	for _, k := range after.Keys() {
		if v, ok := before[k]; ok && storage.ValuesEqual(v, after[k]) {
			continue
		}
		if u.Set == nil {
			u.Set = storage.Document{}
		}
		u.Set[k] = after[k]
	}
	for _, k := range before.Keys() {
		if _, ok := after[k]; !ok {
			u.Unset = append(u.Unset, k)
		}
	}
	return u
}
