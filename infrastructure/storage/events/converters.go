package events

import (
	"fmt"
	"math"

	"github.com/felixgeelhaar/eventstore-go/domain/event"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/domain/systemstream"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/convert"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/integrity"
)

// Event stage names.
const (
	StageStreamIDs     = "stream-ids"
	StageTagStreams    = "tag-streams"
	StageEndTime       = "duration-to-end-time"
	StageMirrors       = "unique-mirrors"
	StageIntegrity     = "integrity"
	StageStripInternal = "strip-internal"
	StageDuration      = "end-time-to-duration"
	StageTagStrip      = "tag-streams-strip"
)

// ItemToDBOrder is the order of the event to-storage stages. The end time
// is derived before deletion encoding, and integrity is stamped over the
// result, before the identifier is renamed.
var ItemToDBOrder = []string{
	StageStreamIDs,
	StageTagStreams,
	StageEndTime,
	convert.StageTrashedToDB,
	StageMirrors,
	StageIntegrity,
	convert.StageIDToDB,
}

// ItemFromDBOrder is the order of the event from-storage stages.
var ItemFromDBOrder = []string{
	convert.StageIDFromDB,
	StageStripInternal,
	StageDuration,
	convert.StageTrashedFromDB,
	StageTagStrip,
}

// Converters builds the converter set of the event collection.
func Converters(registry systemstream.Registry, hasher *integrity.Hasher) convert.Set {
	return convert.Set{
		ItemToDB: convert.NewPipeline(
			convert.ItemStage(StageStreamIDs, normalizeStreamIDs),
			convert.ItemStage(StageTagStreams, addTagStreams),
			convert.ItemStage(StageEndTime, durationToEndTime),
			convert.TrashedToDB(),
			convert.ItemStage(StageMirrors, func(d storage.Document) error {
				refreshMirrors(d, registry)
				return nil
			}),
			convert.ItemStage(StageIntegrity, hasher.Stamp),
			convert.IDToDB(),
		),
		ItemFromDB: convert.NewPipeline(
			convert.IDFromDB(),
			convert.ItemStage(StageStripInternal, stripInternal),
			convert.ItemStage(StageDuration, endTimeToDuration),
			convert.TrashedFromDB(),
			convert.ItemStage(StageTagStrip, stripTagStreams),
		),
		QueryToDB: convert.NewPipeline(
			convert.QueryIDToDB(),
			convert.QueryTrashedToDB(),
		),
		UpdateToDB: convert.NewPipeline(
			convert.UpdateTrashedToDB(),
			convert.UpdateStage(StageEndTime, updateEndTime),
		),
	}
}

// normalizeStreamIDs folds the legacy single stream id into streamIds and
// removes duplicates, keeping the first occurrence.
func normalizeStreamIDs(d storage.Document) error {
	var ids []any
	if raw, ok := d[event.FieldStreamIDs].([]any); ok {
		ids = raw
	}
	if legacy, ok := d[event.FieldLegacyStreamID].(string); ok && legacy != "" {
		ids = append([]any{legacy}, ids...)
	}
	delete(d, event.FieldLegacyStreamID)

	if !d.IsNull(storage.FieldDeleted) {
		return nil
	}
	_, hadStreams := d[event.FieldStreamIDs]
	if !hadStreams && ids == nil {
		if d.IsNull(storage.FieldHeadID) {
			return event.ErrEmptyStreamIDs
		}
		return nil
	}

	seen := make(map[string]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		s, ok := id.(string)
		if !ok || s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return event.ErrEmptyStreamIDs
	}
	d[event.FieldStreamIDs] = out
	return nil
}

// addTagStreams mirrors every tag into a synthetic tag stream.
func addTagStreams(d storage.Document) error {
	tags, ok := d[event.FieldTags].([]any)
	if !ok || len(tags) == 0 {
		return nil
	}
	ids, _ := d[event.FieldStreamIDs].([]any)
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		if s, ok := id.(string); ok {
			present[s] = true
		}
	}
	for _, tag := range tags {
		s, ok := tag.(string)
		if !ok || s == "" {
			continue
		}
		id := event.TagStreamID(s)
		if !present[id] {
			present[id] = true
			ids = append(ids, id)
		}
	}
	d[event.FieldStreamIDs] = ids
	return nil
}

// durationToEndTime derives the stored end time. An explicit null duration
// stores a null end time, meaning the event is running.
func durationToEndTime(d storage.Document) error {
	duration, hasDuration := d[event.FieldDuration]
	t, hasTime := d.Float(event.FieldTime)

	switch {
	case hasDuration && duration == nil:
		d[event.FieldEndTime] = nil
	case !hasDuration:
		if hasTime {
			d[event.FieldEndTime] = t
		} else {
			delete(d, event.FieldEndTime)
		}
	default:
		dur, ok := storage.ToFloat(duration)
		if !ok {
			return storage.InvalidOperation("duration must be a number or null, got %T", duration)
		}
		if !hasTime {
			return event.ErrMissingTime
		}
		d[event.FieldEndTime] = t + dur
	}
	return nil
}

// endTimeToDuration restores the duration and drops the end time. A stored
// duration wins over the derived one; a disagreement is only logged.
func endTimeToDuration(d storage.Document) error {
	endTime, hasEnd := d[event.FieldEndTime]
	delete(d, event.FieldEndTime)
	if !hasEnd {
		return nil
	}

	derived, known := derivedDuration(d, endTime)
	stored, hasDuration := d[event.FieldDuration]
	if !hasDuration {
		if endTime == nil {
			d[event.FieldDuration] = nil
		} else if known && derived != 0 {
			d[event.FieldDuration] = derived
		}
		return nil
	}

	if !durationsAgree(stored, endTime, derived, known) {
		logging.Warn().
			Add(logging.EventID(d.String(storage.FieldID))).
			Add(logging.Str("stored_duration", formatDuration(stored))).
			Add(logging.Str("derived_duration", formatDuration(derived))).
			Msg("stored duration does not match end time")
	}
	return nil
}

func derivedDuration(d storage.Document, endTime any) (float64, bool) {
	end, ok := storage.ToFloat(endTime)
	if !ok {
		return 0, false
	}
	t, ok := d.Float(event.FieldTime)
	if !ok {
		return 0, false
	}
	return end - t, true
}

func durationsAgree(stored, endTime any, derived float64, known bool) bool {
	if stored == nil || endTime == nil {
		return stored == nil && endTime == nil
	}
	s, ok := storage.ToFloat(stored)
	if !ok || !known {
		return false
	}
	return math.Abs(s-derived) < 1e-6
}

func formatDuration(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}

// stripInternal removes storage-internal fields other than the end time.
func stripInternal(d storage.Document) error {
	delete(d, event.FieldBatchID)
	delete(d, event.FieldLegacyStreamID)
	for k := range d {
		if event.IsMirrorField(k) {
			delete(d, k)
		}
	}
	return nil
}

// stripTagStreams hides the synthetic tag streams from callers.
func stripTagStreams(d storage.Document) error {
	ids, ok := d[event.FieldStreamIDs].([]any)
	if !ok {
		return nil
	}
	kept := make([]any, 0, len(ids))
	for _, id := range ids {
		if s, isStr := id.(string); isStr && event.IsTagStreamID(s) {
			continue
		}
		kept = append(kept, id)
	}
	d[event.FieldStreamIDs] = kept
	return nil
}

// refreshMirrors sets the uniqueness mirror of every unique system stream
// the event carries, and removes every other mirror. Trashed events,
// tombstones and history records carry none.
func refreshMirrors(d storage.Document, registry systemstream.Registry) {
	for k := range d {
		if event.IsMirrorField(k) {
			delete(d, k)
		}
	}
	if registry == nil || event.StateOf(d) != event.StateLive {
		return
	}
	for _, id := range d.Strings(event.FieldStreamIDs) {
		if field, ok := registry.UniqueFieldForStream(id); ok {
			d[event.MirrorField(field)] = d[event.FieldContent]
		}
	}
}

// updateEndTime keeps the end time consistent with a bulk update when the
// update carries enough to derive it. A duration set without a time leaves
// the end time to the per-document pass that follows every bulk update,
// which recomputes it from the stored time.
func updateEndTime(u *storage.Update) error {
	duration, setsDuration := u.Set[event.FieldDuration]
	if !setsDuration {
		if u.Unsets(event.FieldDuration) {
			if t, ok := storage.ToFloat(u.Set[event.FieldTime]); ok {
				*u = u.WithSet(event.FieldEndTime, t)
			}
		}
		return nil
	}
	if duration == nil {
		*u = u.WithSet(event.FieldEndTime, nil)
		return nil
	}
	dur, ok := storage.ToFloat(duration)
	if !ok {
		return storage.InvalidOperation("duration must be a number or null, got %T", duration)
	}
	if t, ok := storage.ToFloat(u.Set[event.FieldTime]); ok {
		*u = u.WithSet(event.FieldEndTime, t+dur)
	}
	return nil
}

// syncEndTime recomputes the end time of a stored document from its final
// time and duration.
func syncEndTime(d storage.Document) {
	if !d.IsNull(storage.FieldDeleted) && !d.Has(event.FieldTime) {
		delete(d, event.FieldEndTime)
		return
	}
	_ = durationToEndTime(d)
}
