package event

import "github.com/felixgeelhaar/eventstore-go/domain/storage"

// State is the lifecycle state of a stored event document.
type State string

// Lifecycle states. History is not part of the lifecycle of an event id: a
// history record is a separate immutable document.
const (
	StateLive       State = "live"
	StateTrashed    State = "trashed"
	StateTombstoned State = "tombstoned"
	StateHistory    State = "history"
)

// StateOf classifies a document in API or storage shape.
func StateOf(d storage.Document) State {
	switch {
	case !d.IsNull(storage.FieldHeadID):
		return StateHistory
	case !d.IsNull(storage.FieldDeleted):
		return StateTombstoned
	case d.Bool(storage.FieldTrashed):
		return StateTrashed
	default:
		return StateLive
	}
}

// IsLive reports whether the document is neither a tombstone nor history.
func IsLive(d storage.Document) bool {
	s := StateOf(d)
	return s == StateLive || s == StateTrashed
}
