package event

import "fmt"

// DeletionMode controls what a tombstone retains. It is configured once for
// the whole store.
type DeletionMode string

const (
	// KeepNothing strips tombstones to id and deletion time and purges
	// history.
	KeepNothing DeletionMode = "keep-nothing"

	// KeepAuthors strips content but keeps the provenance trail; history
	// entries are stripped the same way and kept.
	KeepAuthors DeletionMode = "keep-authors"

	// KeepEverything only marks the event deleted and retains history.
	KeepEverything DeletionMode = "keep-everything"
)

// ParseDeletionMode validates a configured mode. The empty string selects
// KeepNothing.
func ParseDeletionMode(s string) (DeletionMode, error) {
	switch DeletionMode(s) {
	case "":
		return KeepNothing, nil
	case KeepNothing, KeepAuthors, KeepEverything:
		return DeletionMode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDeletionMode, s)
	}
}

// String returns the configuration value.
func (m DeletionMode) String() string {
	return string(m)
}

// KeepsContent reports whether tombstones retain the event content.
func (m DeletionMode) KeepsContent() bool {
	return m == KeepEverything
}

// KeepsProvenance reports whether tombstones retain created/modified data.
func (m DeletionMode) KeepsProvenance() bool {
	return m != KeepNothing
}

// KeepsIntegrity reports whether tombstones carry an integrity hash.
func (m DeletionMode) KeepsIntegrity() bool {
	return m != KeepNothing
}

// KeepsHistory reports whether history records survive deletion.
func (m DeletionMode) KeepsHistory() bool {
	return m != KeepNothing
}

// StripsHistory reports whether surviving history records are reduced to
// their provenance.
func (m DeletionMode) StripsHistory() bool {
	return m == KeepAuthors
}

// DiscardsAttachments reports whether deleting triggers attachment removal.
func (m DeletionMode) DiscardsAttachments() bool {
	return m != KeepEverything
}

// DeletionConfig is the global retention policy.
type DeletionConfig struct {
	Mode DeletionMode

	// ForceKeepHistory snapshots every update and delete into a history
	// record first.
	ForceKeepHistory bool
}
