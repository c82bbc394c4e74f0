// Package systemstream defines the lookup service describing system streams:
// reserved stream ids that carry schema metadata such as uniqueness.
package systemstream

import (
	"sort"
	"strings"
)

// Prefix marks system stream ids.
const Prefix = ":_system:"

// Field describes a system stream mapped to an account field.
type Field struct {
	// StreamID is the system stream an event must carry to hold the field.
	StreamID string `json:"streamId" yaml:"streamId"`
	// Name is the account field name, e.g. "email".
	Name string `json:"name" yaml:"name"`
	// Unique allows one active value per user.
	Unique bool `json:"unique,omitempty" yaml:"unique,omitempty"`
	// Indexed requests a secondary index on the field.
	Indexed bool `json:"indexed,omitempty" yaml:"indexed,omitempty"`
}

// Registry answers schema questions about system streams.
type Registry interface {
	// UniqueFields lists the names of fields with a uniqueness constraint.
	UniqueFields() []string

	// UniqueFieldForStream returns the unique field carried by a stream.
	UniqueFieldForStream(streamID string) (string, bool)

	// IsUniqueStream reports whether the stream denotes a unique field.
	IsUniqueStream(streamID string) bool

	// IndexedFields lists the names of indexed, non-unique fields.
	IndexedFields() []string
}

// Static is a Registry over a fixed field list.
type Static struct {
	byStream map[string]Field
}

// NewStatic creates a registry. A field without a stream id gets
// Prefix + name.
func NewStatic(fields ...Field) *Static {
	s := &Static{byStream: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f.StreamID == "" {
			f.StreamID = Prefix + f.Name
		}
		s.byStream[f.StreamID] = f
	}
	return s
}

// UniqueFields implements Registry.
func (s *Static) UniqueFields() []string {
	return s.names(func(f Field) bool { return f.Unique })
}

// IndexedFields implements Registry.
func (s *Static) IndexedFields() []string {
	return s.names(func(f Field) bool { return f.Indexed && !f.Unique })
}

// UniqueFieldForStream implements Registry.
func (s *Static) UniqueFieldForStream(streamID string) (string, bool) {
	f, ok := s.byStream[streamID]
	if !ok || !f.Unique {
		return "", false
	}
	return f.Name, true
}

// IsUniqueStream implements Registry.
func (s *Static) IsUniqueStream(streamID string) bool {
	_, ok := s.UniqueFieldForStream(streamID)
	return ok
}

func (s *Static) names(keep func(Field) bool) []string {
	var out []string
	for _, f := range s.byStream {
		if keep(f) {
			out = append(out, f.Name)
		}
	}
	sort.Strings(out)
	return out
}

// IsSystemStream reports whether a stream id is reserved.
func IsSystemStream(streamID string) bool {
	return strings.HasPrefix(streamID, Prefix)
}

// Empty is a registry without system fields.
var Empty Registry = NewStatic()
