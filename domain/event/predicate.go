package event

// PredicateType identifies a structured query predicate.
type PredicateType string

// Supported predicate types.
const (
	PredicateEqual                PredicateType = "equal"
	PredicateGreater              PredicateType = "greater"
	PredicateGreaterOrEqual       PredicateType = "greaterOrEqual"
	PredicateLowerOrEqual         PredicateType = "lowerOrEqual"
	PredicateGreaterOrEqualOrNull PredicateType = "greaterOrEqualOrNull"
	PredicateTypesList            PredicateType = "typesList"
	PredicateStreamsQuery         PredicateType = "streamsQuery"
)

// Predicate is one element of a structured event query. Which fields are
// used depends on Type: comparisons use Field and Value, typesList uses
// Types and streamsQuery uses Streams.
type Predicate struct {
	Type    PredicateType  `json:"type"`
	Field   string         `json:"field,omitempty"`
	Value   any            `json:"value,omitempty"`
	Types   []string       `json:"types,omitempty"`
	Streams []StreamsQuery `json:"streams,omitempty"`
}

// StreamsQuery is one block of a stream-membership expression. An event
// matches the block when it is in any of Any, in each of All and in none of
// Not. Blocks of a predicate are OR-ed.
type StreamsQuery struct {
	Any []string `json:"any,omitempty"`
	All []string `json:"all,omitempty"`
	Not []string `json:"not,omitempty"`
}

// IsEmpty reports whether the block constrains nothing.
func (q StreamsQuery) IsEmpty() bool {
	return len(q.Any) == 0 && len(q.All) == 0 && len(q.Not) == 0
}

// Equal matches a field value.
func Equal(field string, value any) Predicate {
	return Predicate{Type: PredicateEqual, Field: field, Value: value}
}

// Greater matches field > value.
func Greater(field string, value any) Predicate {
	return Predicate{Type: PredicateGreater, Field: field, Value: value}
}

// GreaterOrEqual matches field >= value.
func GreaterOrEqual(field string, value any) Predicate {
	return Predicate{Type: PredicateGreaterOrEqual, Field: field, Value: value}
}

// LowerOrEqual matches field <= value.
func LowerOrEqual(field string, value any) Predicate {
	return Predicate{Type: PredicateLowerOrEqual, Field: field, Value: value}
}

// GreaterOrEqualOrNull matches field >= value or an open-ended (null) field.
func GreaterOrEqualOrNull(field string, value any) Predicate {
	return Predicate{Type: PredicateGreaterOrEqualOrNull, Field: field, Value: value}
}

// TypesList matches any of the types; "foo/*" matches every sub-type of foo.
func TypesList(types ...string) Predicate {
	return Predicate{Type: PredicateTypesList, Types: types}
}

// Streams matches events satisfying at least one block.
func Streams(blocks ...StreamsQuery) Predicate {
	return Predicate{Type: PredicateStreamsQuery, Streams: blocks}
}
