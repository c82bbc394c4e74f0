package storage

// Filter is a backend-neutral query predicate. Drivers render filters into
// their native query language.
//
// Field comparisons follow document-database semantics: when the stored value
// is an array, Eq and In match if any element matches, and Ne / NotIn match if
// no element matches. Eq with a nil value matches both null and absent fields.
type Filter interface {
	isFilter()
}

// All matches every document.
type All struct{}

// Eq matches documents whose field equals Value.
type Eq struct {
	Field string
	Value any
}

// Ne matches documents whose field differs from Value.
type Ne struct {
	Field string
	Value any
}

// Gt matches documents whose field is strictly greater than Value.
type Gt struct {
	Field string
	Value any
}

// Gte matches documents whose field is greater than or equal to Value.
type Gte struct {
	Field string
	Value any
}

// Lt matches documents whose field is strictly lower than Value.
type Lt struct {
	Field string
	Value any
}

// Lte matches documents whose field is lower than or equal to Value.
type Lte struct {
	Field string
	Value any
}

// In matches documents whose field equals one of Values.
type In struct {
	Field  string
	Values []any
}

// NotIn matches documents whose field equals none of Values.
type NotIn struct {
	Field  string
	Values []any
}

// Exists matches on field presence (Exists true) or absence (Exists false).
type Exists struct {
	Field  string
	Exists bool
}

// Prefix matches string fields starting with Prefix.
type Prefix struct {
	Field  string
	Prefix string
}

// And matches when every sub-filter matches. An empty And matches all.
type And []Filter

// Or matches when at least one sub-filter matches. An empty Or matches none.
type Or []Filter

// Not negates a filter.
type Not struct {
	Filter Filter
}

func (All) isFilter()    {}
func (Eq) isFilter()     {}
func (Ne) isFilter()     {}
func (Gt) isFilter()     {}
func (Gte) isFilter()    {}
func (Lt) isFilter()     {}
func (Lte) isFilter()    {}
func (In) isFilter()     {}
func (NotIn) isFilter()  {}
func (Exists) isFilter() {}
func (Prefix) isFilter() {}
func (And) isFilter()    {}
func (Or) isFilter()     {}
func (Not) isFilter()    {}

// Conjoin combines filters with And, dropping nils and All.
func Conjoin(filters ...Filter) Filter {
	out := make(And, 0, len(filters))
	for _, f := range filters {
		switch t := f.(type) {
		case nil, All:
			continue
		case And:
			out = append(out, t...)
		default:
			out = append(out, f)
		}
	}
	switch len(out) {
	case 0:
		return All{}
	case 1:
		return out[0]
	default:
		return out
	}
}

// Rewrite walks the filter tree bottom-up, replacing each node with fn(node).
func Rewrite(f Filter, fn func(Filter) Filter) Filter {
	switch t := f.(type) {
	case nil:
		return nil
	case And:
		out := make(And, len(t))
		for i, sub := range t {
			out[i] = Rewrite(sub, fn)
		}
		return fn(out)
	case Or:
		out := make(Or, len(t))
		for i, sub := range t {
			out[i] = Rewrite(sub, fn)
		}
		return fn(out)
	case Not:
		return fn(Not{Filter: Rewrite(t.Filter, fn)})
	default:
		return fn(f)
	}
}

// RenameField rewrites every comparison on from so that it targets to.
func RenameField(f Filter, from, to string) Filter {
	rename := func(field string) string {
		if field == from {
			return to
		}
		return field
	}
	return Rewrite(f, func(node Filter) Filter {
		switch t := node.(type) {
		case Eq:
			t.Field = rename(t.Field)
			return t
		case Ne:
			t.Field = rename(t.Field)
			return t
		case Gt:
			t.Field = rename(t.Field)
			return t
		case Gte:
			t.Field = rename(t.Field)
			return t
		case Lt:
			t.Field = rename(t.Field)
			return t
		case Lte:
			t.Field = rename(t.Field)
			return t
		case In:
			t.Field = rename(t.Field)
			return t
		case NotIn:
			t.Field = rename(t.Field)
			return t
		case Exists:
			t.Field = rename(t.Field)
			return t
		case Prefix:
			t.Field = rename(t.Field)
			return t
		default:
			return node
		}
	})
}

// FilterFromDocument builds an equality conjunction from a flat document,
// the shorthand used for simple lookups such as {"id": "abc"}.
func FilterFromDocument(d Document) Filter {
	if len(d) == 0 {
		return All{}
	}
	out := make(And, 0, len(d))
	for _, k := range d.Keys() {
		out = append(out, Eq{Field: k, Value: d[k]})
	}
	return Conjoin(out...)
}

// LiveOnly is the safety filter excluding tombstones and history records.
func LiveOnly() Filter {
	return And{
		Eq{Field: FieldDeleted, Value: nil},
		Eq{Field: FieldHeadID, Value: nil},
	}
}
