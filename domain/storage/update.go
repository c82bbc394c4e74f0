package storage

import "reflect"

// Update is a backend-neutral partial modification.
//
// Set and Unset accept dotted paths. Pull removes every occurrence of the
// listed values from array fields.
type Update struct {
	Set   Document
	Unset []string
	Pull  map[string][]any
}

// IsEmpty reports whether the update would change nothing.
func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0 && len(u.Pull) == 0
}

// Unsets reports whether the update removes the given field.
func (u Update) Unsets(field string) bool {
	for _, f := range u.Unset {
		if f == field {
			return true
		}
	}
	return false
}

// Touches reports whether the update sets or removes the given field.
func (u Update) Touches(field string) bool {
	if _, ok := u.Set[field]; ok {
		return true
	}
	if _, ok := u.Pull[field]; ok {
		return true
	}
	return u.Unsets(field)
}

// Clone returns a deep copy of the update.
func (u Update) Clone() Update {
	out := Update{Set: u.Set.Clone()}
	if u.Unset != nil {
		out.Unset = append([]string(nil), u.Unset...)
	}
	if u.Pull != nil {
		out.Pull = make(map[string][]any, len(u.Pull))
		for k, v := range u.Pull {
			out.Pull[k] = append([]any(nil), v...)
		}
	}
	return out
}

// WithSet returns a copy with an additional Set entry.
func (u Update) WithSet(field string, value any) Update {
	out := u.Clone()
	if out.Set == nil {
		out.Set = Document{}
	}
	out.Set[field] = value
	return out
}

// WithUnset returns a copy that also removes the given fields. A field both
// set and unset is dropped from Set.
func (u Update) WithUnset(fields ...string) Update {
	out := u.Clone()
	for _, f := range fields {
		if out.Unsets(f) {
			continue
		}
		delete(out.Set, f)
		out.Unset = append(out.Unset, f)
	}
	return out
}

// Apply performs the update on a document in place. Drivers without native
// partial-update support use it inside a transaction.
func (u Update) Apply(d Document) {
	for _, k := range u.Set.Keys() {
		d.SetPath(k, cloneValue(u.Set[k]))
	}
	for _, k := range u.Unset {
		d.UnsetPath(k)
	}
	for field, values := range u.Pull {
		cur, ok := d.Lookup(field)
		if !ok {
			continue
		}
		arr, ok := cur.([]any)
		if !ok {
			continue
		}
		kept := make([]any, 0, len(arr))
		for _, e := range arr {
			if !containsValue(values, e) {
				kept = append(kept, e)
			}
		}
		d.SetPath(field, kept)
	}
}

func containsValue(values []any, v any) bool {
	for _, candidate := range values {
		if ValuesEqual(candidate, v) {
			return true
		}
	}
	return false
}

// ValuesEqual compares two document values, treating all numeric
// types as float64.
func ValuesEqual(a, b any) bool {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}
