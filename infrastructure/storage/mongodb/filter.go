package mongodb

import (
	"fmt"
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// matchNothing is a filter no document satisfies.
var matchNothing = bson.D{{Key: "$nor", Value: bson.A{bson.D{}}}}

// toFilter renders a neutral filter as a query document.
func toFilter(c storage.Collection, f storage.Filter) (bson.D, error) {
	switch t := f.(type) {
	case nil, storage.All:
		return bson.D{}, nil
	case storage.Eq:
		return bson.D{{Key: storedField(c, t.Field), Value: t.Value}}, nil
	case storage.Ne:
		return op(storedField(c, t.Field), "$ne", t.Value), nil
	case storage.Gt:
		return op(storedField(c, t.Field), "$gt", t.Value), nil
	case storage.Gte:
		return op(storedField(c, t.Field), "$gte", t.Value), nil
	case storage.Lt:
		return op(storedField(c, t.Field), "$lt", t.Value), nil
	case storage.Lte:
		return op(storedField(c, t.Field), "$lte", t.Value), nil
	case storage.In:
		return op(storedField(c, t.Field), "$in", values(t.Values)), nil
	case storage.NotIn:
		return op(storedField(c, t.Field), "$nin", values(t.Values)), nil
	case storage.Exists:
		return op(storedField(c, t.Field), "$exists", t.Exists), nil
	case storage.Prefix:
		return op(storedField(c, t.Field), "$regex", "^"+regexp.QuoteMeta(t.Prefix)), nil
	case storage.And:
		if len(t) == 0 {
			return bson.D{}, nil
		}
		parts, err := toFilters(c, t)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$and", Value: parts}}, nil
	case storage.Or:
		if len(t) == 0 {
			return matchNothing, nil
		}
		parts, err := toFilters(c, t)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$or", Value: parts}}, nil
	case storage.Not:
		inner, err := toFilter(c, t.Filter)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$nor", Value: bson.A{inner}}}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported filter %T", storage.ErrInvalidOperation, f)
	}
}

func toFilters(c storage.Collection, filters []storage.Filter) (bson.A, error) {
	out := make(bson.A, 0, len(filters))
	for _, f := range filters {
		d, err := toFilter(c, f)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func op(field, operator string, value any) bson.D {
	return bson.D{{Key: field, Value: bson.D{{Key: operator, Value: value}}}}
}

func values(vs []any) bson.A {
	if vs == nil {
		return bson.A{}
	}
	return bson.A(vs)
}

// toUpdate renders a neutral update. Empty updates render as nil.
func toUpdate(u storage.Update) bson.D {
	var out bson.D
	if len(u.Set) > 0 {
		set := make(bson.D, 0, len(u.Set))
		for _, k := range u.Set.Keys() {
			set = append(set, bson.E{Key: k, Value: u.Set[k]})
		}
		out = append(out, bson.E{Key: "$set", Value: set})
	}
	if len(u.Unset) > 0 {
		unset := make(bson.D, 0, len(u.Unset))
		for _, k := range u.Unset {
			unset = append(unset, bson.E{Key: k, Value: ""})
		}
		out = append(out, bson.E{Key: "$unset", Value: unset})
	}
	if len(u.Pull) > 0 {
		fields := make([]string, 0, len(u.Pull))
		for field := range u.Pull {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		pull := make(bson.D, 0, len(fields))
		for _, field := range fields {
			pull = append(pull, bson.E{Key: field, Value: bson.D{{Key: "$in", Value: values(u.Pull[field])}}})
		}
		out = append(out, bson.E{Key: "$pull", Value: pull})
	}
	return out
}

// toSort renders sort keys.
func toSort(c storage.Collection, keys []storage.SortKey) bson.D {
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		out = append(out, bson.E{Key: storedField(c, k.Field), Value: int(k.Direction)})
	}
	return out
}

// toProjection renders an inclusion projection. The id is always returned.
func toProjection(c storage.Collection, fields []string) bson.D {
	out := make(bson.D, 0, len(fields)+1)
	seen := make(map[string]bool, len(fields)+1)
	for _, f := range fields {
		f = storedField(c, f)
		if !seen[f] {
			seen[f] = true
			out = append(out, bson.E{Key: f, Value: 1})
		}
	}
	if c.Partitioned() && !seen[logicalIDField] {
		out = append(out, bson.E{Key: logicalIDField, Value: 1})
	}
	return out
}
