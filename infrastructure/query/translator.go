// Package query compiles structured event predicates into neutral storage
// filters. The active driver renders the result natively.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/eventstore-go/domain/event"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// StreamTree expands a stream id into itself and its descendants.
type StreamTree interface {
	Descendants(ctx context.Context, user storage.UserID, id string) ([]string, error)
}

// Translator compiles predicate lists for one stream tree source.
type Translator struct {
	streams StreamTree
}

// New creates a translator. A nil tree leaves stream ids unexpanded.
func New(streams StreamTree) *Translator {
	return &Translator{streams: streams}
}

// Translate compiles predicates into a filter over live events. An empty
// list matches every live event.
func (t *Translator) Translate(ctx context.Context, user storage.UserID, preds []event.Predicate) (storage.Filter, error) {
	parts := storage.And{storage.LiveOnly()}
	for _, p := range preds {
		f, err := t.predicate(ctx, user, p)
		if err != nil {
			return nil, err
		}
		if f != nil {
			parts = append(parts, f)
		}
	}
	return parts, nil
}

func (t *Translator) predicate(ctx context.Context, user storage.UserID, p event.Predicate) (storage.Filter, error) {
	switch p.Type {
	case event.PredicateEqual:
		return storage.Eq{Field: p.Field, Value: p.Value}, nil
	case event.PredicateGreater:
		return storage.Gt{Field: p.Field, Value: p.Value}, nil
	case event.PredicateGreaterOrEqual:
		return storage.Gte{Field: p.Field, Value: p.Value}, nil
	case event.PredicateLowerOrEqual:
		return storage.Lte{Field: p.Field, Value: p.Value}, nil
	case event.PredicateGreaterOrEqualOrNull:
		return storage.Or{
			storage.Gte{Field: p.Field, Value: p.Value},
			storage.Eq{Field: p.Field, Value: nil},
		}, nil
	case event.PredicateTypesList:
		return typesList(p.Types), nil
	case event.PredicateStreamsQuery:
		return t.streamsQuery(ctx, user, p.Streams)
	default:
		return nil, fmt.Errorf("%w: %q", event.ErrUnknownPredicate, p.Type)
	}
}

// typesList matches any listed type. "foo/*" matches every "foo/..." type.
func typesList(types []string) storage.Filter {
	var exact []any
	or := storage.Or{}
	for _, typ := range types {
		if base, ok := strings.CutSuffix(typ, "/*"); ok {
			or = append(or, storage.Prefix{Field: event.FieldType, Prefix: base + "/"})
			continue
		}
		exact = append(exact, typ)
	}
	if len(exact) > 0 {
		or = append(or, storage.In{Field: event.FieldType, Values: exact})
	}
	if len(or) == 1 {
		return or[0]
	}
	return or
}

// streamsQuery ORs the blocks. Within a block, any is one membership test
// over the expanded ids, all is one membership test per listed stream and
// not excludes every expanded id.
func (t *Translator) streamsQuery(ctx context.Context, user storage.UserID, blocks []event.StreamsQuery) (storage.Filter, error) {
	or := storage.Or{}
	for _, b := range blocks {
		if b.IsEmpty() {
			continue
		}
		and := storage.And{}
		if len(b.Any) > 0 {
			ids, err := t.expand(ctx, user, b.Any...)
			if err != nil {
				return nil, err
			}
			and = append(and, storage.In{Field: event.FieldStreamIDs, Values: ids})
		}
		for _, id := range b.All {
			ids, err := t.expand(ctx, user, id)
			if err != nil {
				return nil, err
			}
			and = append(and, storage.In{Field: event.FieldStreamIDs, Values: ids})
		}
		if len(b.Not) > 0 {
			ids, err := t.expand(ctx, user, b.Not...)
			if err != nil {
				return nil, err
			}
			and = append(and, storage.NotIn{Field: event.FieldStreamIDs, Values: ids})
		}
		or = append(or, and)
	}
	switch len(or) {
	case 0:
		return nil, nil
	case 1:
		return or[0], nil
	default:
		return or, nil
	}
}

func (t *Translator) expand(ctx context.Context, user storage.UserID, ids ...string) ([]any, error) {
	seen := make(map[string]bool)
	var out []any
	for _, id := range ids {
		expanded := []string{id}
		if t.streams != nil {
			var err error
			expanded, err = t.streams.Descendants(ctx, user, id)
			if err != nil {
				return nil, err
			}
		}
		for _, e := range expanded {
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// Running matches events with an open end, stored as an explicit null end
// time.
func Running() storage.Filter {
	return storage.And{
		storage.Exists{Field: event.FieldEndTime, Exists: true},
		storage.Eq{Field: event.FieldEndTime, Value: nil},
	}
}

// TimeRange returns the predicates of events overlapping [from, to]: the
// event starts at or before to and ends at or after from. A nil bound is
// open. Running events have a null end time, so the from bound never
// excludes them; only their start is compared with to.
func TimeRange(from, to *float64) []event.Predicate {
	var preds []event.Predicate
	if to != nil {
		preds = append(preds, event.LowerOrEqual(event.FieldTime, *to))
	}
	if from != nil {
		preds = append(preds, event.GreaterOrEqualOrNull(event.FieldEndTime, *from))
	}
	return preds
}
