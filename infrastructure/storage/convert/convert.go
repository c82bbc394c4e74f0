// Package convert composes the ordered transformations applied to items,
// queries and updates on their way to and from a driver.
package convert

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// Stage is one named transformation.
type Stage[T any] struct {
	Name  string
	Apply func(ctx context.Context, v T) (T, error)
}

// Pipeline is an immutable ordered list of stages.
type Pipeline[T any] struct {
	stages []Stage[T]
}

// NewPipeline composes stages in order.
func NewPipeline[T any](stages ...Stage[T]) Pipeline[T] {
	return Pipeline[T]{stages: append([]Stage[T](nil), stages...)}
}

// Then returns a new pipeline with stages appended.
func (p Pipeline[T]) Then(stages ...Stage[T]) Pipeline[T] {
	out := make([]Stage[T], 0, len(p.stages)+len(stages))
	out = append(out, p.stages...)
	out = append(out, stages...)
	return Pipeline[T]{stages: out}
}

// Run applies every stage in order, stopping at the first error.
func (p Pipeline[T]) Run(ctx context.Context, v T) (T, error) {
	for _, s := range p.stages {
		var err error
		v, err = s.Apply(ctx, v)
		if err != nil {
			return v, fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return v, nil
}

// Names lists the stage names in order.
func (p Pipeline[T]) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of stages.
func (p Pipeline[T]) Len() int {
	return len(p.stages)
}

// Set is the converter composition of one entity type.
type Set struct {
	ItemToDB    Pipeline[storage.Document]
	ItemFromDB  Pipeline[storage.Document]
	ItemsToDB   Pipeline[[]storage.Document]
	ItemsFromDB Pipeline[[]storage.Document]
	QueryToDB   Pipeline[storage.Filter]
	UpdateToDB  Pipeline[storage.Update]
}

// Default is the converter set of a plain entity: id renaming and trashed
// elision.
func Default() Set {
	return Set{
		ItemToDB:   NewPipeline(TrashedToDB(), IDToDB()),
		ItemFromDB: NewPipeline(IDFromDB(), TrashedFromDB()),
		QueryToDB:  NewPipeline(QueryIDToDB(), QueryTrashedToDB()),
		UpdateToDB: NewPipeline(UpdateTrashedToDB()),
	}
}

// ToDB converts a copy of an item to storage shape.
func (s Set) ToDB(ctx context.Context, d storage.Document) (storage.Document, error) {
	return s.ItemToDB.Run(ctx, d.Clone())
}

// FromDB converts an item read from a driver. The document is owned by the
// caller and converted in place.
func (s Set) FromDB(ctx context.Context, d storage.Document) (storage.Document, error) {
	return s.ItemFromDB.Run(ctx, d)
}

// ManyToDB applies the batch stages then converts every item.
func (s Set) ManyToDB(ctx context.Context, docs []storage.Document) ([]storage.Document, error) {
	copies := make([]storage.Document, len(docs))
	for i, d := range docs {
		copies[i] = d.Clone()
	}
	batch, err := s.ItemsToDB.Run(ctx, copies)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Document, 0, len(batch))
	for _, d := range batch {
		conv, err := s.ItemToDB.Run(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

// ManyFromDB converts every item then applies the batch stages.
func (s Set) ManyFromDB(ctx context.Context, docs []storage.Document) ([]storage.Document, error) {
	out := make([]storage.Document, 0, len(docs))
	for _, d := range docs {
		conv, err := s.ItemFromDB.Run(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return s.ItemsFromDB.Run(ctx, out)
}

// Query converts a filter.
func (s Set) Query(ctx context.Context, f storage.Filter) (storage.Filter, error) {
	if f == nil {
		f = storage.All{}
	}
	return s.QueryToDB.Run(ctx, f)
}

// Update converts a copy of an update.
func (s Set) Update(ctx context.Context, u storage.Update) (storage.Update, error) {
	return s.UpdateToDB.Run(ctx, u.Clone())
}
