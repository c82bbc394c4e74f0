package convert

import (
	"context"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// Item stage names shared across entity types.
const (
	StageIDToDB        = "id-to-db"
	StageIDFromDB      = "id-from-db"
	StageTrashedToDB   = "trashed-to-db"
	StageTrashedFromDB = "trashed-from-db"
	StageStripFields   = "strip-fields"
)

// ItemStage builds a document stage from an in-place transformation.
func ItemStage(name string, fn func(storage.Document) error) Stage[storage.Document] {
	return Stage[storage.Document]{
		Name: name,
		Apply: func(_ context.Context, d storage.Document) (storage.Document, error) {
			if d == nil {
				return d, nil
			}
			return d, fn(d)
		},
	}
}

// IDToDB renames id to _id.
func IDToDB() Stage[storage.Document] {
	return ItemStage(StageIDToDB, func(d storage.Document) error {
		if v, ok := d[storage.FieldID]; ok {
			d[storage.FieldDBID] = v
			delete(d, storage.FieldID)
		}
		return nil
	})
}

// IDFromDB renames _id to id.
func IDFromDB() Stage[storage.Document] {
	return ItemStage(StageIDFromDB, func(d storage.Document) error {
		if v, ok := d[storage.FieldDBID]; ok {
			d[storage.FieldID] = v
			delete(d, storage.FieldDBID)
		}
		return nil
	})
}

// TrashedToDB drops trashed:false; only true is stored.
func TrashedToDB() Stage[storage.Document] {
	return ItemStage(StageTrashedToDB, func(d storage.Document) error {
		if v, ok := d[storage.FieldTrashed]; ok && v != true {
			delete(d, storage.FieldTrashed)
		}
		return nil
	})
}

// TrashedFromDB restores the implicit trashed:false on live items.
// Tombstones keep their minimal shape.
func TrashedFromDB() Stage[storage.Document] {
	return ItemStage(StageTrashedFromDB, func(d storage.Document) error {
		if !d.IsNull(storage.FieldDeleted) {
			return nil
		}
		if _, ok := d[storage.FieldTrashed]; !ok {
			d[storage.FieldTrashed] = false
		}
		return nil
	})
}

// StripFields removes fields that never leave the store.
func StripFields(fields ...string) Stage[storage.Document] {
	return ItemStage(StageStripFields, func(d storage.Document) error {
		for _, f := range fields {
			delete(d, f)
		}
		return nil
	})
}

// Query stage names.
const (
	StageQueryIDToDB      = "query-id-to-db"
	StageQueryTrashedToDB = "query-trashed-to-db"
)

// FilterStage builds a query stage from a node rewrite.
func FilterStage(name string, fn func(storage.Filter) storage.Filter) Stage[storage.Filter] {
	return Stage[storage.Filter]{
		Name: name,
		Apply: func(_ context.Context, f storage.Filter) (storage.Filter, error) {
			return storage.Rewrite(f, fn), nil
		},
	}
}

// QueryIDToDB targets _id wherever a filter compares id.
func QueryIDToDB() Stage[storage.Filter] {
	return Stage[storage.Filter]{
		Name: StageQueryIDToDB,
		Apply: func(_ context.Context, f storage.Filter) (storage.Filter, error) {
			return storage.RenameField(f, storage.FieldID, storage.FieldDBID), nil
		},
	}
}

// QueryTrashedToDB matches the elided trashed:false: equality with false
// becomes "not true".
func QueryTrashedToDB() Stage[storage.Filter] {
	return FilterStage(StageQueryTrashedToDB, func(node storage.Filter) storage.Filter {
		if eq, ok := node.(storage.Eq); ok && eq.Field == storage.FieldTrashed && eq.Value == false {
			return storage.Ne{Field: storage.FieldTrashed, Value: true}
		}
		return node
	})
}

// Update stage names.
const (
	StageUpdateTrashedToDB = "update-trashed-to-db"
)

// UpdateStage builds an update stage from an in-place transformation of a
// cloned update.
func UpdateStage(name string, fn func(*storage.Update) error) Stage[storage.Update] {
	return Stage[storage.Update]{
		Name: name,
		Apply: func(_ context.Context, u storage.Update) (storage.Update, error) {
			return u, fn(&u)
		},
	}
}

// UpdateTrashedToDB turns setting trashed:false into removing the field.
func UpdateTrashedToDB() Stage[storage.Update] {
	return UpdateStage(StageUpdateTrashedToDB, func(u *storage.Update) error {
		if v, ok := u.Set[storage.FieldTrashed]; ok && v != true {
			*u = u.WithUnset(storage.FieldTrashed)
		}
		return nil
	})
}
