package storage

import (
	"strings"
	"time"
)

// Well-known document fields shared by every entity collection.
const (
	// FieldID is the public identifier.
	FieldID = "id"
	// FieldDBID is the identifier as stored by drivers.
	FieldDBID = "_id"
	// FieldUserID is the partition key of per-user collections.
	FieldUserID = "userId"
	// FieldDeleted marks a tombstone.
	FieldDeleted = "deleted"
	// FieldHeadID marks a history record.
	FieldHeadID = "headId"
	// FieldTrashed marks a trashed item.
	FieldTrashed = "trashed"
	// FieldIntegrity carries the content hash.
	FieldIntegrity = "integrity"
)

// Direction is an index key sort order.
type Direction int

const (
	// Ascending index order.
	Ascending Direction = 1
	// Descending index order.
	Descending Direction = -1
)

// IndexKey is one component of a compound index.
type IndexKey struct {
	Field     string
	Direction Direction
}

// Index describes a secondary index on a collection.
type Index struct {
	// Name is the logical index name; drivers create the index under it so
	// that duplicate-key errors can be traced back.
	Name string

	// Keys lists the indexed fields in order.
	Keys []IndexKey

	// Unique rejects two documents with the same key values.
	Unique bool

	// Partial restricts the index to documents matching the filter. Only
	// Exists, Eq, Gt/Gte/Lt/Lte and And are portable across drivers.
	Partial Filter

	// ExpireAfter enables time-to-live expiration where supported.
	ExpireAfter time.Duration
}

// Field returns the logical field guarded by the index: its last key that
// is not the partition key.
func (i Index) Field() string {
	for j := len(i.Keys) - 1; j >= 0; j-- {
		if i.Keys[j].Field != FieldUserID {
			return i.Keys[j].Field
		}
	}
	return ""
}

// Collection is the descriptor every store and driver operation is
// parameterized by.
type Collection struct {
	// Name is the collection (or table) name.
	Name string

	// Indexes lists the secondary indexes.
	Indexes []Index

	// PartitionKey is the per-user isolation field, empty for shared
	// collections.
	PartitionKey string
}

// Partitioned reports whether documents are isolated per user.
func (c Collection) Partitioned() bool {
	return c.PartitionKey != ""
}

// EffectiveIndexes returns the indexes as they must be created: names are
// qualified with the collection name and partitioned collections get the
// partition key prepended to every index.
func (c Collection) EffectiveIndexes() []Index {
	out := make([]Index, 0, len(c.Indexes))
	for _, idx := range c.Indexes {
		eff := idx
		eff.Name = c.IndexName(idx)
		if c.Partitioned() && (len(idx.Keys) == 0 || idx.Keys[0].Field != c.PartitionKey) {
			keys := make([]IndexKey, 0, len(idx.Keys)+1)
			keys = append(keys, IndexKey{Field: c.PartitionKey, Direction: Ascending})
			keys = append(keys, idx.Keys...)
			eff.Keys = keys
		}
		out = append(out, eff)
	}
	return out
}

// IndexName returns the physical name of an index.
func (c Collection) IndexName(idx Index) string {
	name := idx.Name
	if name == "" {
		parts := make([]string, 0, len(idx.Keys))
		for _, k := range idx.Keys {
			parts = append(parts, strings.ReplaceAll(k.Field, ".", "_"))
		}
		name = strings.Join(parts, "_")
	}
	return c.Name + "__" + name
}

// IndexByName finds the logical index behind a physical index name.
func (c Collection) IndexByName(physical string) (Index, bool) {
	for _, idx := range c.Indexes {
		if c.IndexName(idx) == physical {
			return idx, true
		}
	}
	return Index{}, false
}
