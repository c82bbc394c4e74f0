package storage

import "context"

// Engine identifies a database technology.
type Engine string

const (
	// EngineMongoDB is the clustered document database.
	EngineMongoDB Engine = "mongodb"

	// EngineSQLite is the embedded single-process relational engine.
	EngineSQLite Engine = "sqlite"
)

// SortKey orders query results.
type SortKey struct {
	Field     string
	Direction Direction
}

// FindOptions configures a query.
type FindOptions struct {
	// Sort lists the sort keys in priority order.
	Sort []SortKey

	// Skip is the number of documents to skip.
	Skip int64

	// Limit is the maximum number of documents to return (0 = no limit).
	Limit int64

	// Projection keeps only the listed top-level fields (empty = all).
	Projection []string
}

// UpdateResult reports the outcome of a bulk update.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// IndexInfo describes an index as reported by the backend.
type IndexInfo struct {
	Name   string
	Unique bool
}

// Cursor iterates over query results. Next reads at most one document ahead.
type Cursor interface {
	// Next advances to the next document, returning false when exhausted or
	// on error.
	Next(ctx context.Context) bool

	// Document returns the current document.
	Document() Document

	// Err returns the first error encountered.
	Err() error

	// Close releases the cursor.
	Close(ctx context.Context) error
}

// Driver executes neutral operations against one database technology.
//
// Documents passed to and returned from a driver are in storage shape: the
// identifier lives in "_id" and partition keys are explicit fields.
type Driver interface {
	// Engine reports the backend technology.
	Engine() Engine

	// Connect establishes the connection if needed. Concurrent callers share
	// one in-flight attempt.
	Connect(ctx context.Context) error

	// EnsureIndexes creates the collection's indexes at most once per driver.
	EnsureIndexes(ctx context.Context, c Collection) error

	// Find returns a cursor over matching documents.
	Find(ctx context.Context, c Collection, f Filter, opts FindOptions) (Cursor, error)

	// FindOne returns the first matching document or ErrNotFound.
	FindOne(ctx context.Context, c Collection, f Filter, opts FindOptions) (Document, error)

	// InsertOne inserts a document.
	InsertOne(ctx context.Context, c Collection, d Document) error

	// InsertMany inserts documents in order, stopping at the first error.
	InsertMany(ctx context.Context, c Collection, docs []Document) error

	// UpdateOne atomically updates the first matching document and returns
	// it after modification, or ErrNotFound.
	UpdateOne(ctx context.Context, c Collection, f Filter, u Update) (Document, error)

	// UpdateMany updates every matching document.
	UpdateMany(ctx context.Context, c Collection, f Filter, u Update) (UpdateResult, error)

	// ReplaceOne replaces the first matching document, returning the number
	// of matched documents.
	ReplaceOne(ctx context.Context, c Collection, f Filter, d Document) (int64, error)

	// DeleteMany physically removes matching documents.
	DeleteMany(ctx context.Context, c Collection, f Filter) (int64, error)

	// Count counts matching documents.
	Count(ctx context.Context, c Collection, f Filter) (int64, error)

	// ListIndexes lists the indexes present on the collection.
	ListIndexes(ctx context.Context, c Collection) ([]IndexInfo, error)

	// TotalSize approximates the storage size in bytes of matching documents.
	TotalSize(ctx context.Context, c Collection, f Filter) (int64, error)

	// DropCollection removes the collection and forgets its index status.
	DropCollection(ctx context.Context, c Collection) error

	// Close releases the connection.
	Close(ctx context.Context) error
}
