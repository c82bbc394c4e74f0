package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
)

// Driver is the SQLite implementation of storage.Driver.
type Driver struct {
	cfg     Config
	metrics telemetry.Metrics

	group singleflight.Group

	mu       sync.RWMutex
	db       *sql.DB
	prepared map[string]bool
}

// New creates a driver. The database is opened on first use.
func New(cfg Config, opts ...Option) *Driver {
	for _, opt := range opts {
		opt(&cfg)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetricsProvider{}
	}
	return &Driver{
		cfg:      cfg,
		metrics:  metrics,
		prepared: make(map[string]bool),
	}
}

// Engine implements storage.Driver.
func (d *Driver) Engine() storage.Engine {
	return storage.EngineSQLite
}

// Connect opens the database. Concurrent callers share one attempt.
func (d *Driver) Connect(ctx context.Context) error {
	_, err := d.handle(ctx)
	return err
}

func (d *Driver) handle(ctx context.Context) (*sql.DB, error) {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	v, err, _ := d.group.Do("connect", func() (any, error) {
		d.mu.RLock()
		existing := d.db
		d.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		opened, err := openDB(d.cfg)
		d.metrics.RecordConnectionAttempt(ctx, string(storage.EngineSQLite), err == nil)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.db = opened
		d.mu.Unlock()

		logging.Debug().
			Add(logging.Engine(storage.EngineSQLite)).
			Add(logging.Str("path", d.cfg.Path)).
			Msg("database opened")
		return opened, nil
	})
	if err != nil {
		return nil, storage.Unexpected(err)
	}
	return v.(*sql.DB), nil
}

// EnsureIndexes creates the collection table and its indexes once per
// driver.
func (d *Driver) EnsureIndexes(ctx context.Context, c storage.Collection) error {
	_, err := d.prepare(ctx, c)
	return err
}

func (d *Driver) prepare(ctx context.Context, c storage.Collection) (*sql.DB, error) {
	db, err := d.handle(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	done := d.prepared[c.Name]
	d.mu.RUnlock()
	if done {
		return db, nil
	}

	_, err, _ = d.group.Do("prepare:"+c.Name, func() (any, error) {
		d.mu.RLock()
		done := d.prepared[c.Name]
		d.mu.RUnlock()
		if done {
			return nil, nil
		}

		if err := migrate(ctx, db, c); err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.prepared[c.Name] = true
		d.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// partitionColumn holds the partition key value of each row. Rows are keyed
// on (partition, _id) so that ids only need to be unique per user; shared
// collections store the empty partition.
const partitionColumn = "_partition"

func tableSQL(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + " (" +
		partitionColumn + " TEXT NOT NULL DEFAULT '', _id TEXT NOT NULL, doc TEXT NOT NULL, " +
		"PRIMARY KEY (" + partitionColumn + ", _id))"
}

// partitionOf returns the partition a document belongs to.
func partitionOf(c storage.Collection, doc storage.Document) string {
	if !c.Partitioned() {
		return ""
	}
	return doc.String(c.PartitionKey)
}

// migrate creates the collection table and its indexes if they don't exist.
func migrate(ctx context.Context, db *sql.DB, c storage.Collection) error {
	table := quoteIdent(c.Name)
	if _, err := db.ExecContext(ctx, tableSQL(table)); err != nil {
		return storage.Unexpected(errors.Join(ErrMigrationFailed, err))
	}
	if err := upgradeTable(ctx, db, c); err != nil {
		return storage.Unexpected(errors.Join(ErrMigrationFailed, err))
	}

	for _, idx := range c.EffectiveIndexes() {
		ddl, err := createIndexSQL(c, idx)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return storage.Unexpected(errors.Join(ErrMigrationFailed, err))
		}
		logging.Trace().
			Add(logging.Collection(c.Name)).
			Add(logging.IndexName(idx.Name)).
			Msg("index ensured")
	}
	return nil
}

// upgradeTable rebuilds a table created with a global _id key into the
// partitioned layout. Its indexes are dropped with it and recreated by the
// caller.
func upgradeTable(ctx context.Context, db *sql.DB, c storage.Collection) error {
	var n int
	row := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", c.Name, partitionColumn)
	if err := row.Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	table := quoteIdent(c.Name)
	staging := quoteIdent(c.Name + "__upgrade")
	partition := "''"
	if c.Partitioned() {
		partition = "coalesce(" + expr(c.PartitionKey) + ", '')"
	}
	stmts := []string{
		tableSQL(staging),
		"INSERT INTO " + staging + " (" + partitionColumn + ", _id, doc) SELECT " + partition + ", _id, doc FROM " + table,
		"DROP TABLE " + table,
		"ALTER TABLE " + staging + " RENAME TO " + table,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Info().
		Add(logging.Collection(c.Name)).
		Msg("table upgraded to partitioned keys")
	return nil
}

func selectSQL(c storage.Collection, where string) string {
	return "SELECT _id, doc FROM " + quoteIdent(c.Name) + " WHERE " + where
}

func limitSQL(opts storage.FindOptions) (string, []any) {
	switch {
	case opts.Limit > 0:
		return " LIMIT ? OFFSET ?", []any{opts.Limit, opts.Skip}
	case opts.Skip > 0:
		return " LIMIT -1 OFFSET ?", []any{opts.Skip}
	default:
		return "", nil
	}
}

// Find implements storage.Driver.
func (d *Driver) Find(ctx context.Context, c storage.Collection, f storage.Filter, opts storage.FindOptions) (storage.Cursor, error) {
	db, err := d.prepare(ctx, c)
	if err != nil {
		return nil, err
	}

	r := newRenderer(c)
	where, err := r.where(f)
	if err != nil {
		return nil, err
	}
	limit, limitArgs := limitSQL(opts)
	query := selectSQL(c, where) + orderBy(opts.Sort) + limit

	rows, err := db.QueryContext(ctx, query, append(r.args, limitArgs...)...)
	if err != nil {
		return nil, classify(c, err)
	}
	return &cursor{c: c, rows: rows, projection: opts.Projection}, nil
}

// FindOne implements storage.Driver.
func (d *Driver) FindOne(ctx context.Context, c storage.Collection, f storage.Filter, opts storage.FindOptions) (storage.Document, error) {
	opts.Limit = 1
	cur, err := d.Find(ctx, c, f, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return nil, storage.ErrNotFound
	}
	return cur.Document(), nil
}

// InsertOne implements storage.Driver. A missing _id is generated.
func (d *Driver) InsertOne(ctx context.Context, c storage.Collection, doc storage.Document) error {
	return d.InsertMany(ctx, c, []storage.Document{doc})
}

// InsertMany implements storage.Driver. The batch is atomic.
func (d *Driver) InsertMany(ctx context.Context, c storage.Collection, docs []storage.Document) error {
	if len(docs) == 0 {
		return nil
	}
	db, err := d.prepare(ctx, c)
	if err != nil {
		return err
	}

	return d.inTx(ctx, db, c, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+quoteIdent(c.Name)+" ("+partitionColumn+", _id, doc) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, doc := range docs {
			if doc.IsNull(storage.FieldDBID) {
				doc[storage.FieldDBID] = uuid.NewString()
			}
			body, err := encode(doc)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, partitionOf(c, doc), doc.String(storage.FieldDBID), body); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateOne implements storage.Driver.
func (d *Driver) UpdateOne(ctx context.Context, c storage.Collection, f storage.Filter, u storage.Update) (storage.Document, error) {
	db, err := d.prepare(ctx, c)
	if err != nil {
		return nil, err
	}

	var updated storage.Document
	err = d.inTx(ctx, db, c, func(tx *sql.Tx) error {
		docs, err := selectTx(ctx, tx, c, f, 1)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return storage.ErrNotFound
		}
		updated = docs[0]
		partition := partitionOf(c, updated)
		u.Apply(updated)
		return writeTx(ctx, tx, c, partition, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateMany implements storage.Driver.
func (d *Driver) UpdateMany(ctx context.Context, c storage.Collection, f storage.Filter, u storage.Update) (storage.UpdateResult, error) {
	db, err := d.prepare(ctx, c)
	if err != nil {
		return storage.UpdateResult{}, err
	}

	var res storage.UpdateResult
	err = d.inTx(ctx, db, c, func(tx *sql.Tx) error {
		docs, err := selectTx(ctx, tx, c, f, 0)
		if err != nil {
			return err
		}
		res.Matched = int64(len(docs))
		for _, doc := range docs {
			before, err := encode(doc)
			if err != nil {
				return err
			}
			partition := partitionOf(c, doc)
			u.Apply(doc)
			after, err := encode(doc)
			if err != nil {
				return err
			}
			if before == after {
				continue
			}
			if err := writeTx(ctx, tx, c, partition, doc); err != nil {
				return err
			}
			res.Modified++
		}
		return nil
	})
	if err != nil {
		return storage.UpdateResult{}, err
	}
	return res, nil
}

// ReplaceOne implements storage.Driver. The replacement keeps the matched
// document's _id.
func (d *Driver) ReplaceOne(ctx context.Context, c storage.Collection, f storage.Filter, doc storage.Document) (int64, error) {
	db, err := d.prepare(ctx, c)
	if err != nil {
		return 0, err
	}

	var matched int64
	err = d.inTx(ctx, db, c, func(tx *sql.Tx) error {
		docs, err := selectTx(ctx, tx, c, f, 1)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		matched = 1
		replacement := doc.Clone()
		replacement[storage.FieldDBID] = docs[0][storage.FieldDBID]
		return writeTx(ctx, tx, c, partitionOf(c, docs[0]), replacement)
	})
	if err != nil {
		return 0, err
	}
	return matched, nil
}

// DeleteMany implements storage.Driver.
func (d *Driver) DeleteMany(ctx context.Context, c storage.Collection, f storage.Filter) (int64, error) {
	db, err := d.prepare(ctx, c)
	if err != nil {
		return 0, err
	}

	r := newRenderer(c)
	where, err := r.where(f)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM "+quoteIdent(c.Name)+" WHERE "+where, r.args...)
	if err != nil {
		return 0, classify(c, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.Unexpected(err)
	}
	return n, nil
}

// Count implements storage.Driver.
func (d *Driver) Count(ctx context.Context, c storage.Collection, f storage.Filter) (int64, error) {
	return d.aggregate(ctx, c, f, "COUNT(*)")
}

// TotalSize implements storage.Driver: the byte length of the stored
// documents.
func (d *Driver) TotalSize(ctx context.Context, c storage.Collection, f storage.Filter) (int64, error) {
	return d.aggregate(ctx, c, f, "coalesce(SUM(length(doc) + length(_id)), 0)")
}

func (d *Driver) aggregate(ctx context.Context, c storage.Collection, f storage.Filter, fn string) (int64, error) {
	db, err := d.prepare(ctx, c)
	if err != nil {
		return 0, err
	}

	r := newRenderer(c)
	where, err := r.where(f)
	if err != nil {
		return 0, err
	}
	var n int64
	row := db.QueryRowContext(ctx, "SELECT "+fn+" FROM "+quoteIdent(c.Name)+" WHERE "+where, r.args...)
	if err := row.Scan(&n); err != nil {
		return 0, classify(c, err)
	}
	return n, nil
}

// ListIndexes implements storage.Driver. The primary key is reported as
// "_id_".
func (d *Driver) ListIndexes(ctx context.Context, c storage.Collection) ([]storage.IndexInfo, error) {
	db, err := d.prepare(ctx, c)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT name, \"unique\", origin FROM pragma_index_list(?)", c.Name)
	if err != nil {
		return nil, classify(c, err)
	}
	defer rows.Close()

	out := []storage.IndexInfo{{Name: primaryKeyIndex, Unique: true}}
	for rows.Next() {
		var name, origin string
		var unique int
		if err := rows.Scan(&name, &unique, &origin); err != nil {
			return nil, storage.Unexpected(err)
		}
		if origin != "c" || strings.HasPrefix(name, "sqlite_autoindex") {
			continue
		}
		out = append(out, storage.IndexInfo{Name: name, Unique: unique == 1})
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unexpected(err)
	}
	return out, nil
}

// DropCollection implements storage.Driver.
func (d *Driver) DropCollection(ctx context.Context, c storage.Collection) error {
	db, err := d.handle(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(c.Name)); err != nil {
		return classify(c, err)
	}
	d.mu.Lock()
	delete(d.prepared, c.Name)
	d.mu.Unlock()
	return nil
}

// Close implements storage.Driver.
func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	d.prepared = make(map[string]bool)
	return err
}

func (d *Driver) inTx(ctx context.Context, db *sql.DB, c storage.Collection, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(c, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return classify(c, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(c, err)
	}
	return nil
}

func selectTx(ctx context.Context, tx *sql.Tx, c storage.Collection, f storage.Filter, limit int) ([]storage.Document, error) {
	r := newRenderer(c)
	where, err := r.where(f)
	if err != nil {
		return nil, err
	}
	query := selectSQL(c, where) + " ORDER BY rowid ASC"
	if limit > 0 {
		query += " LIMIT ?"
		r.args = append(r.args, limit)
	}

	rows, err := tx.QueryContext(ctx, query, r.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []storage.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// writeTx stores doc over the row identified by its partition and _id. The
// partition is the one the row was read from.
func writeTx(ctx context.Context, tx *sql.Tx, c storage.Collection, partition string, doc storage.Document) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	query := "UPDATE " + quoteIdent(c.Name) + " SET doc = ? WHERE " + partitionColumn + " = ? AND _id = ?"
	_, err = tx.ExecContext(ctx, query, body, partition, doc.String(storage.FieldDBID))
	return err
}

var _ storage.Driver = (*Driver)(nil)
