// Package collection provides the generic store shared by every entity
// collection: partition-key scoping, converter application, liveness
// filtering, tombstoning and error normalization over a storage.Driver.
package collection

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/convert"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
)

// Clock returns the current time in seconds since epoch.
type Clock func() float64

// SystemClock reads the wall clock.
func SystemClock() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Tombstone builds the update turning live documents into tombstones at the
// given deletion time.
type Tombstone func(deleted float64) storage.Update

// DefaultTombstone sets the deletion time and removes the listed fields.
func DefaultTombstone(fields ...string) Tombstone {
	return func(deleted float64) storage.Update {
		return storage.Update{
			Set:   storage.Document{storage.FieldDeleted: deleted},
			Unset: append([]string(nil), fields...),
		}
	}
}

// Store is the generic store of one collection.
type Store struct {
	c         storage.Collection
	driver    storage.Driver
	conv      convert.Set
	metrics   telemetry.Metrics
	now       Clock
	tombstone Tombstone
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock sets the clock used for deletion times.
func WithClock(now Clock) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTombstone sets the tombstone transform used by Delete.
func WithTombstone(t Tombstone) Option {
	return func(s *Store) {
		if t != nil {
			s.tombstone = t
		}
	}
}

// New creates a store. The converter set is fixed for the store's lifetime.
func New(c storage.Collection, driver storage.Driver, conv convert.Set, opts ...Option) *Store {
	s := &Store{
		c:         c,
		driver:    driver,
		conv:      conv,
		metrics:   telemetry.NoopMetricsProvider{},
		now:       SystemClock,
		tombstone: DefaultTombstone(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the collection descriptor.
func (s *Store) Collection() storage.Collection { return s.c }

// Driver returns the underlying driver.
func (s *Store) Driver() storage.Driver { return s.driver }

// Converters returns the converter set.
func (s *Store) Converters() convert.Set { return s.conv }

// Now returns the store clock reading.
func (s *Store) Now() float64 { return s.now() }

// Metrics returns the metrics recorder.
func (s *Store) Metrics() telemetry.Metrics { return s.metrics }

// EnsureIndexes creates the collection's indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	return s.driver.EnsureIndexes(ctx, s.c)
}

// Scope restricts a storage-shape filter to the user's partition.
func (s *Store) Scope(user storage.UserID, f storage.Filter) (storage.Filter, error) {
	if !s.c.Partitioned() {
		return storage.Conjoin(f), nil
	}
	if user.IsZero() {
		return nil, storage.ErrMissingUser
	}
	return storage.Conjoin(storage.Eq{Field: s.c.PartitionKey, Value: string(user)}, f), nil
}

// Query converts an API-shape filter to a scoped storage filter. Live
// queries exclude tombstones and history records.
func (s *Store) Query(ctx context.Context, user storage.UserID, f storage.Filter, live bool) (storage.Filter, error) {
	q, err := s.conv.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	if live {
		q = storage.Conjoin(storage.LiveOnly(), q)
	}
	return s.Scope(user, q)
}

// ToDB converts an API-shape item to storage shape and stamps the
// partition key.
func (s *Store) ToDB(ctx context.Context, user storage.UserID, d storage.Document) (storage.Document, error) {
	if s.c.Partitioned() && user.IsZero() {
		return nil, storage.ErrMissingUser
	}
	out, err := s.conv.ToDB(ctx, d)
	if err != nil {
		return nil, err
	}
	if s.c.Partitioned() {
		out[s.c.PartitionKey] = string(user)
	}
	return out, nil
}

// FromDB converts a stored document to API shape, dropping the partition
// key.
func (s *Store) FromDB(ctx context.Context, d storage.Document) (storage.Document, error) {
	if d == nil {
		return nil, nil
	}
	if s.c.Partitioned() {
		delete(d, s.c.PartitionKey)
	}
	return s.conv.FromDB(ctx, d)
}

// Observe records an operation outcome. Use as
// defer s.Observe(ctx, "find", time.Now(), &err).
func (s *Store) Observe(ctx context.Context, op string, start time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	s.metrics.RecordOperation(ctx, s.c.Name, op, e, time.Since(start))
	if dup, ok := storage.AsDuplicate(e); ok {
		s.metrics.RecordDuplicate(ctx, s.c.Name, dup.Field)
	}
}

// Find returns the live items matching the filter.
func (s *Store) Find(ctx context.Context, user storage.UserID, f storage.Filter, opts storage.FindOptions) (_ []storage.Document, err error) {
	defer s.Observe(ctx, "find", time.Now(), &err)
	return s.find(ctx, user, f, opts, true)
}

// FindIncludingDeletionsAndVersions returns every matching document,
// tombstones and history records included.
func (s *Store) FindIncludingDeletionsAndVersions(ctx context.Context, user storage.UserID, f storage.Filter, opts storage.FindOptions) (_ []storage.Document, err error) {
	defer s.Observe(ctx, "findAll", time.Now(), &err)
	return s.find(ctx, user, f, opts, false)
}

func (s *Store) find(ctx context.Context, user storage.UserID, f storage.Filter, opts storage.FindOptions, live bool) ([]storage.Document, error) {
	cur, err := s.stream(ctx, user, f, opts, live)
	if err != nil {
		return nil, err
	}
	return storage.Collect(ctx, cur)
}

// FindStreamed returns a cursor over the live items matching the filter.
// Items are converted as they are read; the cursor reads at most one
// document ahead of the consumer.
func (s *Store) FindStreamed(ctx context.Context, user storage.UserID, f storage.Filter, opts storage.FindOptions) (_ storage.Cursor, err error) {
	defer s.Observe(ctx, "findStreamed", time.Now(), &err)
	return s.stream(ctx, user, f, opts, true)
}

func (s *Store) stream(ctx context.Context, user storage.UserID, f storage.Filter, opts storage.FindOptions, live bool) (storage.Cursor, error) {
	q, err := s.Query(ctx, user, f, live)
	if err != nil {
		return nil, err
	}
	cur, err := s.driver.Find(ctx, s.c, q, s.findOptions(opts))
	if err != nil {
		return nil, err
	}
	return storage.NewMappedCursor(cur, s.FromDB), nil
}

// findOptions renames id in sort keys and projections.
func (s *Store) findOptions(opts storage.FindOptions) storage.FindOptions {
	out := opts
	if len(opts.Sort) > 0 {
		out.Sort = make([]storage.SortKey, len(opts.Sort))
		for i, k := range opts.Sort {
			if k.Field == storage.FieldID {
				k.Field = storage.FieldDBID
			}
			out.Sort[i] = k
		}
	}
	if len(opts.Projection) > 0 {
		out.Projection = make([]string, len(opts.Projection))
		for i, p := range opts.Projection {
			if p == storage.FieldID {
				p = storage.FieldDBID
			}
			out.Projection[i] = p
		}
	}
	return out
}

// FindOne returns the first live item matching the filter or
// storage.ErrNotFound.
func (s *Store) FindOne(ctx context.Context, user storage.UserID, f storage.Filter, opts storage.FindOptions) (_ storage.Document, err error) {
	defer s.Observe(ctx, "findOne", time.Now(), &err)
	q, err := s.Query(ctx, user, f, true)
	if err != nil {
		return nil, err
	}
	d, err := s.driver.FindOne(ctx, s.c, q, s.findOptions(opts))
	if err != nil {
		return nil, err
	}
	return s.FromDB(ctx, d)
}

// deletionFields is the projection of a deletion record.
var deletionFields = []string{storage.FieldDBID, storage.FieldDeleted, storage.FieldIntegrity}

func (s *Store) deletionsQuery(user storage.UserID, since float64) (storage.Filter, error) {
	return s.Scope(user, storage.Gt{Field: storage.FieldDeleted, Value: since})
}

func deletionOptions(opts storage.FindOptions) storage.FindOptions {
	opts.Projection = deletionFields
	if len(opts.Sort) == 0 {
		opts.Sort = []storage.SortKey{{Field: storage.FieldDeleted, Direction: storage.Descending}}
	}
	return opts
}

// FindDeletions returns the deletion records of items deleted after since.
func (s *Store) FindDeletions(ctx context.Context, user storage.UserID, since float64, opts storage.FindOptions) (_ []storage.Document, err error) {
	defer s.Observe(ctx, "findDeletions", time.Now(), &err)
	cur, err := s.FindDeletionsStreamed(ctx, user, since, opts)
	if err != nil {
		return nil, err
	}
	return storage.Collect(ctx, cur)
}

// FindDeletionsStreamed is the cursor form of FindDeletions.
func (s *Store) FindDeletionsStreamed(ctx context.Context, user storage.UserID, since float64, opts storage.FindOptions) (storage.Cursor, error) {
	q, err := s.deletionsQuery(user, since)
	if err != nil {
		return nil, err
	}
	cur, err := s.driver.Find(ctx, s.c, q, deletionOptions(opts))
	if err != nil {
		return nil, err
	}
	return storage.NewMappedCursor(cur, s.FromDB), nil
}

// InsertOne stores an item and returns it in API shape.
func (s *Store) InsertOne(ctx context.Context, user storage.UserID, d storage.Document) (_ storage.Document, err error) {
	defer s.Observe(ctx, "insertOne", time.Now(), &err)
	stored, err := s.ToDB(ctx, user, d)
	if err != nil {
		return nil, err
	}
	if err := s.driver.InsertOne(ctx, s.c, stored); err != nil {
		return nil, err
	}
	return s.FromDB(ctx, stored.Clone())
}

// InsertMany stores items in order, stopping at the first failure.
func (s *Store) InsertMany(ctx context.Context, user storage.UserID, docs []storage.Document) (err error) {
	defer s.Observe(ctx, "insertMany", time.Now(), &err)
	if s.c.Partitioned() && user.IsZero() {
		return storage.ErrMissingUser
	}
	stored, err := s.conv.ManyToDB(ctx, docs)
	if err != nil {
		return err
	}
	if s.c.Partitioned() {
		for _, d := range stored {
			d[s.c.PartitionKey] = string(user)
		}
	}
	return s.driver.InsertMany(ctx, s.c, stored)
}

// UpdateOne applies an update to the first live item matching the filter
// and returns the updated item, or storage.ErrNotFound.
func (s *Store) UpdateOne(ctx context.Context, user storage.UserID, f storage.Filter, u storage.Update) (_ storage.Document, err error) {
	defer s.Observe(ctx, "updateOne", time.Now(), &err)
	q, err := s.Query(ctx, user, f, true)
	if err != nil {
		return nil, err
	}
	conv, err := s.conv.Update(ctx, u)
	if err != nil {
		return nil, err
	}
	d, err := s.driver.UpdateOne(ctx, s.c, q, conv)
	if err != nil {
		return nil, err
	}
	return s.FromDB(ctx, d)
}

// UpdateMany applies an update to every live item matching the filter.
func (s *Store) UpdateMany(ctx context.Context, user storage.UserID, f storage.Filter, u storage.Update) (_ storage.UpdateResult, err error) {
	defer s.Observe(ctx, "updateMany", time.Now(), &err)
	q, err := s.Query(ctx, user, f, true)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	conv, err := s.conv.Update(ctx, u)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	return s.driver.UpdateMany(ctx, s.c, q, conv)
}

// Count counts the live items matching the filter.
func (s *Store) Count(ctx context.Context, user storage.UserID, f storage.Filter) (_ int64, err error) {
	defer s.Observe(ctx, "count", time.Now(), &err)
	q, err := s.Query(ctx, user, f, true)
	if err != nil {
		return 0, err
	}
	return s.driver.Count(ctx, s.c, q)
}

// CountAll counts every document of the user, tombstones and history
// included.
func (s *Store) CountAll(ctx context.Context, user storage.UserID) (_ int64, err error) {
	defer s.Observe(ctx, "countAll", time.Now(), &err)
	q, err := s.Scope(user, storage.All{})
	if err != nil {
		return 0, err
	}
	return s.driver.Count(ctx, s.c, q)
}

// Delete turns the live items matching the filter into tombstones. It is
// not a physical removal.
func (s *Store) Delete(ctx context.Context, user storage.UserID, f storage.Filter) (_ storage.UpdateResult, err error) {
	defer s.Observe(ctx, "delete", time.Now(), &err)
	q, err := s.Query(ctx, user, f, true)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	return s.driver.UpdateMany(ctx, s.c, q, s.tombstone(s.now()))
}

// RemoveOne physically removes the first document matching the filter,
// whatever its state.
func (s *Store) RemoveOne(ctx context.Context, user storage.UserID, f storage.Filter) (_ int64, err error) {
	defer s.Observe(ctx, "removeOne", time.Now(), &err)
	q, err := s.Query(ctx, user, f, false)
	if err != nil {
		return 0, err
	}
	d, err := s.driver.FindOne(ctx, s.c, q, storage.FindOptions{Projection: []string{storage.FieldDBID}})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	byID, err := s.Scope(user, storage.Eq{Field: storage.FieldDBID, Value: d[storage.FieldDBID]})
	if err != nil {
		return 0, err
	}
	return s.driver.DeleteMany(ctx, s.c, byID)
}

// RemoveMany physically removes every document matching the filter.
func (s *Store) RemoveMany(ctx context.Context, user storage.UserID, f storage.Filter) (_ int64, err error) {
	defer s.Observe(ctx, "removeMany", time.Now(), &err)
	q, err := s.Query(ctx, user, f, false)
	if err != nil {
		return 0, err
	}
	return s.driver.DeleteMany(ctx, s.c, q)
}

// RemoveAll physically removes every document of the user.
func (s *Store) RemoveAll(ctx context.Context, user storage.UserID) (_ int64, err error) {
	defer s.Observe(ctx, "removeAll", time.Now(), &err)
	q, err := s.Scope(user, storage.All{})
	if err != nil {
		return 0, err
	}
	return s.driver.DeleteMany(ctx, s.c, q)
}

// DropCollection removes the whole collection.
func (s *Store) DropCollection(ctx context.Context) error {
	return s.driver.DropCollection(ctx, s.c)
}

// ListIndexes lists the indexes present on the collection.
func (s *Store) ListIndexes(ctx context.Context) ([]storage.IndexInfo, error) {
	return s.driver.ListIndexes(ctx, s.c)
}

// TotalSize returns the storage size of the user's documents.
func (s *Store) TotalSize(ctx context.Context, user storage.UserID) (int64, error) {
	q, err := s.Scope(user, storage.All{})
	if err != nil {
		return 0, err
	}
	return s.driver.TotalSize(ctx, s.c, q)
}
