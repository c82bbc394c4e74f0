// Package streams implements the stream store: the per-user tree of
// streams, stored flat with parent links and served nested from a cache.
package streams

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/felixgeelhaar/eventstore-go/domain/cache"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/domain/stream"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/collection"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/convert"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/integrity"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
)

// Name is the stream collection name.
const Name = "streams"

// cacheName labels cache metrics.
const cacheName = "stream-tree"

// Config configures the stream store.
type Config struct {
	// Integrity enables content hashing.
	Integrity bool

	// Cache holds the per-user stream trees. Nil disables caching.
	Cache cache.Cache

	// CacheTTL bounds the life of a cached tree. Zero keeps it until
	// invalidated.
	CacheTTL time.Duration

	// Metrics records operations and cache usage.
	Metrics telemetry.Metrics

	// Clock provides deletion times.
	Clock collection.Clock
}

// Collection returns the stream collection descriptor. Sibling names are
// unique among streams that still carry a name.
func Collection() storage.Collection {
	return storage.Collection{
		Name:         Name,
		PartitionKey: storage.FieldUserID,
		Indexes: []storage.Index{
			{
				Name: "siblingName",
				Keys: []storage.IndexKey{
					{Field: stream.FieldParentID, Direction: storage.Ascending},
					{Field: stream.FieldName, Direction: storage.Ascending},
				},
				Unique:  true,
				Partial: storage.Exists{Field: stream.FieldName, Exists: true},
			},
			{
				Name:    "deleted",
				Keys:    []storage.IndexKey{{Field: storage.FieldDeleted, Direction: storage.Ascending}},
				Partial: storage.Exists{Field: storage.FieldDeleted, Exists: true},
			},
		},
	}
}

// Converters builds the converter set of the stream collection.
func Converters(hasher *integrity.Hasher) convert.Set {
	return convert.Set{
		ItemToDB: convert.NewPipeline(
			convert.StripFields(stream.FieldChildren),
			convert.TrashedToDB(),
			convert.ItemStage("integrity", hasher.Stamp),
			convert.IDToDB(),
		),
		ItemFromDB: convert.NewPipeline(
			convert.IDFromDB(),
			convert.TrashedFromDB(),
		),
		QueryToDB: convert.NewPipeline(
			convert.QueryIDToDB(),
			convert.QueryTrashedToDB(),
		),
		UpdateToDB: convert.NewPipeline(
			convert.UpdateTrashedToDB(),
		),
	}
}

// Store is the stream store.
type Store struct {
	*collection.Store

	cache   cache.Cache
	ttl     time.Duration
	metrics telemetry.Metrics
}

// New creates the stream store.
func New(driver storage.Driver, cfg Config) *Store {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetricsProvider{}
	}
	tombstone := collection.DefaultTombstone(
		stream.FieldName,
		stream.FieldParentID,
		stream.FieldClientData,
		storage.FieldTrashed,
		storage.FieldIntegrity,
		stream.FieldCreated,
		stream.FieldCreatedBy,
		stream.FieldModified,
		stream.FieldModifiedBy,
	)
	return &Store{
		Store: collection.New(
			Collection(),
			driver,
			Converters(integrity.New(integrity.KindStream, cfg.Integrity)),
			collection.WithMetrics(metrics),
			collection.WithClock(cfg.Clock),
			collection.WithTombstone(tombstone),
		),
		cache:   cfg.Cache,
		ttl:     cfg.CacheTTL,
		metrics: metrics,
	}
}

// Tree returns the nested tree of the user's live streams, trashed ones
// included.
func (s *Store) Tree(ctx context.Context, user storage.UserID) ([]storage.Document, error) {
	key := cache.StreamTreeKey(user)
	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			logging.Warn().
				Add(logging.UserID(user)).
				Add(logging.ErrorField(err)).
				Msg("stream tree cache read failed")
		}
		if ok {
			var tree []storage.Document
			if err := json.Unmarshal(data, &tree); err == nil {
				s.metrics.RecordCacheHit(ctx, cacheName)
				return tree, nil
			}
		}
		s.metrics.RecordCacheMiss(ctx, cacheName)
	}

	flat, err := s.Find(ctx, user, storage.All{}, storage.FindOptions{
		Sort: []storage.SortKey{{Field: stream.FieldName, Direction: storage.Ascending}},
	})
	if err != nil {
		return nil, err
	}
	tree := stream.Build(flat)

	if s.cache != nil {
		data, err := json.Marshal(tree)
		if err == nil {
			err = s.cache.Set(ctx, key, data, s.ttl)
		}
		if err != nil {
			logging.Warn().
				Add(logging.UserID(user)).
				Add(logging.ErrorField(err)).
				Msg("stream tree cache write failed")
		}
	}
	return tree, nil
}

// Descendants returns the id of a stream followed by the ids of every
// stream below it.
func (s *Store) Descendants(ctx context.Context, user storage.UserID, id string) ([]string, error) {
	tree, err := s.Tree(ctx, user)
	if err != nil {
		return nil, err
	}
	return stream.Descendants(tree, id), nil
}

// Invalidate drops the cached tree of a user.
func (s *Store) Invalidate(ctx context.Context, user storage.UserID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.StreamTreeKey(user)); err != nil {
		logging.Warn().
			Add(logging.UserID(user)).
			Add(logging.ErrorField(err)).
			Msg("stream tree cache invalidation failed")
	}
}

// checkSiblingName rejects a name already used by a live sibling. Root
// streams have a null parent, which not every engine indexes as a value.
func (s *Store) checkSiblingName(ctx context.Context, user storage.UserID, d storage.Document, exclude string) error {
	name, ok := d[stream.FieldName].(string)
	if !ok {
		return nil
	}
	f := storage.Conjoin(
		storage.Eq{Field: stream.FieldName, Value: name},
		storage.Eq{Field: stream.FieldParentID, Value: d[stream.FieldParentID]},
	)
	if exclude != "" {
		f = storage.Conjoin(f, storage.Ne{Field: storage.FieldID, Value: exclude})
	}
	n, err := s.Count(ctx, user, f)
	if err != nil {
		return err
	}
	if n > 0 {
		return &storage.DuplicateError{
			Collection: Name,
			Index:      Collection().IndexName(Collection().Indexes[0]),
			Field:      stream.FieldName,
			Err:        storage.ErrDuplicate,
		}
	}
	return nil
}

// InsertOne stores a new stream.
func (s *Store) InsertOne(ctx context.Context, user storage.UserID, d storage.Document) (storage.Document, error) {
	d = d.Clone()
	if !d.Has(stream.FieldParentID) {
		d[stream.FieldParentID] = nil
	}
	if err := s.checkSiblingName(ctx, user, d, ""); err != nil {
		return nil, err
	}
	defer s.Invalidate(ctx, user)
	return s.Store.InsertOne(ctx, user, d)
}

// InsertTree stores a nested tree, parents first.
func (s *Store) InsertTree(ctx context.Context, user storage.UserID, tree []storage.Document) error {
	defer s.Invalidate(ctx, user)
	return s.Store.InsertMany(ctx, user, stream.Flatten(tree))
}

// UpdateOne updates the first live stream matching the filter.
func (s *Store) UpdateOne(ctx context.Context, user storage.UserID, f storage.Filter, u storage.Update) (storage.Document, error) {
	if u.Touches(stream.FieldName) || u.Touches(stream.FieldParentID) {
		current, err := s.FindOne(ctx, user, f, storage.FindOptions{})
		if err != nil {
			return nil, err
		}
		u.Apply(current)
		if err := s.checkSiblingName(ctx, user, current, current.String(storage.FieldID)); err != nil {
			return nil, err
		}
	}
	defer s.Invalidate(ctx, user)
	return s.Store.UpdateOne(ctx, user, f, u)
}

// UpdateMany updates every live stream matching the filter.
func (s *Store) UpdateMany(ctx context.Context, user storage.UserID, f storage.Filter, u storage.Update) (storage.UpdateResult, error) {
	defer s.Invalidate(ctx, user)
	return s.Store.UpdateMany(ctx, user, f, u)
}

// Delete turns the matching streams into tombstones.
func (s *Store) Delete(ctx context.Context, user storage.UserID, f storage.Filter) (storage.UpdateResult, error) {
	defer s.Invalidate(ctx, user)
	return s.Store.Delete(ctx, user, f)
}

// DeleteTree turns a stream and all its descendants into tombstones.
func (s *Store) DeleteTree(ctx context.Context, user storage.UserID, id string) (storage.UpdateResult, error) {
	ids, err := s.Descendants(ctx, user, id)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	return s.Delete(ctx, user, storage.In{Field: storage.FieldID, Values: storage.StringSlice(ids)})
}

// RemoveAll removes every stream of a user.
func (s *Store) RemoveAll(ctx context.Context, user storage.UserID) (int64, error) {
	defer s.Invalidate(ctx, user)
	return s.Store.RemoveAll(ctx, user)
}
