package mongodb

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
)

// Driver is the MongoDB implementation of storage.Driver.
type Driver struct {
	cfg     Config
	metrics telemetry.Metrics

	group singleflight.Group

	mu      sync.RWMutex
	client  *mongo.Client
	indexed map[string]bool
}

// New creates a driver. The client connects on first use.
func New(cfg Config, opts ...Option) *Driver {
	for _, opt := range opts {
		opt(&cfg)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetricsProvider{}
	}
	return &Driver{
		cfg:     cfg,
		metrics: metrics,
		indexed: make(map[string]bool),
	}
}

// Engine implements storage.Driver.
func (d *Driver) Engine() storage.Engine {
	return storage.EngineMongoDB
}

// Connect establishes the client. Concurrent callers share one attempt.
func (d *Driver) Connect(ctx context.Context) error {
	_, err := d.database(ctx)
	return err
}

func (d *Driver) database(ctx context.Context) (*mongo.Database, error) {
	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()
	if client != nil {
		return client.Database(d.cfg.Database), nil
	}

	v, err, _ := d.group.Do("connect", func() (any, error) {
		d.mu.RLock()
		existing := d.client
		d.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		connected, err := d.dial(ctx)
		d.metrics.RecordConnectionAttempt(ctx, string(storage.EngineMongoDB), err == nil)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.client = connected
		d.mu.Unlock()

		logging.Info().
			Add(logging.Engine(storage.EngineMongoDB)).
			Add(logging.Str("database", d.cfg.Database)).
			Msg("connected")
		return connected, nil
	})
	if err != nil {
		return nil, storage.Unexpected(err)
	}
	return v.(*mongo.Client).Database(d.cfg.Database), nil
}

func (d *Driver) dial(ctx context.Context) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(d.cfg.URI)
	if d.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(d.cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(d.cfg.ConnectTimeout)
	}
	if d.cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(d.cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	return client, nil
}

// EnsureIndexes creates the collection's indexes once per driver.
func (d *Driver) EnsureIndexes(ctx context.Context, c storage.Collection) error {
	_, err := d.collection(ctx, c)
	return err
}

// collection returns the collection handle, creating its indexes on first
// access.
func (d *Driver) collection(ctx context.Context, c storage.Collection) (*mongo.Collection, error) {
	db, err := d.database(ctx)
	if err != nil {
		return nil, err
	}
	coll := db.Collection(c.Name)

	d.mu.RLock()
	done := d.indexed[c.Name]
	d.mu.RUnlock()
	if done {
		return coll, nil
	}

	_, err, _ = d.group.Do("indexes:"+c.Name, func() (any, error) {
		d.mu.RLock()
		done := d.indexed[c.Name]
		d.mu.RUnlock()
		if done {
			return nil, nil
		}

		models, err := indexModels(c)
		if err != nil {
			return nil, err
		}
		if len(models) > 0 {
			if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
				return nil, storage.Unexpected(errors.Join(ErrIndexFailed, err))
			}
		}

		d.mu.Lock()
		d.indexed[c.Name] = true
		d.mu.Unlock()

		logging.Debug().
			Add(logging.Collection(c.Name)).
			Add(logging.Count("indexes", int64(len(models)))).
			Msg("indexes ensured")
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return coll, nil
}

func indexModels(c storage.Collection) ([]mongo.IndexModel, error) {
	effective := c.EffectiveIndexes()
	models := make([]mongo.IndexModel, 0, len(effective)+1)
	if c.Partitioned() {
		models = append(models, partitionIDModel(c))
	}
	for _, idx := range effective {
		keys := make(bson.D, 0, len(idx.Keys))
		for _, k := range idx.Keys {
			keys = append(keys, bson.E{Key: storedField(c, k.Field), Value: int(k.Direction)})
		}
		opts := options.Index().SetName(idx.Name)
		if idx.Unique {
			opts.SetUnique(true)
		}
		if idx.Partial != nil {
			partial, err := toFilter(c, idx.Partial)
			if err != nil {
				return nil, err
			}
			opts.SetPartialFilterExpression(partial)
		}
		if idx.ExpireAfter > 0 {
			opts.SetExpireAfterSeconds(int32(idx.ExpireAfter.Seconds()))
		}
		models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
	}
	return models, nil
}

func (d *Driver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.cfg.QueryTimeout)
}

// Find implements storage.Driver.
func (d *Driver) Find(ctx context.Context, c storage.Collection, f storage.Filter, fo storage.FindOptions) (storage.Cursor, error) {
	coll, err := d.collection(ctx, c)
	if err != nil {
		return nil, err
	}
	filter, err := toFilter(c, f)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if len(fo.Sort) > 0 {
		opts.SetSort(toSort(c, fo.Sort))
	}
	if fo.Skip > 0 {
		opts.SetSkip(fo.Skip)
	}
	if fo.Limit > 0 {
		opts.SetLimit(fo.Limit)
	}
	if len(fo.Projection) > 0 {
		opts.SetProjection(toProjection(c, fo.Projection))
	}
	if d.cfg.BatchSize > 0 {
		opts.SetBatchSize(d.cfg.BatchSize)
	}

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(c, err)
	}
	return &cursor{c: c, cur: cur}, nil
}

// FindOne implements storage.Driver.
func (d *Driver) FindOne(ctx context.Context, c storage.Collection, f storage.Filter, fo storage.FindOptions) (storage.Document, error) {
	coll, err := d.collection(ctx, c)
	if err != nil {
		return nil, err
	}
	filter, err := toFilter(c, f)
	if err != nil {
		return nil, err
	}

	opts := options.FindOne()
	if len(fo.Sort) > 0 {
		opts.SetSort(toSort(c, fo.Sort))
	}
	if fo.Skip > 0 {
		opts.SetSkip(fo.Skip)
	}
	if len(fo.Projection) > 0 {
		opts.SetProjection(toProjection(c, fo.Projection))
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var raw bson.M
	if err := coll.FindOne(ctx, filter, opts).Decode(&raw); err != nil {
		return nil, classify(c, err)
	}
	return fromStored(c, raw), nil
}

// InsertOne implements storage.Driver. A missing _id is generated.
func (d *Driver) InsertOne(ctx context.Context, c storage.Collection, doc storage.Document) error {
	coll, err := d.collection(ctx, c)
	if err != nil {
		return err
	}
	stored := toStored(c, doc)

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	_, err = coll.InsertOne(ctx, stored)
	return classify(c, err)
}

// InsertMany implements storage.Driver. Inserts are ordered and stop at the
// first failure.
func (d *Driver) InsertMany(ctx context.Context, c storage.Collection, docs []storage.Document) error {
	if len(docs) == 0 {
		return nil
	}
	coll, err := d.collection(ctx, c)
	if err != nil {
		return err
	}
	batch := make([]any, len(docs))
	for i, doc := range docs {
		batch[i] = toStored(c, doc)
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	_, err = coll.InsertMany(ctx, batch, options.InsertMany().SetOrdered(true))
	return classify(c, err)
}

// UpdateOne implements storage.Driver.
func (d *Driver) UpdateOne(ctx context.Context, c storage.Collection, f storage.Filter, u storage.Update) (storage.Document, error) {
	if u.IsEmpty() {
		return d.FindOne(ctx, c, f, storage.FindOptions{})
	}
	coll, err := d.collection(ctx, c)
	if err != nil {
		return nil, err
	}
	filter, err := toFilter(c, f)
	if err != nil {
		return nil, err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var raw bson.M
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if err := coll.FindOneAndUpdate(ctx, filter, toUpdate(u), opts).Decode(&raw); err != nil {
		return nil, classify(c, err)
	}
	return fromStored(c, raw), nil
}

// UpdateMany implements storage.Driver.
func (d *Driver) UpdateMany(ctx context.Context, c storage.Collection, f storage.Filter, u storage.Update) (storage.UpdateResult, error) {
	if u.IsEmpty() {
		n, err := d.Count(ctx, c, f)
		return storage.UpdateResult{Matched: n}, err
	}
	coll, err := d.collection(ctx, c)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	filter, err := toFilter(c, f)
	if err != nil {
		return storage.UpdateResult{}, err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	res, err := coll.UpdateMany(ctx, filter, toUpdate(u))
	if err != nil {
		return storage.UpdateResult{}, classify(c, err)
	}
	return storage.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// ReplaceOne implements storage.Driver. The replacement keeps the matched
// document's _id.
func (d *Driver) ReplaceOne(ctx context.Context, c storage.Collection, f storage.Filter, doc storage.Document) (int64, error) {
	coll, err := d.collection(ctx, c)
	if err != nil {
		return 0, err
	}
	filter, err := toFilter(c, f)
	if err != nil {
		return 0, err
	}
	replacement := doc.Clone()
	delete(replacement, storage.FieldDBID)

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if c.Partitioned() {
		// The logical id is an ordinary field, so the match is resolved
		// first and carried over.
		var matched bson.M
		opts := options.FindOne().SetProjection(bson.D{{Key: logicalIDField, Value: 1}})
		err := coll.FindOne(ctx, filter, opts).Decode(&matched)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		if err != nil {
			return 0, classify(c, err)
		}
		replacement[logicalIDField] = matched[logicalIDField]
		filter = bson.D{{Key: storage.FieldDBID, Value: matched[storage.FieldDBID]}}
	}

	res, err := coll.ReplaceOne(ctx, filter, replacement)
	if err != nil {
		return 0, classify(c, err)
	}
	return res.MatchedCount, nil
}

// DeleteMany implements storage.Driver.
func (d *Driver) DeleteMany(ctx context.Context, c storage.Collection, f storage.Filter) (int64, error) {
	coll, err := d.collection(ctx, c)
	if err != nil {
		return 0, err
	}
	filter, err := toFilter(c, f)
	if err != nil {
		return 0, err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	res, err := coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, classify(c, err)
	}
	return res.DeletedCount, nil
}

// Count implements storage.Driver.
func (d *Driver) Count(ctx context.Context, c storage.Collection, f storage.Filter) (int64, error) {
	coll, err := d.collection(ctx, c)
	if err != nil {
		return 0, err
	}
	filter, err := toFilter(c, f)
	if err != nil {
		return 0, err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, classify(c, err)
	}
	return n, nil
}

// TotalSize implements storage.Driver using the BSON size of every matching
// document.
func (d *Driver) TotalSize(ctx context.Context, c storage.Collection, f storage.Filter) (int64, error) {
	coll, err := d.collection(ctx, c)
	if err != nil {
		return 0, err
	}
	filter, err := toFilter(c, f)
	if err != nil {
		return 0, err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: filter}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "size", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$bsonSize", Value: "$$ROOT"}}}}},
		}}},
	}
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, classify(c, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	if !cur.Next(ctx) {
		return 0, classify(c, cur.Err())
	}
	var result bson.M
	if err := cur.Decode(&result); err != nil {
		return 0, storage.Unexpected(err)
	}
	size, _ := storage.ToFloat(normalize(result["size"]))
	return int64(size), nil
}

// ListIndexes implements storage.Driver.
func (d *Driver) ListIndexes(ctx context.Context, c storage.Collection) ([]storage.IndexInfo, error) {
	coll, err := d.collection(ctx, c)
	if err != nil {
		return nil, err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, classify(c, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []storage.IndexInfo
	for cur.Next(ctx) {
		var spec struct {
			Name   string `bson:"name"`
			Unique bool   `bson:"unique"`
		}
		if err := cur.Decode(&spec); err != nil {
			return nil, storage.Unexpected(err)
		}
		if spec.Name == partitionIDIndex {
			continue
		}
		info := storage.IndexInfo{Name: spec.Name, Unique: spec.Unique}
		if spec.Name == primaryKeyIndex {
			info.Unique = true
		}
		out = append(out, info)
	}
	if err := cur.Err(); err != nil {
		return nil, classify(c, err)
	}
	return out, nil
}

// DropCollection implements storage.Driver.
func (d *Driver) DropCollection(ctx context.Context, c storage.Collection) error {
	db, err := d.database(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := db.Collection(c.Name).Drop(ctx); err != nil {
		return classify(c, err)
	}
	d.mu.Lock()
	delete(d.indexed, c.Name)
	d.mu.Unlock()
	return nil
}

// Close implements storage.Driver.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Disconnect(ctx)
	d.client = nil
	d.indexed = make(map[string]bool)
	return err
}

var _ storage.Driver = (*Driver)(nil)
