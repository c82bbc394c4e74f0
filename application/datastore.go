// Package application provides the storage layer instance: one driver and
// the stores, caches and collaborators built on it.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/felixgeelhaar/eventstore-go/domain/attachment"
	"github.com/felixgeelhaar/eventstore-go/domain/cache"
	"github.com/felixgeelhaar/eventstore-go/domain/event"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/domain/systemstream"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/observability"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/query"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/resilience"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/collection"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/events"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/streams"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/userdata"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/versions"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/streaming"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Result array names.
const (
	ResultEvents         = "events"
	ResultEventDeletions = "eventDeletions"
)

// Datastore owns a driver and every store built on it.
type Datastore struct {
	driver      storage.Driver
	attachments attachment.Store
	cache       cache.Cache
	clock       collection.Clock
	streaming   []streaming.Option
	tracer      trace.Tracer

	retryInterval time.Duration
	maxAttempts   int

	events         *events.Store
	streams        *streams.Store
	accesses       *collection.Store
	webhooks       *collection.Store
	profile        *collection.Store
	followedSlices *collection.Store
	versions       *versions.Store
	translator     *query.Translator
}

// DatastoreConfig contains configuration for the datastore.
type DatastoreConfig struct {
	Driver      storage.Driver
	Deletion    event.DeletionConfig
	Integrity   bool
	Registry    systemstream.Registry
	Attachments attachment.Store
	Cache       cache.Cache
	CacheTTL    time.Duration
	Streaming   []streaming.Option
	Metrics     telemetry.Metrics
	Tracer      trace.Tracer
	Clock       collection.Clock

	// ConnectRetryInterval is the delay between connection attempts.
	ConnectRetryInterval time.Duration
	// ConnectMaxAttempts bounds connection attempts. Zero retries until the
	// context is cancelled.
	ConnectMaxAttempts int
}

// NewDatastore creates a datastore with the given configuration.
func NewDatastore(config DatastoreConfig) (*Datastore, error) {
	if config.Driver == nil {
		return nil, errors.New("driver is required")
	}

	// Apply defaults
	if config.Metrics == nil {
		config.Metrics = telemetry.NoopMetricsProvider{}
	}
	if config.Tracer == nil {
		config.Tracer = observability.NoopTracer()
	}
	if config.Clock == nil {
		config.Clock = collection.SystemClock
	}
	if config.ConnectRetryInterval <= 0 {
		config.ConnectRetryInterval = time.Second
	}

	ds := &Datastore{
		driver:        config.Driver,
		attachments:   config.Attachments,
		cache:         config.Cache,
		clock:         config.Clock,
		streaming:     append([]streaming.Option{streaming.WithMetrics(config.Metrics)}, config.Streaming...),
		tracer:        config.Tracer,
		retryInterval: config.ConnectRetryInterval,
		maxAttempts:   config.ConnectMaxAttempts,
	}

	var err error
	ds.events, err = events.New(config.Driver, events.Config{
		Deletion:    config.Deletion,
		Integrity:   config.Integrity,
		Registry:    config.Registry,
		Attachments: config.Attachments,
		Metrics:     config.Metrics,
		Clock:       config.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}

	ds.streams = streams.New(config.Driver, streams.Config{
		Integrity: config.Integrity,
		Cache:     config.Cache,
		CacheTTL:  config.CacheTTL,
		Metrics:   config.Metrics,
		Clock:     config.Clock,
	})

	opts := []collection.Option{
		collection.WithMetrics(config.Metrics),
		collection.WithClock(config.Clock),
	}
	ds.accesses = userdata.Accesses(config.Driver, opts...)
	ds.webhooks = userdata.Webhooks(config.Driver, opts...)
	ds.profile = userdata.Profile(config.Driver, opts...)
	ds.followedSlices = userdata.FollowedSlices(config.Driver, opts...)
	ds.versions = versions.New(config.Driver, opts...)
	ds.translator = query.New(ds.streams)

	return ds, nil
}

// Events returns the event store.
func (d *Datastore) Events() *events.Store { return d.events }

// Streams returns the stream store.
func (d *Datastore) Streams() *streams.Store { return d.streams }

// Accesses returns the access store.
func (d *Datastore) Accesses() *collection.Store { return d.accesses }

// Webhooks returns the webhook store.
func (d *Datastore) Webhooks() *collection.Store { return d.webhooks }

// Profile returns the profile store.
func (d *Datastore) Profile() *collection.Store { return d.profile }

// FollowedSlices returns the followed slices store.
func (d *Datastore) FollowedSlices() *collection.Store { return d.followedSlices }

// Versions returns the schema versions store.
func (d *Datastore) Versions() *versions.Store { return d.versions }

// Translator returns the event-query translator.
func (d *Datastore) Translator() *query.Translator { return d.translator }

// Driver returns the underlying driver.
func (d *Datastore) Driver() storage.Driver { return d.driver }

// Connect waits until the database is reachable.
func (d *Datastore) Connect(ctx context.Context) (err error) {
	ctx, span := observability.Start(ctx, d.tracer, "datastore.connect",
		observability.AttrEngine.String(string(d.driver.Engine())))
	defer func() { observability.End(span, err) }()

	_, err = resilience.RetryUntilAvailable(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.driver.Connect(ctx)
	},
		resilience.WithInterval(d.retryInterval),
		resilience.WithMaxAttempts(d.maxAttempts),
		resilience.WithComponent(string(d.driver.Engine())),
	)
	return err
}

// collections lists every store in index-creation order.
func (d *Datastore) collections() []*collection.Store {
	return []*collection.Store{
		d.events.Store,
		d.streams.Store,
		d.accesses,
		d.webhooks,
		d.profile,
		d.followedSlices,
	}
}

// EnsureIndexes creates the indexes of every collection.
func (d *Datastore) EnsureIndexes(ctx context.Context) (err error) {
	ctx, span := observability.Start(ctx, d.tracer, "datastore.ensure_indexes")
	defer func() { observability.End(span, err) }()

	for _, s := range d.collections() {
		if err := s.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("indexes of %s: %w", s.Collection().Name, err)
		}
	}
	if err := d.versions.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("indexes of %s: %w", versions.Name, err)
	}
	return nil
}

// CollectionIndexes lists the indexes present on one collection.
type CollectionIndexes struct {
	Collection string
	Indexes    []storage.IndexInfo
}

// ListIndexes reports the indexes of every collection.
func (d *Datastore) ListIndexes(ctx context.Context) ([]CollectionIndexes, error) {
	var out []CollectionIndexes
	for _, s := range d.collections() {
		idx, err := s.ListIndexes(ctx)
		if err != nil {
			return nil, fmt.Errorf("indexes of %s: %w", s.Collection().Name, err)
		}
		out = append(out, CollectionIndexes{Collection: s.Collection().Name, Indexes: idx})
	}
	return out, nil
}

// EventQuery describes an event retrieval.
type EventQuery struct {
	// Predicates are ANDed.
	Predicates []event.Predicate

	// Options sorts and pages the events. The default sort is time
	// descending.
	Options storage.FindOptions

	// Running keeps only events without an end time.
	Running bool

	// DeletionsSince adds the deletions newer than this time to the result.
	DeletionsSince *float64
}

// QueryEvents returns a streamed result with an "events" array and, when
// requested, an "eventDeletions" array.
func (d *Datastore) QueryEvents(ctx context.Context, user storage.UserID, q EventQuery) (_ *streaming.Result, err error) {
	ctx, span := observability.Start(ctx, d.tracer, "datastore.query_events",
		observability.AttrUserID.String(string(user)),
		observability.AttrCount.Int(len(q.Predicates)))
	defer func() { observability.End(span, err) }()

	f, err := d.translator.Translate(ctx, user, q.Predicates)
	if err != nil {
		return nil, err
	}

	if q.Running {
		f = storage.Conjoin(f, query.Running())
	}

	opts := q.Options
	if len(opts.Sort) == 0 {
		opts.Sort = []storage.SortKey{{Field: event.FieldTime, Direction: storage.Descending}}
	}
	eventsCursor, err := d.events.FindStreamed(ctx, user, f, opts)
	if err != nil {
		return nil, err
	}

	res := streaming.New(d.streaming...)
	res.AddStream(ResultEvents, eventsCursor, true)

	if q.DeletionsSince != nil {
		deletions, err := d.events.FindDeletionsStreamed(ctx, user, *q.DeletionsSince, storage.FindOptions{})
		if err != nil {
			_ = eventsCursor.Close(context.WithoutCancel(ctx))
			return nil, err
		}
		res.AddStream(ResultEventDeletions, deletions, true)
	}

	res.SetMeta("serverTime", d.clock())
	return res, nil
}

// QueryDeletions returns a streamed result with the "eventDeletions" newer
// than since.
func (d *Datastore) QueryDeletions(ctx context.Context, user storage.UserID, since float64, opts storage.FindOptions) (_ *streaming.Result, err error) {
	ctx, span := observability.Start(ctx, d.tracer, "datastore.query_deletions",
		observability.AttrUserID.String(string(user)))
	defer func() { observability.End(span, err) }()

	cur, err := d.events.FindDeletionsStreamed(ctx, user, since, opts)
	if err != nil {
		return nil, err
	}
	res := streaming.New(d.streaming...)
	res.AddStream(ResultEventDeletions, cur, true)
	res.SetMeta("serverTime", d.clock())
	return res, nil
}

// StorageSize is the storage used by one user.
type StorageSize struct {
	DBDocuments   int64 `json:"dbDocuments"`
	AttachedFiles int64 `json:"attachedFiles"`
}

// UserStorageSize sums the documents and attachment files of a user.
func (d *Datastore) UserStorageSize(ctx context.Context, user storage.UserID) (size StorageSize, err error) {
	ctx, span := observability.Start(ctx, d.tracer, "datastore.user_storage_size",
		observability.AttrUserID.String(string(user)))
	defer func() { observability.End(span, err) }()

	n, err := d.events.GetTotalSize(ctx, user)
	if err != nil {
		return size, err
	}
	size.DBDocuments += n

	for _, s := range d.collections()[1:] {
		n, err := s.TotalSize(ctx, user)
		if err != nil {
			return size, fmt.Errorf("size of %s: %w", s.Collection().Name, err)
		}
		size.DBDocuments += n
	}

	if d.attachments != nil {
		n, err := d.attachments.TotalSize(ctx, user)
		if err != nil {
			return size, fmt.Errorf("attachments size: %w", err)
		}
		size.AttachedFiles = n
	}
	return size, nil
}

// DeleteUser physically removes every document and attachment of a user.
func (d *Datastore) DeleteUser(ctx context.Context, user storage.UserID) (err error) {
	ctx, span := observability.Start(ctx, d.tracer, "datastore.delete_user",
		observability.AttrUserID.String(string(user)))
	defer func() { observability.End(span, err) }()

	if d.attachments != nil {
		withFiles, err := d.events.FindIncludingDeletionsAndVersions(ctx, user,
			storage.Exists{Field: event.FieldAttachments, Exists: true},
			storage.FindOptions{})
		if err != nil {
			return err
		}
		for _, doc := range withFiles {
			id, _ := doc[storage.FieldID].(string)
			if err := d.attachments.RemoveAllForEvent(ctx, user, id); err != nil {
				return fmt.Errorf("attachments of %s: %w", id, err)
			}
		}
	}

	var total int64
	for _, s := range d.collections() {
		n, err := s.RemoveAll(ctx, user)
		if err != nil {
			return fmt.Errorf("removing %s: %w", s.Collection().Name, err)
		}
		total += n
	}
	d.streams.Invalidate(ctx, user)

	logging.Info().
		Add(logging.UserID(user)).
		Add(logging.Count("documents", total)).
		Msg("user data removed")
	return nil
}

// Close releases the driver and the cache connection.
func (d *Datastore) Close(ctx context.Context) error {
	var errs []error
	if err := d.driver.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if c, ok := d.cache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
