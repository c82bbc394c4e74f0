package streaming

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/logging"
)

// MetaKey is the key of the trailing metadata object.
const MetaKey = "meta"

type entry struct {
	name    string
	source  storage.Cursor
	isArray bool
	value   any
}

// Result is a response made of named entries. Stream entries are consumed
// once, by either Encode, WriteToHTTPResponse or ToObject.
type Result struct {
	cfg     Config
	entries []entry
	meta    map[string]any
}

// New creates an empty result.
func New(opts ...Option) *Result {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Result{cfg: cfg, meta: map[string]any{}}
}

// AddStream appends a streamed entry. Array entries emit every item of the
// source; single entries emit the first item, or null.
func (r *Result) AddStream(name string, source storage.Cursor, isArray bool) {
	r.entries = append(r.entries, entry{name: name, source: source, isArray: isArray})
}

// Set appends a plain entry.
func (r *Result) Set(name string, value any) {
	r.entries = append(r.entries, entry{name: name, value: value})
}

// SetMeta sets a key of the metadata object.
func (r *Result) SetMeta(key string, value any) {
	r.meta[key] = value
}

// IsStreamResult reports whether any entry is streamed.
func (r *Result) IsStreamResult() bool {
	for _, e := range r.entries {
		if e.source != nil {
			return true
		}
	}
	return false
}

// Encode writes the whole result to w. Arrays are written one after the
// other, each as a sequence of fragments; the metadata object comes last.
func (r *Result) Encode(ctx context.Context, w io.Writer) (int64, error) {
	var written int64
	write := func(p []byte) error {
		n, err := w.Write(p)
		written += int64(n)
		return err
	}

	if err := write([]byte{'{'}); err != nil {
		return written, err
	}
	for i, e := range r.entries {
		if i > 0 {
			if err := write([]byte{','}); err != nil {
				return written, err
			}
		}
		var err error
		switch {
		case e.source == nil:
			err = r.writeValue(write, e.name, e.value)
		case e.isArray:
			err = r.streamArray(ctx, write, e)
		default:
			err = r.writeSingle(ctx, write, e)
		}
		if err != nil {
			return written, err
		}
	}

	meta, err := json.Marshal(r.meta)
	if err != nil {
		return written, fmt.Errorf("failed to encode meta: %w", err)
	}
	var tail bytes.Buffer
	if len(r.entries) > 0 {
		tail.WriteByte(',')
	}
	tail.Write(key(MetaKey))
	tail.Write(meta)
	tail.WriteByte('}')
	return written, write(tail.Bytes())
}

func key(name string) []byte {
	k, _ := json.Marshal(name)
	return append(k, ':')
}

func (r *Result) writeValue(write func([]byte) error, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return write(append(key(name), data...))
}

func (r *Result) writeSingle(ctx context.Context, write func([]byte) error, e entry) error {
	defer func() { _ = e.source.Close(context.WithoutCancel(ctx)) }()
	var v any
	if e.source.Next(ctx) {
		v = e.source.Document()
	} else if err := e.source.Err(); err != nil {
		return err
	}
	return r.writeValue(write, e.name, v)
}

// streamArray runs a reader and a batcher for one array entry and forwards
// the fragments verbatim. The channels are unbuffered, so the reader holds
// at most one item ahead of the batcher and the batcher at most one
// fragment ahead of the writer.
func (r *Result) streamArray(ctx context.Context, write func([]byte) error, e entry) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	items := make(chan storage.Document)
	fragments := make(chan []byte)

	g.Go(func() error {
		defer close(items)
		return read(gctx, e.source, items)
	})
	g.Go(func() error {
		defer close(fragments)
		return r.batch(gctx, e.name, items, fragments)
	})

	var werr error
	for frag := range fragments {
		if werr != nil {
			continue
		}
		if werr = write(frag); werr != nil {
			cancel()
		}
	}
	err := g.Wait()
	if werr != nil {
		return werr
	}
	return err
}

func read(ctx context.Context, src storage.Cursor, out chan<- storage.Document) error {
	defer func() { _ = src.Close(context.WithoutCancel(ctx)) }()
	for src.Next(ctx) {
		select {
		case out <- src.Document():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := src.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// batch encodes items into fragments. The first fragment opens the array
// with its key, the last one closes it. A fragment is flushed when it holds
// BatchSize items or MaxWait has elapsed since the previous flush.
func (r *Result) batch(ctx context.Context, name string, items <-chan storage.Document, out chan<- []byte) error {
	var buf bytes.Buffer
	buf.Write(key(name))
	buf.WriteByte('[')

	var total, pending int
	timer := time.NewTimer(r.cfg.MaxWait)
	defer timer.Stop()

	flush := func() error {
		frag := bytes.Clone(buf.Bytes())
		buf.Reset()
		pending = 0
		select {
		case out <- frag:
		case <-ctx.Done():
			return ctx.Err()
		}
		timer.Reset(r.cfg.MaxWait)
		return nil
	}

	for {
		select {
		case d, ok := <-items:
			if !ok {
				buf.WriteByte(']')
				if err := flush(); err != nil {
					return err
				}
				r.cfg.Metrics.RecordStreamedItems(ctx, name, int64(total))
				return nil
			}
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("failed to encode %s item: %w", name, err)
			}
			if total > 0 {
				buf.WriteByte(',')
			}
			buf.Write(data)
			total++
			pending++
			if pending >= r.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-timer.C:
			if pending > 0 {
				if err := flush(); err != nil {
					return err
				}
			} else {
				timer.Reset(r.cfg.MaxWait)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WriteToHTTPResponse writes the result as the body of a JSON response,
// flushing after every fragment when the writer supports it. Once the
// status is sent, a failing source can only truncate the body; the error
// is logged and returned.
func (r *Result) WriteToHTTPResponse(ctx context.Context, w http.ResponseWriter, status int) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	out := io.Writer(w)
	if f, ok := w.(http.Flusher); ok {
		out = flushWriter{w: w, f: f}
	}
	n, err := r.Encode(ctx, out)
	if err != nil {
		logging.Warn().
			Add(logging.Component("streaming")).
			Add(logging.Count("bytes_written", n)).
			Add(logging.ErrorField(err)).
			Msg("response stream aborted")
	}
	return err
}

type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		fw.f.Flush()
	}
	return n, err
}

// ToObject collects every entry into memory. Array entries become slices;
// the total number of collected items is bounded by DrainLimit.
func (r *Result) ToObject(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any, len(r.entries)+1)
	collected := 0

	for _, e := range r.entries {
		switch {
		case e.source == nil:
			out[e.name] = e.value
		case e.isArray:
			items, err := r.drain(ctx, e, &collected)
			if err != nil {
				return nil, err
			}
			out[e.name] = items
		default:
			var v any
			if e.source.Next(ctx) {
				v = e.source.Document()
			}
			err := e.source.Err()
			_ = e.source.Close(context.WithoutCancel(ctx))
			if err != nil {
				return nil, err
			}
			out[e.name] = v
		}
	}

	meta := make(map[string]any, len(r.meta))
	for k, v := range r.meta {
		meta[k] = v
	}
	out[MetaKey] = meta
	return out, nil
}

func (r *Result) drain(ctx context.Context, e entry, collected *int) ([]storage.Document, error) {
	defer func() { _ = e.source.Close(context.WithoutCancel(ctx)) }()
	items := make([]storage.Document, 0)
	for e.source.Next(ctx) {
		if *collected >= r.cfg.DrainLimit {
			return nil, fmt.Errorf("%w: more than %d items in result", storage.ErrCapacityExceeded, r.cfg.DrainLimit)
		}
		items = append(items, e.source.Document())
		*collected++
	}
	if err := e.source.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
