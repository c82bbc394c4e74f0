package storage

import "context"

// SliceCursor is a Cursor over an in-memory slice.
type SliceCursor struct {
	docs []Document
	pos  int
	cur  Document
}

// NewSliceCursor creates a cursor over docs.
func NewSliceCursor(docs []Document) *SliceCursor {
	return &SliceCursor{docs: docs}
}

// Next advances the cursor.
func (c *SliceCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil || c.pos >= len(c.docs) {
		return false
	}
	c.cur = c.docs[c.pos]
	c.pos++
	return true
}

// Document returns the current document.
func (c *SliceCursor) Document() Document { return c.cur }

// Err always returns nil.
func (c *SliceCursor) Err() error { return nil }

// Close is a no-op.
func (c *SliceCursor) Close(context.Context) error { return nil }

// MappedCursor applies a conversion to every document of an inner cursor.
// Conversion failures stop iteration and surface through Err.
type MappedCursor struct {
	inner Cursor
	fn    func(context.Context, Document) (Document, error)
	cur   Document
	err   error
}

// NewMappedCursor wraps inner with fn.
func NewMappedCursor(inner Cursor, fn func(context.Context, Document) (Document, error)) *MappedCursor {
	return &MappedCursor{inner: inner, fn: fn}
}

// Next advances the cursor and converts the document.
func (c *MappedCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if !c.inner.Next(ctx) {
		return false
	}
	doc, err := c.fn(ctx, c.inner.Document())
	if err != nil {
		c.err = err
		return false
	}
	c.cur = doc
	return true
}

// Document returns the current converted document.
func (c *MappedCursor) Document() Document { return c.cur }

// Err returns the conversion or inner cursor error.
func (c *MappedCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.inner.Err()
}

// Close closes the inner cursor.
func (c *MappedCursor) Close(ctx context.Context) error {
	return c.inner.Close(ctx)
}

// Collect drains a cursor into a slice and closes it.
func Collect(ctx context.Context, c Cursor) ([]Document, error) {
	defer func() { _ = c.Close(ctx) }()
	var out []Document
	for c.Next(ctx) {
		out = append(out, c.Document())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
