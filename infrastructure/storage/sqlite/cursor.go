package sqlite

import (
	"context"
	"database/sql"

	"github.com/goccy/go-json"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// cursor iterates rows one at a time, decoding each document on demand.
type cursor struct {
	c          storage.Collection
	rows       *sql.Rows
	projection []string
	cur        storage.Document
	err        error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.err = storage.Unexpected(err)
		}
		return false
	}
	doc, err := scanDocument(c.rows)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = project(doc, c.projection)
	return true
}

func (c *cursor) Document() storage.Document { return c.cur }

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close(context.Context) error {
	return c.rows.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (storage.Document, error) {
	var id, raw string
	if err := s.Scan(&id, &raw); err != nil {
		return nil, storage.Unexpected(err)
	}
	return decode(id, raw)
}

func decode(id, raw string) (storage.Document, error) {
	doc := storage.Document{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, storage.Unexpected(err)
	}
	doc[storage.FieldDBID] = id
	return doc, nil
}

// encode serializes a document without its key column.
func encode(d storage.Document) (string, error) {
	body := make(storage.Document, len(d))
	for k, v := range d {
		if k != storage.FieldDBID {
			body[k] = v
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", storage.Unexpected(err)
	}
	return string(data), nil
}

func project(d storage.Document, fields []string) storage.Document {
	if len(fields) == 0 {
		return d
	}
	out := d.Project(fields)
	out[storage.FieldDBID] = d[storage.FieldDBID]
	return out
}
