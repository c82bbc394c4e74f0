package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// cursor adapts a mongo.Cursor, normalizing every decoded document.
type cursor struct {
	c   storage.Collection
	cur *mongo.Cursor
	doc storage.Document
	err error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if !c.cur.Next(ctx) {
		if err := c.cur.Err(); err != nil {
			c.err = classify(c.c, err)
		}
		return false
	}
	var raw bson.M
	if err := c.cur.Decode(&raw); err != nil {
		c.err = storage.Unexpected(err)
		return false
	}
	c.doc = fromStored(c.c, raw)
	return true
}

func (c *cursor) Document() storage.Document { return c.doc }

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

// normalizeDocument converts decoded BSON into the plain document
// representation: nested documents become maps, arrays become []any and
// every number becomes float64.
func normalizeDocument(m bson.M) storage.Document {
	out := make(storage.Document, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		return map[string]any(normalizeDocument(t))
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		return map[string]any(normalizeDocument(t))
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case primitive.DateTime:
		return float64(t) / 1000
	case primitive.ObjectID:
		return t.Hex()
	default:
		return v
	}
}
