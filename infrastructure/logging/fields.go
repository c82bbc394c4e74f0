package logging

import (
	"strconv"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// UserID adds the partition key of the user being served.
func UserID(id storage.UserID) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("user_id", string(id))
	}
}

// Collection adds a collection name field.
func Collection(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("collection", name)
	}
}

// Engine adds the database engine field.
func Engine(engine storage.Engine) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("engine", string(engine))
	}
}

// IndexName adds an index name field.
func IndexName(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("index", name)
	}
}

// EventID adds an event id field.
func EventID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("event_id", id)
	}
}

// BatchID adds the integrity batch marker field.
func BatchID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("batch_id", id)
	}
}

// Count adds a named document count.
func Count(key string, n int64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64(key, n)
	}
}

// Attempt adds a retry attempt number.
func Attempt(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("attempt", n)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Component adds a component field for categorization.
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}

// Operation adds an operation field.
func Operation(op string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("operation", op)
	}
}

// Str adds a string field with custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}

// Float adds a float field rendered as a string, for values such as
// timestamps that must not lose precision in console output.
func Float(key string, v float64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, formatFloat(v))
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Int adds an integer field.
func Int(key string, n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int(key, n)
	}
}
