package mongodb

import (
	"context"
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

const primaryKeyIndex = "_id_"

var dupIndexPattern = regexp.MustCompile(`index: (\S+) dup key`)

// classify wraps MongoDB errors with domain errors.
func classify(c storage.Collection, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidOperation) {
		return err
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return duplicate(c, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return storage.Unexpected(err)
}

func duplicate(c storage.Collection, err error) error {
	dup := &storage.DuplicateError{Collection: c.Name, Index: primaryKeyIndex, Field: storage.FieldID, Err: err}
	m := dupIndexPattern.FindStringSubmatch(err.Error())
	if m == nil || m[1] == primaryKeyIndex || m[1] == partitionIDIndex {
		return dup
	}
	dup.Index = m[1]
	dup.Field = ""
	if idx, ok := c.IndexByName(m[1]); ok {
		dup.Field = idx.Field()
	}
	return dup
}
