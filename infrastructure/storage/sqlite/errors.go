package sqlite

import (
	"errors"
	"regexp"

	"github.com/mattn/go-sqlite3"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// primaryKeyIndex is the name reported for primary key violations.
const primaryKeyIndex = "_id_"

var indexNamePattern = regexp.MustCompile(`index '([^']+)'`)

// classify normalizes a backend error: constraint violations become
// *storage.DuplicateError naming the logical field, anything else is
// unexpected.
func classify(c storage.Collection, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidOperation) {
		return err
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint {
		switch sqErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey:
			return &storage.DuplicateError{Collection: c.Name, Index: primaryKeyIndex, Field: storage.FieldID, Err: err}
		case sqlite3.ErrConstraintUnique:
			return duplicate(c, err)
		}
	}
	return storage.Unexpected(err)
}

func duplicate(c storage.Collection, err error) error {
	m := indexNamePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return &storage.DuplicateError{Collection: c.Name, Index: primaryKeyIndex, Field: storage.FieldID, Err: err}
	}
	dup := &storage.DuplicateError{Collection: c.Name, Index: m[1], Err: err}
	if idx, ok := c.IndexByName(m[1]); ok {
		dup.Field = idx.Field()
	}
	return dup
}
