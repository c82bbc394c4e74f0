package event

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// Domain errors for event operations. The invalid-operation errors also
// match storage.ErrInvalidOperation.
var (
	// ErrMissingTime is returned when a duration is written without a time.
	ErrMissingTime = fmt.Errorf("%w: duration requires a known time", storage.ErrInvalidOperation)

	// ErrSeriesTypeChange is returned when an update would turn a series
	// event into a regular one or the reverse.
	ErrSeriesTypeChange = fmt.Errorf("%w: series and non-series types cannot be swapped", storage.ErrInvalidOperation)

	// ErrInvalidTransition is returned when an event cannot move to the
	// requested lifecycle state.
	ErrInvalidTransition = fmt.Errorf("%w: lifecycle transition not allowed", storage.ErrInvalidOperation)

	// ErrEmptyStreamIDs is returned when an event would end up in no stream.
	ErrEmptyStreamIDs = fmt.Errorf("%w: an event needs at least one stream", storage.ErrInvalidOperation)

	// ErrUnknownDeletionMode is returned when parsing an unsupported mode.
	ErrUnknownDeletionMode = errors.New("unknown deletion mode")

	// ErrUnknownPredicate is returned for an unsupported query predicate.
	ErrUnknownPredicate = errors.New("unknown query predicate")
)
