// Package attachment defines the collaborator storing the binary files
// attached to events.
package attachment

import (
	"context"
	"errors"
	"io"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// Ref identifies a stored attachment file.
type Ref struct {
	// UserID owns the event.
	UserID storage.UserID `json:"userId"`

	// EventID is the event the file is attached to.
	EventID string `json:"eventId"`

	// FileID is the attachment identifier.
	FileID string `json:"fileId"`
}

// IsValid returns true if every path component is set and safe.
func (r Ref) IsValid() bool {
	return validComponent(string(r.UserID)) && validComponent(r.EventID) && validComponent(r.FileID)
}

func validComponent(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for _, c := range s {
		if c == '/' || c == '\\' || c == 0 {
			return false
		}
	}
	return true
}

// Store persists attachment files. Implementations are in infrastructure.
type Store interface {
	// SaveFromStream stores the content and returns the new file id.
	SaveFromStream(ctx context.Context, content io.Reader, userID storage.UserID, eventID string) (string, error)

	// Stream opens a stored file.
	Stream(ctx context.Context, ref Ref) (io.ReadCloser, error)

	// Remove deletes one file.
	Remove(ctx context.Context, ref Ref) error

	// RemoveAllForEvent deletes every file of an event. Missing files are
	// not an error.
	RemoveAllForEvent(ctx context.Context, userID storage.UserID, eventID string) error

	// TotalSize returns the bytes used by a user's files.
	TotalSize(ctx context.Context, userID storage.UserID) (int64, error)
}

// Domain errors for attachment storage.
var (
	// ErrNotFound indicates the file was not found.
	ErrNotFound = errors.New("attachment not found")

	// ErrInvalidRef indicates the reference is incomplete or unsafe.
	ErrInvalidRef = errors.New("invalid attachment reference")
)
