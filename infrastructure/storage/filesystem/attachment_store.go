// Package filesystem provides the on-disk attachment store.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/eventstore-go/domain/attachment"
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// AttachmentStore implements attachment.Store using the local filesystem.
// Files live under <base>/<user>/<event>/<file>.
type AttachmentStore struct {
	basePath string
}

// NewAttachmentStore creates a new filesystem attachment store.
func NewAttachmentStore(basePath string) (*AttachmentStore, error) {
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create attachments directory: %w", err)
	}

	return &AttachmentStore{basePath: basePath}, nil
}

// SaveFromStream stores content and returns the new file id.
func (s *AttachmentStore) SaveFromStream(ctx context.Context, content io.Reader, userID storage.UserID, eventID string) (string, error) {
	ref := attachment.Ref{UserID: userID, EventID: eventID, FileID: uuid.NewString()}
	if !ref.IsValid() {
		return "", attachment.ErrInvalidRef
	}

	dir := s.eventPath(userID, eventID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create attachment path: %w", err)
	}

	path := s.filePath(ref)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create attachment file: %w", err)
	}

	if _, err := io.Copy(file, contextReader{ctx: ctx, r: content}); err != nil {
		file.Close()    // #nosec G104 -- best-effort cleanup in error path
		os.Remove(path) // #nosec G104 -- best-effort cleanup in error path
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(path) // #nosec G104 -- best-effort cleanup in error path
		return "", fmt.Errorf("failed to close attachment file: %w", err)
	}

	return ref.FileID, nil
}

// Stream opens a stored file.
func (s *AttachmentStore) Stream(_ context.Context, ref attachment.Ref) (io.ReadCloser, error) {
	if !ref.IsValid() {
		return nil, attachment.ErrInvalidRef
	}

	file, err := os.Open(s.filePath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, attachment.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}

	return file, nil
}

// Remove deletes one file.
func (s *AttachmentStore) Remove(_ context.Context, ref attachment.Ref) error {
	if !ref.IsValid() {
		return attachment.ErrInvalidRef
	}

	if err := os.Remove(s.filePath(ref)); err != nil {
		if os.IsNotExist(err) {
			return attachment.ErrNotFound
		}
		return fmt.Errorf("failed to delete attachment: %w", err)
	}

	return nil
}

// RemoveAllForEvent deletes the event's attachment directory.
func (s *AttachmentStore) RemoveAllForEvent(_ context.Context, userID storage.UserID, eventID string) error {
	if !(attachment.Ref{UserID: userID, EventID: eventID, FileID: "-"}).IsValid() {
		return attachment.ErrInvalidRef
	}

	if err := os.RemoveAll(s.eventPath(userID, eventID)); err != nil {
		return fmt.Errorf("failed to delete event attachments: %w", err)
	}

	return nil
}

// TotalSize sums the size of every file of the user.
func (s *AttachmentStore) TotalSize(ctx context.Context, userID storage.UserID) (int64, error) {
	var total int64
	root := filepath.Join(s.basePath, string(userID))
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to compute attachments size: %w", err)
	}
	return total, nil
}

func (s *AttachmentStore) eventPath(userID storage.UserID, eventID string) string {
	return filepath.Join(s.basePath, string(userID), eventID)
}

func (s *AttachmentStore) filePath(ref attachment.Ref) string {
	return filepath.Join(s.eventPath(ref.UserID, ref.EventID), ref.FileID)
}

// contextReader stops a copy once the context is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
