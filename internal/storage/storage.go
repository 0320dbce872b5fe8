// Package storage persists upload payloads. The default backend is the
// local filesystem; an S3-compatible backend is available for deployments
// that already run object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by Save when the stream exceeds the configured
// maximum size. No partial object remains after this error.
var ErrTooLarge = errors.New("upload exceeds maximum allowed size")

// Store is a blob store addressed by storage-relative paths.
type Store interface {
	// Save streams r to relPath, returning the byte count and the hex
	// SHA-256 of the written content. Exceeding the size limit aborts the
	// write, removes any partial object and returns ErrTooLarge.
	Save(ctx context.Context, relPath string, r io.Reader) (int64, string, error)

	// Open returns a reader over the stored object.
	Open(ctx context.Context, relPath string) (io.ReadCloser, error)

	// Remove deletes the object. Missing objects are not an error.
	Remove(ctx context.Context, relPath string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename returns a path-safe filename, preserving the extension.
func SanitizeFilename(name string) string {
	if name == "" {
		return "file"
	}
	sanitized := strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	sanitized = unsafeChars.ReplaceAllString(sanitized, "")
	if sanitized == "" {
		return "file"
	}
	return sanitized
}

// AllocatePath builds the storage-relative path for a new upload:
// <owner>/<YYYY-MM>/<random-segment>/<sanitized-name>. The random segment
// makes paths unguessable and collision-free, so concurrent uploads never
// target the same file.
func AllocatePath(ownerID int64, originalName string, createdAt time.Time) string {
	unique := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%d/%s/%s/%s",
		ownerID, createdAt.UTC().Format("2006-01"), unique, SanitizeFilename(originalName))
}
