// disk.go - Local-filesystem blob store.
//
// Writes stream in fixed-size chunks while feeding a running SHA-256, so
// size enforcement, hashing and persistence happen in a single pass.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// DiskStore stores objects under a root directory.
type DiskStore struct {
	root      string
	chunkSize int
	maxSize   int64
}

// NewDiskStore creates the root directory if needed and returns a store
// with the given chunk size and cumulative size limit.
func NewDiskStore(root string, chunkSize int, maxSize int64) (*DiskStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &DiskStore{root: abs, chunkSize: chunkSize, maxSize: maxSize}, nil
}

// Root returns the absolute storage root directory.
func (d *DiskStore) Root() string { return d.root }

// Save implements Store. The chunk that would push the total past the size
// limit is never written; the partial file and its directory are removed
// before ErrTooLarge is returned.
func (d *DiskStore) Save(ctx context.Context, relPath string, r io.Reader) (int64, string, error) {
	dest := filepath.Join(d.root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, "", fmt.Errorf("create upload dir: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, "", fmt.Errorf("create upload file: %w", err)
	}

	hasher := sha256.New()
	buf := make([]byte, d.chunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			d.discard(f, relPath)
			return 0, "", err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > d.maxSize {
				d.discard(f, relPath)
				return 0, "", ErrTooLarge
			}
			if _, err := f.Write(buf[:n]); err != nil {
				d.discard(f, relPath)
				return 0, "", fmt.Errorf("write chunk: %w", err)
			}
			_, _ = hasher.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			d.discard(f, relPath)
			return 0, "", fmt.Errorf("read upload stream: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		_ = d.Remove(ctx, relPath)
		return 0, "", fmt.Errorf("close upload file: %w", err)
	}

	return total, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open implements Store.
func (d *DiskStore) Open(_ context.Context, relPath string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.root, filepath.FromSlash(relPath)))
}

// Remove implements Store. After deleting the file it walks up removing
// now-empty parent directories; a non-empty directory simply ends the walk.
func (d *DiskStore) Remove(_ context.Context, relPath string) error {
	dest := filepath.Join(d.root, filepath.FromSlash(relPath))
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	for dir := filepath.Dir(dest); dir != d.root && len(dir) > len(d.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			// Directory still holds other uploads; leave it.
			break
		}
	}
	return nil
}

// discard closes and removes a partially written file along with any
// directories left empty by its removal.
func (d *DiskStore) discard(f *os.File, relPath string) {
	_ = f.Close()
	if err := d.Remove(context.Background(), relPath); err != nil {
		log.Printf("service=storage msg=%q path=%s err=%v", "partial_cleanup_failed", relPath, err)
	}
}
