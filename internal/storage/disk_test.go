package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxSize int64) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(t.TempDir(), 8, maxSize) // tiny chunks to exercise the loop
	require.NoError(t, err)
	return store
}

func TestDiskStore_SaveRoundTrip(t *testing.T) {
	store := newTestStore(t, 1<<20)
	content := []byte("hello world, this spans several chunks")

	relPath := AllocatePath(7, "hello world.txt", time.Now())
	written, sum, err := store.Save(context.Background(), relPath, bytes.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), written)
	want := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(want[:]), sum)

	rc, err := store.Open(context.Background(), relPath)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestDiskStore_SaveTooLarge(t *testing.T) {
	store := newTestStore(t, 16)

	relPath := AllocatePath(1, "big.bin", time.Now())
	_, _, err := store.Save(context.Background(), relPath, bytes.NewReader(make([]byte, 17)))
	require.ErrorIs(t, err, ErrTooLarge)

	// Neither the partial file nor its directory may survive.
	_, statErr := os.Stat(filepath.Join(store.Root(), filepath.FromSlash(relPath)))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Dir(filepath.Join(store.Root(), filepath.FromSlash(relPath))))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDiskStore_SaveExactLimit(t *testing.T) {
	store := newTestStore(t, 16)

	written, _, err := store.Save(context.Background(), AllocatePath(1, "ok.bin", time.Now()),
		bytes.NewReader(make([]byte, 16)))
	require.NoError(t, err)
	assert.Equal(t, int64(16), written)
}

func TestDiskStore_RemoveCleansEmptyParents(t *testing.T) {
	store := newTestStore(t, 1<<20)

	relPath := AllocatePath(3, "doc.pdf", time.Now())
	_, _, err := store.Save(context.Background(), relPath, strings.NewReader("content"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(context.Background(), relPath))

	// owner/<month>/<unique> chain should be gone all the way up.
	ownerDir := filepath.Join(store.Root(), "3")
	_, statErr := os.Stat(ownerDir)
	assert.True(t, os.IsNotExist(statErr))

	// Removing again is a no-op.
	assert.NoError(t, store.Remove(context.Background(), relPath))
}

func TestDiskStore_RemoveKeepsOccupiedParents(t *testing.T) {
	store := newTestStore(t, 1<<20)
	now := time.Now()

	first := AllocatePath(3, "a.txt", now)
	second := AllocatePath(3, "b.txt", now)
	_, _, err := store.Save(context.Background(), first, strings.NewReader("a"))
	require.NoError(t, err)
	_, _, err = store.Save(context.Background(), second, strings.NewReader("b"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(context.Background(), first))

	// The shared month directory still holds the second upload.
	rc, err := store.Open(context.Background(), second)
	require.NoError(t, err)
	rc.Close()
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":        "report.pdf",
		"my file.txt":       "my_file.txt",
		"  padded.txt  ":    "padded.txt",
		"../../etc/passwd":  "....etcpasswd",
		"über résumé.doc":   "ber_rsum.doc",
		"":                  "file",
		"???":               "file",
		"snake_case-ok.tar": "snake_case-ok.tar",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input=%q", in)
	}
}

func TestAllocatePath_Shape(t *testing.T) {
	created := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	p := AllocatePath(42, "notes.txt", created)
	parts := strings.Split(p, "/")
	require.Len(t, parts, 4)
	assert.Equal(t, "42", parts[0])
	assert.Equal(t, "2026-03", parts[1])
	assert.Len(t, parts[2], 32)
	assert.Equal(t, "notes.txt", parts[3])

	assert.NotEqual(t, p, AllocatePath(42, "notes.txt", created), "paths must not collide")
}
