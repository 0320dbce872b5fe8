package upload

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ztransfer/internal/auth"
	"ztransfer/internal/storage"
)

// stubStore records calls; Save can be forced to fail.
type stubStore struct {
	saveErr error
	saved   []string
	removed []string
}

func (s *stubStore) Save(_ context.Context, relPath string, r io.Reader) (int64, string, error) {
	if s.saveErr != nil {
		return 0, "", s.saveErr
	}
	n, _ := io.Copy(io.Discard, r)
	s.saved = append(s.saved, relPath)
	return n, "deadbeef", nil
}

func (s *stubStore) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (s *stubStore) Remove(_ context.Context, relPath string) error {
	s.removed = append(s.removed, relPath)
	return nil
}

func TestStoreUpload_MissingUserID(t *testing.T) {
	store := &stubStore{}
	svc := NewService(nil, store, 10*24*time.Hour)

	_, _, _, err := svc.StoreUpload(context.Background(), auth.User{}, strings.NewReader("x"), "a.txt", "text/plain")
	require.ErrorIs(t, err, ErrMissingUserID)
	assert.Empty(t, store.saved, "nothing may be written for an unpersisted user")
}

func TestStoreUpload_TooLargePropagates(t *testing.T) {
	store := &stubStore{saveErr: storage.ErrTooLarge}
	svc := NewService(nil, store, 10*24*time.Hour)

	_, _, _, err := svc.StoreUpload(context.Background(), auth.User{ID: 1}, strings.NewReader("x"), "a.txt", "text/plain")
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestErrTooLargeAliasesStorageSentinel(t *testing.T) {
	assert.ErrorIs(t, storage.ErrTooLarge, ErrTooLarge)
}
