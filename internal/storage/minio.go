// minio.go - S3-compatible blob store backend.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore stores objects in an S3-compatible bucket. Paths double as
// object keys.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	maxSize int64
}

// MinioOptions configures the S3 backend.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	MaxSize   int64
}

func normalizeEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("empty endpoint")
	}

	// Accept either "minio:9000" or "http(s)://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, errors.New("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, errors.New("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	return raw, false, nil
}

// NewMinioStore connects to the S3 endpoint and verifies the bucket exists.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	endpoint, secure, err := normalizeEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("bucket does not exist: %s", opts.Bucket)
	}

	return &MinioStore{client: client, bucket: opts.Bucket, maxSize: opts.MaxSize}, nil
}

// Save implements Store. The stream is hashed and size-checked on the way
// through; exceeding the limit aborts the put and removes any partial
// object server-side.
func (m *MinioStore) Save(ctx context.Context, relPath string, r io.Reader) (int64, string, error) {
	hasher := sha256.New()
	lr := &limitedHashReader{r: io.TeeReader(r, hasher), remaining: m.maxSize}

	info, err := m.client.PutObject(ctx, m.bucket, relPath, lr, -1, minio.PutObjectOptions{})
	if err != nil {
		_ = m.Remove(context.WithoutCancel(ctx), relPath)
		if lr.exceeded {
			return 0, "", ErrTooLarge
		}
		return 0, "", fmt.Errorf("put object: %w", err)
	}
	if lr.exceeded {
		_ = m.Remove(context.WithoutCancel(ctx), relPath)
		return 0, "", ErrTooLarge
	}

	return info.Size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open implements Store.
func (m *MinioStore) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, relPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; surface missing objects now.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, err
	}
	return obj, nil
}

// Remove implements Store.
func (m *MinioStore) Remove(ctx context.Context, relPath string) error {
	return m.client.RemoveObject(ctx, m.bucket, relPath, minio.RemoveObjectOptions{})
}

// limitedHashReader fails the stream once more than remaining bytes pass
// through, flagging the overflow so Save can report ErrTooLarge.
type limitedHashReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedHashReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrTooLarge
	}
	return n, err
}
