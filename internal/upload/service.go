// service.go - Upload persistence and lifecycle.
package upload

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"ztransfer/internal/auth"
	"ztransfer/internal/db"
	"ztransfer/internal/storage"
)

// Service stores upload payloads in a blob store and their records in
// PostgreSQL.
type Service struct {
	pool      *sql.DB
	store     storage.Store
	retention time.Duration
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds an upload service with the given retention window.
func NewService(pool *sql.DB, store storage.Store, retention time.Duration, opts ...Option) *Service {
	s := &Service{
		pool:      pool,
		store:     store,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreUpload streams r into the blob store and records the upload. The
// returned download token is the public capability; the delete token is
// surfaced here exactly once and only its digest is stored. The database
// row is written in a single transaction after the file write completed,
// so an oversize stream leaves neither a file nor a row behind.
func (s *Service) StoreUpload(ctx context.Context, user auth.User, r io.Reader, filename, contentType string) (Upload, string, string, error) {
	if user.ID == 0 {
		return Upload{}, "", "", ErrMissingUserID
	}
	if filename == "" {
		filename = "file"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	now := s.now()
	relPath := storage.AllocatePath(user.ID, filename, now)

	written, sum, err := s.store.Save(ctx, relPath, r)
	if err != nil {
		return Upload{}, "", "", err
	}

	downloadToken, _, err := auth.GenerateToken()
	if err != nil {
		s.removeFile(ctx, relPath)
		return Upload{}, "", "", err
	}
	deleteToken, deleteTokenHash, err := auth.GenerateToken()
	if err != nil {
		s.removeFile(ctx, relPath)
		return Upload{}, "", "", err
	}

	up := Upload{
		OwnerID:         user.ID,
		DownloadToken:   downloadToken,
		DeleteTokenHash: deleteTokenHash,
		Path:            relPath,
		OriginalName:    filename,
		ContentType:     contentType,
		SizeBytes:       written,
		SHA256:          sum,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.retention),
	}

	err = db.WithTx(ctx, s.pool, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO uploads (owner_id, download_token, delete_token_hash, path,
				original_name, content_type, size_bytes, sha256, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id
		`, up.OwnerID, up.DownloadToken, up.DeleteTokenHash, up.Path,
			up.OriginalName, up.ContentType, up.SizeBytes, up.SHA256,
			up.CreatedAt, up.ExpiresAt).Scan(&up.ID)
	})
	if err != nil {
		s.removeFile(ctx, relPath)
		return Upload{}, "", "", fmt.Errorf("insert upload: %w", err)
	}

	return up, downloadToken, deleteToken, nil
}

// ResolveDownload looks up an upload by its download token. The token is a
// capability: possession is the authorization, so this is a plain indexed
// lookup. Expired uploads return ErrExpired.
func (s *Service) ResolveDownload(ctx context.Context, downloadToken string) (*Upload, error) {
	up, err := s.byDownloadToken(ctx, downloadToken)
	if err != nil {
		return nil, err
	}
	if !up.ExpiresAt.After(s.now()) {
		return nil, ErrExpired
	}
	return up, nil
}

// Open returns a reader over the upload's stored content.
func (s *Service) Open(ctx context.Context, up *Upload) (io.ReadCloser, error) {
	return s.store.Open(ctx, up.Path)
}

// DeleteByToken removes an upload when the raw delete token hashes to the
// stored digest. The file goes first, the row after, so a crash in between
// can orphan a file but never leave a row pointing at nothing it still
// serves. Expiry is deliberately not checked: deleting an already-expired
// upload just beats the sweep to it.
func (s *Service) DeleteByToken(ctx context.Context, downloadToken, rawDeleteToken string) error {
	up, err := s.byDownloadToken(ctx, downloadToken)
	if err != nil {
		return err
	}

	presented := auth.HashToken(rawDeleteToken)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(up.DeleteTokenHash)) != 1 {
		return ErrDeleteTokenMismatch
	}

	s.removeFile(ctx, up.Path)

	return db.WithTx(ctx, s.pool, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE id = $1`, up.ID)
		return err
	})
}

// DeleteExpiredUploads removes every upload whose expiry is at or before
// now and returns the count. File deletes are best-effort and logged; the
// row is only removed after its file delete attempt, so the worst crash
// outcome is a stray file, never a dangling record. Running the sweep twice
// in a row removes nothing the second time.
func (s *Service) DeleteExpiredUploads(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.pool.QueryContext(ctx, `
		SELECT id, path FROM uploads WHERE expires_at <= $1 ORDER BY expires_at
	`, now)
	if err != nil {
		return 0, fmt.Errorf("query expired uploads: %w", err)
	}
	defer rows.Close()

	type expired struct {
		id   int64
		path string
	}
	var batch []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.path); err != nil {
			return 0, fmt.Errorf("scan expired upload: %w", err)
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range batch {
		s.removeFile(ctx, e.path)

		if _, err := s.pool.ExecContext(ctx, `DELETE FROM uploads WHERE id = $1`, e.id); err != nil {
			log.Printf("service=sweep msg=%q id=%d err=%v", "row_delete_failed", e.id, err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *Service) byDownloadToken(ctx context.Context, downloadToken string) (*Upload, error) {
	var up Upload
	err := s.pool.QueryRowContext(ctx, `
		SELECT id, owner_id, download_token, delete_token_hash, path,
			original_name, content_type, size_bytes, sha256, created_at, expires_at
		FROM uploads
		WHERE download_token = $1
	`, downloadToken).Scan(&up.ID, &up.OwnerID, &up.DownloadToken, &up.DeleteTokenHash,
		&up.Path, &up.OriginalName, &up.ContentType, &up.SizeBytes, &up.SHA256,
		&up.CreatedAt, &up.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &up, nil
}

func (s *Service) removeFile(ctx context.Context, relPath string) {
	if err := s.store.Remove(ctx, relPath); err != nil {
		log.Printf("service=upload msg=%q path=%s err=%v", "file_delete_failed", relPath, err)
	}
}
