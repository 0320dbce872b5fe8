// Package upload implements streamed file ingestion, token-based retrieval
// and the expiry sweep.
package upload

import (
	"errors"
	"time"

	"ztransfer/internal/storage"
)

// Service errors. ErrTooLarge is the storage sentinel re-exported so
// callers depend on one package.
var (
	ErrTooLarge = storage.ErrTooLarge

	// ErrMissingUserID guards the persistence invariant that uploads
	// belong to a stored user.
	ErrMissingUserID = errors.New("user has no persisted id")

	ErrNotFound = errors.New("upload not found")
	ErrExpired  = errors.New("upload expired")

	// ErrDeleteTokenMismatch is returned when the presented delete token
	// does not hash to the stored digest.
	ErrDeleteTokenMismatch = errors.New("delete token mismatch")
)

// Upload is the persisted record for one stored file. DownloadToken is a
// plaintext capability; DeleteTokenHash is the digest of the secret delete
// token.
type Upload struct {
	ID              int64
	OwnerID         int64
	DownloadToken   string
	DeleteTokenHash string
	Path            string
	OriginalName    string
	ContentType     string
	SizeBytes       int64
	SHA256          string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}
