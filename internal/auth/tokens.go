// tokens.go - Random bearer tokens and their stored digests.
//
// Session, invite and delete tokens are 256-bit random values handed to the
// caller exactly once; only the SHA-256 hex digest is ever persisted, so a
// database leak exposes no usable credentials.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// GenerateToken returns a fresh URL-safe token and its storable digest.
func GenerateToken() (raw, hash string, err error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, HashToken(raw), nil
}

// HashToken returns the hex SHA-256 digest used for lookup-by-hash.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
