// Package session provides server-side storage for cookie session IDs.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound means the session does not exist, expired, or was revoked.
var ErrNotFound = errors.New("session not found")

// Store persists session-ID → user-ID with expiry. The cookie value itself
// is never stored; only its hash is.
type Store interface {
	Save(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (string, error)
	Delete(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// NewToken returns a fresh opaque session ID for the cookie value.
func NewToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// HashToken derives the storage key from a cookie value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
