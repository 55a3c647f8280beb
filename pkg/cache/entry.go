package cache

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Entry is a cached address lookup.
type Entry struct {
	// Digest is the content digest the address is bound to
	Digest digest.Digest `json:"digest"`

	// Size is the content length in bytes
	Size int64 `json:"size"`

	// StoredAt is when the binding was written to the repository
	StoredAt time.Time `json:"stored_at"`

	// CachedAt is when we cached this lookup
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`
}

// NewEntry builds an entry that expires ttl from now.
func NewEntry(d digest.Digest, size int64, storedAt time.Time, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Digest:   d,
		Size:     size,
		StoredAt: storedAt,
		CachedAt: now,
		Expires:  now.Add(ttl),
	}
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
