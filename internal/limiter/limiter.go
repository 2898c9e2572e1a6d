// Package limiter locks out clients that keep failing authentication.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter tracks failed gate passes per client key and places temporary blocks.
type Limiter interface {
	// Allow reports whether the client may try again and, if not, for how long it must wait.
	Allow(ctx context.Context, key []byte) (bool, time.Duration, error)
	// Failure records a denied request; it reports whether the client is now blocked.
	Failure(ctx context.Context, key []byte) (bool, time.Duration, error)
	// Reset clears the counter and any block for the client.
	Reset(ctx context.Context, key []byte) error
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
