// Package limiter throttles repeated failed connection handshakes.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls handshake attempts and temporary lockouts per (user, ip).
type Limiter interface {
	// Allow reports whether a handshake is currently allowed and optional retry-after.
	Allow(ctx context.Context, user string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after an accepted handshake.
	Success(ctx context.Context, user string, ipHash []byte) error
	// Failure records a rejected handshake; may place a temporary block.
	Failure(ctx context.Context, user string, ipHash []byte) (bool, time.Duration, error)
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
