package limiter

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type attempts struct {
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is a single-node limiter over a bounded expirable LRU. Entries older
// than both the window and the block duration are evicted.
type Memory struct {
	mu       sync.Mutex
	cache    *expirable.LRU[string, attempts]
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewMemory constructs an in-memory limiter tracking at most size (user, ip) pairs.
func NewMemory(size int, window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	ttl := window
	if blockFor > ttl {
		ttl = blockFor
	}
	return &Memory{
		cache:    expirable.NewLRU[string, attempts](size, nil, ttl),
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
}

func key(user string, ipHash []byte) string {
	return user + "|" + hex.EncodeToString(ipHash)
}

// Allow reports whether a handshake is currently allowed and a retry-after duration.
func (l *Memory) Allow(_ context.Context, user string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.cache.Get(key(user, ipHash))
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); a.blockedUntil.After(now) {
		return false, a.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success resets counters for (user, ip).
func (l *Memory) Success(_ context.Context, user string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache.Remove(key(user, ipHash))
	return nil
}

// Failure records a rejected handshake; may set a block until a future time.
func (l *Memory) Failure(_ context.Context, user string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(user, ipHash)
	now := l.now()
	a, ok := l.cache.Get(k)
	if !ok || now.Sub(a.updatedAt) > l.window {
		a = attempts{}
	}
	a.fails++
	a.updatedAt = now

	blocked := a.fails >= l.maxFails
	if blocked {
		a.blockedUntil = now.Add(l.blockFor)
	}
	l.cache.Add(k, a)
	if blocked {
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
