package remote

import (
	"context"
	"sync"
)

// CachedIdentity wraps an Identity and remembers the last successful
// answer. When the identity check itself is unreachable the cached value
// is returned, so the engine can keep accepting local writes and queueing
// mutations while offline.
type CachedIdentity struct {
	inner Identity

	mu     sync.RWMutex
	cached string
	known  bool
}

// NewCachedIdentity wraps inner with a last-known-value cache.
func NewCachedIdentity(inner Identity) *CachedIdentity {
	return &CachedIdentity{inner: inner}
}

// CurrentUserID implements Identity. A failed check falls back to the
// cached value when one exists; the error is only surfaced when no user
// was ever observed.
func (c *CachedIdentity) CurrentUserID(ctx context.Context) (string, error) {
	id, err := c.inner.CurrentUserID(ctx)
	if err == nil {
		c.mu.Lock()
		c.cached = id
		c.known = true
		c.mu.Unlock()
		return id, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.known {
		return c.cached, nil
	}
	return "", err
}

// Invalidate forgets the cached user. Called on sign-out.
func (c *CachedIdentity) Invalidate() {
	c.mu.Lock()
	c.cached = ""
	c.known = false
	c.mu.Unlock()
}

// TokenFunc is a static Identity useful for tests and CLI use, returning
// the same user ID on every call.
type TokenFunc func(ctx context.Context) (string, error)

// CurrentUserID implements Identity.
func (f TokenFunc) CurrentUserID(ctx context.Context) (string, error) { return f(ctx) }
