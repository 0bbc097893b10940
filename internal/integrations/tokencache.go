package integrations

import (
	"context"
	"sync"
	"time"
)

// RefreshFunc obtains a fresh access token and its lifetime.
type RefreshFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenCache holds one access token with an explicit expiry. The refresh
// policy lives here, injectable and clock-testable, instead of module-level
// mutable state with a hand-tracked timestamp.
type TokenCache struct {
	refresh RefreshFunc
	now     func() time.Time
	skew    time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// TokenCacheOption customizes a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) { c.now = now }
}

// WithSkew refreshes the token this long before its actual expiry.
func WithSkew(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) { c.skew = d }
}

func NewTokenCache(refresh RefreshFunc, opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		refresh: refresh,
		now:     time.Now,
		skew:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached token, refreshing when expired or within the
// skew window.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Add(c.skew).Before(c.expiry) {
		return c.token, nil
	}
	token, expiresIn, err := c.refresh(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiry = c.now().Add(expiresIn)
	return c.token, nil
}

// Invalidate drops the cached token so the next Token call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiry = time.Time{}
}
