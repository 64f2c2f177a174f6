package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
)

// DefaultTTL is how long a renewed token is served from cache. Remote tokens
// are issued for an hour.
const DefaultTTL = 55 * time.Minute

const renewKey = "access_token"

// TokenRequester obtains a fresh token from the remote service.
type TokenRequester interface {
	RequestToken(ctx context.Context) (string, error)
}

// Cache holds at most one access token. Reads of a valid token run
// concurrently; renewals are collapsed so only one request is in flight.
type Cache struct {
	requester TokenRequester
	ttl       time.Duration
	now       func() time.Time
	log       *slog.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	renew singleflight.Group
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache builds a Cache. A non-positive ttl selects DefaultTTL.
func NewCache(requester TokenRequester, ttl time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{requester: requester, ttl: ttl, now: time.Now, log: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAccessToken returns the cached token, renewing it when absent or
// expired. Renewal failures are ErrAuth and leave the cache untouched. A
// caller whose ctx ends stops waiting, but the renewal keeps running for the
// other callers.
func (c *Cache) GetAccessToken(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}
	// The renewal is shared by every waiting caller, so it must outlive the
	// caller that started it. The requester's own timeout still bounds it.
	renewCtx := context.WithoutCancel(ctx)
	ch := c.renew.DoChan(renewKey, func() (any, error) {
		// Another caller may have finished a renewal while we queued.
		if token, ok := c.cached(); ok {
			return token, nil
		}
		start := c.now()
		token, err := c.requester.RequestToken(renewCtx)
		if err != nil {
			c.log.Warn("auth.token.renew_failed", "error", err)
			if !errors.Is(err, apperr.ErrAuth) {
				err = apperr.Wrap(apperr.ErrAuth, "renew token", err)
			}
			return "", err
		}
		if token == "" {
			return "", apperr.New(apperr.ErrAuth, "renew token", "empty token")
		}
		c.store(token)
		c.log.Info("auth.token.renewed", "elapsed_ms", c.now().Sub(start).Milliseconds())
		return token, nil
	})
	select {
	case <-ctx.Done():
		return "", apperr.Wrap(apperr.ErrAuth, "renew token", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.log.Debug("auth.token.renew_shared")
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next read renews it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

func (c *Cache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	if c.token == "" || !now.Before(c.expiresAt) || IsExpired(c.token, now) {
		return "", false
	}
	return c.token, true
}

func (c *Cache) store(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = c.now().Add(c.ttl)
}
