package tenant

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fleeterp/fms-api/internal/model"
	"github.com/fleeterp/fms-api/internal/repository"
)

// refreshTimeout bounds a shared refresh once no caller is left to cancel it.
const refreshTimeout = 10 * time.Second

// Cache remembers the default tenant of an inner resolver for ttl.
// Errors are never cached.
type Cache struct {
	inner repository.TenantResolver
	ttl   time.Duration
	now   func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	tenant  model.Tenant
	expires time.Time
	loaded  bool
}

// NewCache wraps inner. ttl <= 0 disables caching.
func NewCache(inner repository.TenantResolver, ttl time.Duration) *Cache {
	return &Cache{inner: inner, ttl: ttl, now: time.Now}
}

// DefaultTenant returns the cached descriptor or refreshes it. Concurrent
// misses share one refresh; each caller stops waiting when its ctx is done.
func (c *Cache) DefaultTenant(ctx context.Context) (model.Tenant, error) {
	if c.ttl <= 0 {
		return c.inner.DefaultTenant(ctx)
	}
	if t, ok := c.cached(); ok {
		return t, nil
	}

	ch := c.group.DoChan("default", func() (any, error) {
		if t, ok := c.cached(); ok {
			return t, nil
		}
		// the refresh outlives the caller that started it
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		t, err := c.inner.DefaultTenant(rctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tenant, c.expires, c.loaded = t, c.now().Add(c.ttl), true
		c.mu.Unlock()
		return t, nil
	})

	select {
	case <-ctx.Done():
		return model.Tenant{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.Tenant{}, res.Err
		}
		return res.Val.(model.Tenant), nil
	}
}

func (c *Cache) cached() (model.Tenant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loaded && c.now().Before(c.expires) {
		return c.tenant, true
	}
	return model.Tenant{}, false
}

// MasterConnectionString delegates to the inner resolver.
func (c *Cache) MasterConnectionString() string { return c.inner.MasterConnectionString() }

// Invalidate drops the cached descriptor.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}
