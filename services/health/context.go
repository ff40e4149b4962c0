package health

import (
	"context"
	"sync"
)

type requestCacheKey struct{}
type adminKey struct{}

type requestCache struct {
	mu      sync.Mutex
	checked bool
	healthy bool
}

// WithRequestCache gives ctx its own health check result slot, so the engine
// is probed at most once per logical request.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestCacheKey{}, &requestCache{})
}

// WithAdmin marks ctx as an administrative request. When the heartbeat is
// outside the threshold, HasPulse runs a live check for admin requests that
// have not checked yet. The admin middleware is the only caller.
func WithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminKey{}, true)
}

// IsAdmin reports whether ctx was marked by WithAdmin.
func IsAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(adminKey{}).(bool)
	return admin
}

func cacheFrom(ctx context.Context) *requestCache {
	cache, _ := ctx.Value(requestCacheKey{}).(*requestCache)
	return cache
}

func (c *requestCache) get() (healthy bool, checked bool) {
	if c == nil {
		return false, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy, c.checked
}

func (c *requestCache) set(healthy bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked = true
	c.healthy = healthy
}
