// Package cache provides a small TTL cache used for the Discord
// guild-of-channel (30s) and DM-channel (10min) lookups described in §4.4/§5.
// Backed by valkey-io/valkey-go when a Valkey/Redis endpoint is configured
// (so multiple mux processes could one day share the cache), falling back to
// an in-memory map otherwise — the same optional-external-cache shape the
// teacher's pkg/chatpresence used for presence TTLs.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

type TTLCache struct {
	mu    sync.Mutex
	items map[string]entry
	vk    valkey.Client
	ns    string
}

type entry struct {
	value   string
	expires time.Time
}

// New builds an in-memory TTL cache. If client is non-nil, reads/writes also
// go through it under the given namespace prefix, so cache state survives a
// process restart in deployments that run Valkey.
func New(client valkey.Client, namespace string) *TTLCache {
	return &TTLCache{items: make(map[string]entry), vk: client, ns: namespace}
}

func (c *TTLCache) key(k string) string { return c.ns + ":" + k }

func (c *TTLCache) Get(ctx context.Context, k string) (string, bool) {
	c.mu.Lock()
	e, ok := c.items[k]
	c.mu.Unlock()
	if ok {
		if time.Now().Before(e.expires) {
			return e.value, true
		}
		c.mu.Lock()
		delete(c.items, k)
		c.mu.Unlock()
	}

	if c.vk == nil {
		return "", false
	}
	resp := c.vk.Do(ctx, c.vk.B().Get().Key(c.key(k)).Build())
	v, err := resp.ToString()
	if err != nil {
		return "", false
	}
	return v, true
}

func (c *TTLCache) Set(ctx context.Context, k, v string, ttl time.Duration) {
	c.mu.Lock()
	c.items[k] = entry{value: v, expires: time.Now().Add(ttl)}
	c.mu.Unlock()

	if c.vk == nil {
		return
	}
	_ = c.vk.Do(ctx, c.vk.B().Set().Key(c.key(k)).Value(v).Ex(ttl).Build())
}
