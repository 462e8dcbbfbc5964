package store

import (
	"sync"
	"time"
)

// localItem stores a cached at-rest record together with its expiry time.
type localItem struct {
	data      []byte
	expiresAt time.Time
}

// localCache is the first read tier: a process-wide map holding the
// marshaled at-rest form of recently read records. Its TTL is short: it
// exists so the handful of lookups inside a single proxied request hit
// memory, while the shared Redis tier stays authoritative across replicas.
type localCache struct {
	mu    sync.RWMutex
	items map[string]localItem
	ttl   time.Duration

	done chan struct{}
}

// newLocalCache creates the tier and starts the background sweep loop.
func newLocalCache(ttl time.Duration) *localCache {
	c := &localCache{
		items: make(map[string]localItem),
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// get returns the cached bytes for key. Expired entries are removed lazily
// on access.
func (c *localCache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}

	return item.data, true
}

func (c *localCache) set(key string, data []byte) {
	c.mu.Lock()
	c.items[key] = localItem{
		data:      data,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *localCache) delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// len reports the number of entries currently held, including entries that
// expired but have not been swept yet.
func (c *localCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// close stops the background sweep goroutine.
func (c *localCache) close() {
	close(c.done)
}

func (c *localCache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *localCache) sweep() {
	now := time.Now()

	c.mu.Lock()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
