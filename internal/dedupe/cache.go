// ABOUTME: TTL cache of client message ids for rejecting replayed chat messages
// ABOUTME: Built on an expirable LRU so the window is bounded in both time and size

package dedupe

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults used by the gateway.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 100_000
)

// Cache tracks client message ids seen within a TTL window. At capacity the
// oldest entry is evicted.
type Cache struct {
	mu     sync.Mutex // makes CheckAndMark atomic
	seen   *expirable.LRU[string, struct{}]
	closed bool
}

// New creates a dedupe cache with the specified TTL and maximum size.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{seen: expirable.NewLRU[string, struct{}](maxSize, nil, ttl)}
}

// Key scopes a client message id to the user that sent it, so two users
// picking the same id never collide.
func Key(userID, clientMessageID string) string {
	return userID + "\x00" + clientMessageID
}

// Check returns true if the key has been seen and is not expired.
func (c *Cache) Check(key string) bool {
	_, ok := c.seen.Peek(key)
	return ok
}

// CheckAndMark atomically checks if a key has been seen and marks it if not.
// Returns true if the key was already seen (duplicate), false if it's new and now marked.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen.Peek(key); ok {
		return true
	}
	c.seen.Add(key, struct{}{})
	return false
}

// Mark records that a key has been seen, refreshing its TTL if present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen.Add(key, struct{}{})
}

// Forget removes a key so the same message may be sent again, used when the
// first attempt failed.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen.Remove(key)
}

// Len returns the number of tracked keys, including expired ones not yet
// swept.
func (c *Cache) Len() int {
	return c.seen.Len()
}

// Close drops all entries. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.seen.Purge()
}
