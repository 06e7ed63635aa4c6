package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"
)

// CachedResponse represents a cached assistant reply
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey hashes the asking user and the normalized question
func GenerateCacheKey(username, message string) string {
	h := sha256.New()
	h.Write([]byte(username))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(message))))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ReplyCache keeps replies for ttl
type ReplyCache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache whose entries expire after ttl
func New(ttl time.Duration) *ReplyCache {
	return &ReplyCache{ttl: ttl, now: time.Now}
}

// Get returns a fresh reply for key
func (c *ReplyCache) Get(key string) (string, bool) {
	val, ok := c.entries.Load(key)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if c.ttl > 0 && c.now().Sub(cached.Timestamp) > c.ttl {
		c.entries.Delete(key)
		return "", false
	}
	return cached.Response, true
}

// Put stores reply under key
func (c *ReplyCache) Put(key, reply string) {
	c.entries.Store(key, CachedResponse{
		Response:  reply,
		Timestamp: c.now(),
	})
}

// Purge drops every entry
func (c *ReplyCache) Purge() {
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
}
