package fetchup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"net/http"
	"sync"
)

// InMemoryCache is a sharded CacheStore. Each call locks exactly one shard.
type InMemoryCache struct {
	shards    []*cacheShard
	numShards int
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache returns an empty in-memory store.
func NewInMemoryCache() *InMemoryCache {
	numShards := 16
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{
			store: make(map[string]*CacheEntry),
		}
	}
	return &InMemoryCache{
		shards:    shards,
		numShards: numShards,
	}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

func (c *InMemoryCache) Get(_ context.Context, key string) (*CacheEntry, bool, error) {
	shard := c.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, exists := shard.store[key]
	return entry, exists, nil
}

func (c *InMemoryCache) Set(_ context.Context, key string, entry *CacheEntry) error {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.store[key] = entry
	return nil
}

func (c *InMemoryCache) Delete(_ context.Context, key string) error {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, key)
	return nil
}

// Clear drops every entry.
func (c *InMemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

// Len reports the number of stored entries.
func (c *InMemoryCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.store)
		shard.mu.RUnlock()
	}
	return n
}

// CacheKeyFunc maps a request to its cache key.
type CacheKeyFunc func(*http.Request) string

// DefaultCacheKeyFunc keys a request by its method and absolute URL.
func DefaultCacheKeyFunc(req *http.Request) string {
	if req.URL == nil {
		return req.Method + ":"
	}

	var buf []byte
	buf = append(buf, req.Method...)
	buf = append(buf, ':')
	buf = append(buf, req.URL.String()...)

	return string(buf)
}

// BodyHashCacheKeyFunc extends DefaultCacheKeyFunc with a SHA-256 of the
// request body, so POST lookups with different payloads get distinct keys.
func BodyHashCacheKeyFunc(req *http.Request) string {
	key := DefaultCacheKeyFunc(req)
	body, err := readRequestBody(req)
	if err != nil || len(body) == 0 {
		return key
	}
	sum := sha256.Sum256(body)
	return key + "#" + hex.EncodeToString(sum[:])
}

// CacheKey returns the key under which manual caching stores d. The key is
// derived from a freshly built request passed through the cache request
// transform, so fetches and cache reads agree on it.
func (c *Client) CacheKey(ctx context.Context, d Describer) (string, error) {
	req, err := c.NewRequest(ctx, d)
	if err != nil {
		return "", err
	}
	return c.cacheKeyFor(req), nil
}

func (c *Client) cacheKeyFor(req *http.Request) string {
	keyReq := cloneRequest(req)
	if c.cacheRequestTransform != nil {
		if transformed := c.cacheRequestTransform(keyReq); transformed != nil {
			keyReq = transformed
		}
	}
	return c.cacheKeyFunc(keyReq)
}
