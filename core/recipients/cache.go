package recipients

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lexcoverzy/policy-upload/core/infra/logging"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the shared recipient slot when RedisCache is used.
const DefaultRedisKey = "policy-upload:recipients"

// Entry is the single cached recipient list.
type Entry struct {
	Addresses []string  `json:"addresses"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache stores one recipient entry. Only TTL expiry, decided by the Resolver,
// invalidates it; failed refreshes leave it in place.
type Cache interface {
	Load(ctx context.Context) (Entry, bool)
	Store(ctx context.Context, entry Entry)
}

// MemoryCache is the process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	entry Entry
	ok    bool
}

// NewMemoryCache returns an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Load(context.Context) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ok {
		return Entry{}, false
	}
	return Entry{Addresses: append([]string(nil), c.entry.Addresses...), FetchedAt: c.entry.FetchedAt}, true
}

func (c *MemoryCache) Store(_ context.Context, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = Entry{Addresses: append([]string(nil), entry.Addresses...), FetchedAt: entry.FetchedAt}
	c.ok = true
}

// RedisCache shares the slot between gateway replicas. The key has no expiry so a
// stale entry stays available as a fallback. Redis failures read as a miss.
type RedisCache struct {
	client redis.UniversalClient
	key    string
}

// NewRedisCache stores the slot under key, or DefaultRedisKey when key is empty.
func NewRedisCache(client redis.UniversalClient, key string) *RedisCache {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisCache{client: client, key: key}
}

func (c *RedisCache) Load(ctx context.Context) (Entry, bool) {
	if c == nil || c.client == nil {
		return Entry{}, false
	}
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Error("recipients", "redis cache read failed", "key", c.key, "error", err)
		}
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || len(entry.Addresses) == 0 {
		logging.Error("recipients", "redis cache entry unreadable", "key", c.key, "error", err)
		return Entry{}, false
	}
	return entry, true
}

func (c *RedisCache) Store(ctx context.Context, entry Entry) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		logging.Error("recipients", "redis cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key, payload, 0).Err(); err != nil {
		logging.Error("recipients", "redis cache write failed", "key", c.key, "error", err)
	}
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
