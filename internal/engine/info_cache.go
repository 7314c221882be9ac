package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// infoCache provides 2-tier caching for probe metadata: L1 in-memory + L2 Redis.
// L1 is fast but lost on restart. L2 survives restarts and is shared.
type infoCache struct {
	l1              sync.Map      // key → *infoEntry
	rdb             *redis.Client // nil if Redis unavailable
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
}

type infoEntry struct {
	data      []byte
	expiresAt time.Time
}

func newInfoCache(rdb *redis.Client, ttl time.Duration, maxEntries int) *infoCache {
	return &infoCache{rdb: rdb, ttl: ttl, maxEntries: maxEntries, cleanupInterval: 5 * time.Minute}
}

func infoKey(rawURL string) string {
	return "media:info:" + CacheKey(rawURL, "", "")
}

// get tries L1, then L2. On L2 hit, populates L1.
func (c *infoCache) get(ctx context.Context, rawURL string) (*ProbeInfo, bool) {
	key := infoKey(rawURL)
	if val, ok := c.l1.Load(key); ok {
		entry := val.(*infoEntry)
		if time.Now().Before(entry.expiresAt) {
			var out ProbeInfo
			if json.Unmarshal(entry.data, &out) == nil {
				return &out, true
			}
		}
		c.l1.Delete(key) // expired or corrupt
	}

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var out ProbeInfo
			if json.Unmarshal(data, &out) == nil {
				c.l1.Store(key, &infoEntry{data: data, expiresAt: time.Now().Add(c.ttl)})
				return &out, true
			}
		}
	}
	return nil, false
}

// set stores value in both L1 and L2.
func (c *infoCache) set(ctx context.Context, rawURL string, info *ProbeInfo) {
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	key := infoKey(rawURL)
	c.evictIfNeeded()
	c.l1.Store(key, &infoEntry{data: data, expiresAt: time.Now().Add(c.ttl)})
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			slog.Debug("info cache: L2 set failed", slog.Any("error", err))
		}
	}
}

// evictIfNeeded drops expired L1 entries, then arbitrary ones, until under maxEntries.
func (c *infoCache) evictIfNeeded() {
	if c.maxEntries <= 0 {
		return
	}
	count := 0
	c.l1.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count < c.maxEntries {
		return
	}
	now := time.Now()
	c.l1.Range(func(key, val any) bool {
		if e, ok := val.(*infoEntry); ok && now.After(e.expiresAt) {
			c.l1.Delete(key)
			count--
		}
		return count >= c.maxEntries
	})
	c.l1.Range(func(key, _ any) bool {
		if count < c.maxEntries {
			return false
		}
		c.l1.Delete(key)
		count--
		return true
	})
}

// cleanupLoop periodically removes expired L1 entries until ctx is done.
func (c *infoCache) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.l1.Range(func(key, val any) bool {
				if e, ok := val.(*infoEntry); ok && now.After(e.expiresAt) {
					c.l1.Delete(key)
				}
				return true
			})
		}
	}
}
