package engine

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cache lookup counters.
var (
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
)

// CacheStats returns current cache hit/miss counters.
func CacheStats() (hits, misses int64) {
	return cacheHits.Load(), cacheMisses.Load()
}

// CacheKey builds a deterministic cache key from the normalized URL,
// quality and format.
func CacheKey(rawURL string, q Quality, f Format) string {
	joined := strings.Join([]string{NormalizeURL(rawURL), string(q), string(f)}, "|")
	hash := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("mc:%x", hash[:16])
}

// CacheIndex stores cache entries by key. Implementations must be safe for
// concurrent use. Get returns ErrNotFound on a miss.
type CacheIndex interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	// Put writes e, keeping the access count of an existing entry.
	Put(ctx context.Context, e CacheEntry) error
	// Touch increments the access count and stamps last access.
	Touch(ctx context.Context, key string, at time.Time) (*CacheEntry, error)
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, fn func(CacheEntry) error) error
	Len(ctx context.Context) (int, error)
}

// ContentCache maps (url, quality, format) to an artifact in blob storage.
// A hit is only reported when the blob still exists.
type ContentCache struct {
	index     CacheIndex
	blobs     BlobStore
	retention time.Duration
	minAccess int64
	now       func() time.Time
}

// NewContentCache wires an index to the blob store it points into.
func NewContentCache(index CacheIndex, blobs BlobStore, retention time.Duration, minAccess int64) *ContentCache {
	return &ContentCache{
		index:     index,
		blobs:     blobs,
		retention: retention,
		minAccess: minAccess,
		now:       time.Now,
	}
}

// Lookup returns the entry for the request if present and backed by a live
// blob. A hit counts as an access. A stale entry is dropped and reported as
// a miss.
func (c *ContentCache) Lookup(ctx context.Context, rawURL string, q Quality, f Format) (*CacheEntry, bool, error) {
	key := CacheKey(rawURL, q, f)
	e, err := c.index.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		cacheMisses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	ok, err := c.blobs.Exists(ctx, e.BlobKey)
	if err != nil {
		return nil, false, fmt.Errorf("check blob %s: %w", e.BlobKey, err)
	}
	if !ok {
		metrics.StaleBlobs.Add(1)
		cacheMisses.Add(1)
		slog.Warn("cache: blob missing, dropping entry",
			slog.String("key", key), slog.String("blob", e.BlobKey))
		if err := c.index.Delete(ctx, key); err != nil {
			slog.Debug("cache: delete stale entry failed", slog.Any("error", err))
		}
		return nil, false, nil
	}

	touched, err := c.index.Touch(ctx, key, c.now())
	if errors.Is(err, ErrNotFound) {
		// evicted between Get and Touch
		cacheMisses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		slog.Debug("cache: touch failed", slog.Any("error", err))
		touched = e
	}
	cacheHits.Add(1)
	slog.Debug("cache: hit", slog.String("key", key), slog.Int64("access_count", touched.AccessCount))
	return touched, true, nil
}

// Store records a finished artifact. Overwriting an existing key keeps its
// access count.
func (c *ContentCache) Store(ctx context.Context, rawURL string, q Quality, f Format, e CacheEntry) error {
	now := c.now()
	e.Key = CacheKey(rawURL, q, f)
	e.URL = NormalizeURL(rawURL)
	e.Quality = q
	e.Format = f
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.LastAccessed = now
	return c.index.Put(ctx, e)
}

// EvictStale removes entries older than the retention window that were
// accessed fewer than the minimum number of times, plus entries whose blob
// is gone. Age-evicted entries take their blob with them.
func (c *ContentCache) EvictStale(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.retention)
	var victims []CacheEntry
	var orphans []CacheEntry
	err := c.index.Scan(ctx, func(e CacheEntry) error {
		if e.CreatedAt.Before(cutoff) && e.AccessCount < c.minAccess {
			victims = append(victims, e)
			return nil
		}
		ok, err := c.blobs.Exists(ctx, e.BlobKey)
		if err != nil {
			return err
		}
		if !ok {
			orphans = append(orphans, e)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan cache: %w", err)
	}

	removed := 0
	for _, e := range victims {
		if err := c.blobs.Delete(ctx, e.BlobKey); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("cache: blob delete failed", slog.String("blob", e.BlobKey), slog.Any("error", err))
			continue
		}
		if err := c.index.Delete(ctx, e.Key); err != nil {
			return removed, err
		}
		removed++
	}
	for _, e := range orphans {
		if err := c.index.Delete(ctx, e.Key); err != nil {
			return removed, err
		}
		metrics.StaleBlobs.Add(1)
		removed++
	}
	metrics.CacheEvictions.Add(int64(removed))
	if removed > 0 {
		slog.Info("cache: evicted entries",
			slog.Int("aged", len(victims)), slog.Int("orphaned", len(orphans)))
	}
	return removed, nil
}

// Size reports the number of cache entries.
func (c *ContentCache) Size(ctx context.Context) (int, error) {
	return c.index.Len(ctx)
}

// MemoryCacheIndex is a process-local CacheIndex.
type MemoryCacheIndex struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
}

// NewMemoryCacheIndex returns an empty in-memory index.
func NewMemoryCacheIndex() *MemoryCacheIndex {
	return &MemoryCacheIndex{entries: make(map[string]CacheEntry)}
}

func (m *MemoryCacheIndex) Get(_ context.Context, key string) (*CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryCacheIndex) Put(_ context.Context, e CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.entries[e.Key]; ok {
		e.AccessCount = old.AccessCount
	}
	m.entries[e.Key] = e
	return nil
}

func (m *MemoryCacheIndex) Touch(_ context.Context, key string, at time.Time) (*CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	e.AccessCount++
	e.LastAccessed = at
	m.entries[key] = e
	return &e, nil
}

func (m *MemoryCacheIndex) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Scan visits a snapshot so fn may call back into the index.
func (m *MemoryCacheIndex) Scan(_ context.Context, fn func(CacheEntry) error) error {
	m.mu.Lock()
	snapshot := make([]CacheEntry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.Unlock()
	for _, e := range snapshot {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryCacheIndex) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}
