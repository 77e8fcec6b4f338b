package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/posts"
)

const DefaultTTL = 5 * time.Minute

// Entry is the stored form of one cached response.
type Entry struct {
	Records  []posts.PostRecord `json:"records"`
	StoredAt time.Time          `json:"stored_at"`
}

// PostCache keeps the last successful response per page size. It is best
// effort: storage errors are logged and never returned.
type PostCache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewPostCache(store Store, ttl time.Duration) *PostCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostCache{store: store, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (c *PostCache) WithClock(now func() time.Time) *PostCache {
	c.now = now
	return c
}

func Key(pageSize int) string {
	return fmt.Sprintf("posts:per_page:%d", pageSize)
}

// Get returns the cached records for key. Missing, unreadable and expired
// entries are misses; unreadable and expired entries are deleted.
func (c *PostCache) Get(ctx context.Context, key string) ([]posts.PostRecord, bool) {
	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("Cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.StoredAt.IsZero() || entry.Records == nil {
		slog.Debug("Discarding malformed cache entry", "key", key)
		c.evict(ctx, key)
		return nil, false
	}

	if age := c.now().Sub(entry.StoredAt); age > c.ttl {
		slog.Debug("Cache entry expired", "key", key, "age", age.String())
		c.evict(ctx, key)
		return nil, false
	}

	return entry.Records, true
}

// Put overwrites the entry for key. Empty record lists are not stored.
func (c *PostCache) Put(ctx context.Context, key string, records []posts.PostRecord) {
	if len(records) == 0 {
		return
	}

	data, err := json.Marshal(Entry{Records: records, StoredAt: c.now()})
	if err != nil {
		slog.Warn("Cache entry encoding failed", "key", key, "error", err)
		return
	}

	if err := c.store.Set(ctx, key, data); err != nil {
		slog.Warn("Cache write failed", "key", key, "error", err)
	}
}

func (c *PostCache) evict(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		slog.Warn("Cache eviction failed", "key", key, "error", err)
	}
}
