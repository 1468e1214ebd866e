package registry

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tsukumogami/cellar/internal/log"
	"github.com/tsukumogami/cellar/internal/metadata"
)

// allFormulaeKey is the reserved Store key under which the bulk
// GetAllFormulae response is cached, alongside individually-keyed formulas.
const allFormulaeKey = "_all"

// Cache wraps a metadata.Client with the on-disk TTL store plus an
// in-process LRU layer, and itself implements metadata.Client so callers
// (the resolver, the orchestrator) can depend on the same interface
// whether or not caching is in front of it.
//
// The cache is a pure latency optimization: the registry
// has no rate limit to defend against, so a miss always falls through to
// the underlying client, and the cache may be cleared at any time with no
// correctness impact. The stale-on-error fallback below is a resilience
// supplement beyond that minimum, not a correctness requirement.
type Cache struct {
	client   metadata.Client
	store    *Store
	mem      *lru.Cache
	ttl      time.Duration
	manager  *CacheManager
	maxStale time.Duration
	logger   log.Logger
}

// CacheOption configures a Cache at construction time.
type CacheOption func(*Cache)

// WithCacheManager enables size-bounded eviction via EnforceLimit after
// every on-disk write.
func WithCacheManager(m *CacheManager) CacheOption {
	return func(c *Cache) { c.manager = m }
}

// WithMaxStale bounds how long after it was cached (CachedAt, not its
// expiry) an entry may still be returned when the underlying client's
// fetch fails. Zero disables stale fallback entirely.
func WithMaxStale(d time.Duration) CacheOption {
	return func(c *Cache) { c.maxStale = d }
}

// WithLogger overrides the default component logger.
func WithLogger(l log.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// NewCache wraps client with a TTL-expiring on-disk store and a
// memSize-entry in-process LRU. A memSize of 0 disables the in-process
// layer (every lookup still round-trips through the Store).
func NewCache(client metadata.Client, store *Store, ttl time.Duration, memSize int, opts ...CacheOption) (*Cache, error) {
	var mem *lru.Cache
	if memSize > 0 {
		m, err := lru.New(memSize)
		if err != nil {
			return nil, err
		}
		mem = m
	}

	c := &Cache{
		client:   client,
		store:    store,
		mem:      mem,
		ttl:      ttl,
		maxStale: 7 * 24 * time.Hour,
		logger:   log.Component(log.Default(), "registry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetFormula returns name's metadata, preferring the in-process LRU, then
// the on-disk store if fresh, falling through to the underlying client on
// a miss or expiry.
func (c *Cache) GetFormula(ctx context.Context, name string) (*metadata.Formula, error) {
	if c.mem != nil {
		if v, ok := c.mem.Get(name); ok {
			return v.(*metadata.Formula), nil
		}
	}

	if f, ok := c.diskFresh(name); ok {
		c.rememberInMemory(name, f)
		return f, nil
	}

	f, err := c.client.GetFormula(ctx, name)
	if err != nil {
		if stale, ok := c.staleFallback(name, err); ok {
			return stale, nil
		}
		return nil, err
	}

	c.writeThrough(name, f)
	return f, nil
}

// GetAllFormulae returns the bulk formula list, cached under a reserved
// key alongside individually-fetched formulas.
func (c *Cache) GetAllFormulae(ctx context.Context) ([]*metadata.Formula, error) {
	if formulae, ok := c.diskFreshList(); ok {
		return formulae, nil
	}

	formulae, err := c.client.GetAllFormulae(ctx)
	if err != nil {
		if stale, ok := c.staleFallbackList(err); ok {
			return stale, nil
		}
		return nil, err
	}

	data, marshalErr := json.Marshal(formulae)
	if marshalErr == nil {
		if err := c.store.Put(allFormulaeKey, data, c.ttl); err == nil {
			c.enforceLimit()
		}
	}

	return formulae, nil
}

func (c *Cache) diskFresh(name string) (*metadata.Formula, bool) {
	meta, err := c.store.ReadMeta(name)
	if err != nil || meta == nil || !meta.IsFresh(time.Now()) {
		return nil, false
	}

	data, err := c.store.Get(name)
	if err != nil || data == nil {
		return nil, false
	}

	var f metadata.Formula
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false
	}

	_ = c.store.UpdateLastAccess(name)
	return &f, true
}

func (c *Cache) diskFreshList() ([]*metadata.Formula, bool) {
	meta, err := c.store.ReadMeta(allFormulaeKey)
	if err != nil || meta == nil || !meta.IsFresh(time.Now()) {
		return nil, false
	}

	data, err := c.store.Get(allFormulaeKey)
	if err != nil || data == nil {
		return nil, false
	}

	var formulae []*metadata.Formula
	if err := json.Unmarshal(data, &formulae); err != nil {
		return nil, false
	}

	_ = c.store.UpdateLastAccess(allFormulaeKey)
	return formulae, true
}

// staleFallback returns an expired cache entry when the live fetch failed
// and the entry is still within maxStale, logging a warning either way.
func (c *Cache) staleFallback(name string, fetchErr error) (*metadata.Formula, bool) {
	if c.maxStale == 0 {
		return nil, false
	}

	meta, err := c.store.ReadMeta(name)
	if err != nil || meta == nil {
		return nil, false
	}
	if time.Since(meta.CachedAt) >= c.maxStale {
		return nil, false
	}

	data, err := c.store.Get(name)
	if err != nil || data == nil {
		return nil, false
	}

	var f metadata.Formula
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false
	}

	c.logger.Warn("using stale metadata after fetch failure",
		"formula", name, "cached_at", meta.CachedAt, "error", fetchErr)
	return &f, true
}

func (c *Cache) staleFallbackList(fetchErr error) ([]*metadata.Formula, bool) {
	if c.maxStale == 0 {
		return nil, false
	}

	meta, err := c.store.ReadMeta(allFormulaeKey)
	if err != nil || meta == nil || time.Since(meta.CachedAt) >= c.maxStale {
		return nil, false
	}

	data, err := c.store.Get(allFormulaeKey)
	if err != nil || data == nil {
		return nil, false
	}

	var formulae []*metadata.Formula
	if err := json.Unmarshal(data, &formulae); err != nil {
		return nil, false
	}

	c.logger.Warn("using stale formula list after fetch failure",
		"cached_at", meta.CachedAt, "error", fetchErr)
	return formulae, true
}

func (c *Cache) writeThrough(name string, f *metadata.Formula) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := c.store.Put(name, data, c.ttl); err == nil {
		c.enforceLimit()
	}
	c.rememberInMemory(name, f)
}

func (c *Cache) rememberInMemory(name string, f *metadata.Formula) {
	if c.mem != nil {
		c.mem.Add(name, f)
	}
}

func (c *Cache) enforceLimit() {
	if c.manager == nil {
		return
	}
	if _, err := c.manager.EnforceLimit(); err != nil {
		c.logger.Warn("metadata cache eviction failed", "error", err)
	}
}

var _ metadata.Client = (*Cache)(nil)
