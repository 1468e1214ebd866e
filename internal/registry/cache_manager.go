package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tsukumogami/cellar/internal/log"
)

// CacheStats holds summary statistics about a Store's on-disk contents.
type CacheStats struct {
	TotalSize    int64
	EntryCount   int
	OldestAccess time.Time
	NewestAccess time.Time
}

// CacheManager bounds a Store's on-disk size with LRU eviction. It's
// layered over a Store rather than folded into it, since eviction policy
// (watermarks, what counts toward size) is a separate concern from get/put.
type CacheManager struct {
	store     *Store
	sizeLimit int64
	highWater float64 // eviction trigger, default 0.80
	lowWater  float64 // eviction target, default 0.60
	logger    log.Logger
}

// NewCacheManager creates a CacheManager bounding store to sizeLimit bytes.
func NewCacheManager(store *Store, sizeLimit int64) *CacheManager {
	return &CacheManager{
		store:     store,
		sizeLimit: sizeLimit,
		highWater: 0.80,
		lowWater:  0.60,
		logger:    log.Component(log.Default(), "registry"),
	}
}

type cacheEntry struct {
	key        string
	lastAccess time.Time
	size       int64 // entry + metadata sidecar combined
}

func (m *CacheManager) listEntries() ([]cacheEntry, error) {
	var entries []cacheEntry

	dirEntries, err := os.ReadDir(m.store.CacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, &CacheError{Op: "list", Err: err}
	}

	for _, shardEntry := range dirEntries {
		if !shardEntry.IsDir() {
			continue
		}

		shardDir := filepath.Join(m.store.CacheDir, shardEntry.Name())
		subEntries, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}

		for _, sub := range subEntries {
			if sub.IsDir() || !strings.HasSuffix(sub.Name(), ".json") || strings.HasSuffix(sub.Name(), ".meta.json") {
				continue
			}

			key := strings.TrimSuffix(sub.Name(), ".json")
			entryPath := filepath.Join(shardDir, sub.Name())
			metaPath := filepath.Join(shardDir, key+".meta.json")

			var totalSize int64
			if info, err := os.Stat(entryPath); err == nil {
				totalSize += info.Size()
			}
			if info, err := os.Stat(metaPath); err == nil {
				totalSize += info.Size()
			}

			lastAccess := time.Now()
			if metaData, err := os.ReadFile(metaPath); err == nil {
				var meta CacheMetadata
				if err := json.Unmarshal(metaData, &meta); err == nil && !meta.LastAccess.IsZero() {
					lastAccess = meta.LastAccess
				}
			} else if info, err := os.Stat(entryPath); err == nil {
				lastAccess = info.ModTime()
			}

			entries = append(entries, cacheEntry{key: key, lastAccess: lastAccess, size: totalSize})
		}
	}

	return entries, nil
}

// Size returns the total size in bytes of all cached entries and their
// metadata sidecars.
func (m *CacheManager) Size() (int64, error) {
	entries, err := m.listEntries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	return total, nil
}

// EnforceLimit evicts least-recently-used entries once the cache exceeds
// the high water mark, stopping once it's back under the low water mark.
// Returns the number of entries evicted.
func (m *CacheManager) EnforceLimit() (int, error) {
	currentSize, err := m.Size()
	if err != nil {
		return 0, err
	}

	highWaterSize := int64(float64(m.sizeLimit) * m.highWater)
	if currentSize <= highWaterSize {
		return 0, nil
	}

	percentUsed := float64(currentSize) / float64(m.sizeLimit) * 100
	m.logger.Warn("metadata cache nearing size limit",
		"percent_used", fmt.Sprintf("%.0f", percentUsed),
		"size_mb", currentSize/(1024*1024),
		"limit_mb", m.sizeLimit/(1024*1024),
	)

	entries, err := m.listEntries()
	if err != nil {
		return 0, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})

	lowWaterSize := int64(float64(m.sizeLimit) * m.lowWater)
	evicted := 0

	for _, entry := range entries {
		if currentSize <= lowWaterSize {
			break
		}
		if err := m.store.Delete(entry.key); err != nil {
			continue
		}
		currentSize -= entry.size
		evicted++
	}

	return evicted, nil
}

// Cleanup removes entries whose LastAccess predates maxAge, regardless of
// current cache size. Returns the number removed.
func (m *CacheManager) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := m.listEntries()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if entry.lastAccess.Before(cutoff) {
			if err := m.store.Delete(entry.key); err != nil {
				continue
			}
			removed++
		}
	}

	return removed, nil
}

// Info returns summary statistics about the cache's current contents.
func (m *CacheManager) Info() (*CacheStats, error) {
	entries, err := m.listEntries()
	if err != nil {
		return nil, err
	}

	stats := &CacheStats{EntryCount: len(entries)}
	for _, entry := range entries {
		stats.TotalSize += entry.size
		if stats.OldestAccess.IsZero() || entry.lastAccess.Before(stats.OldestAccess) {
			stats.OldestAccess = entry.lastAccess
		}
		if stats.NewestAccess.IsZero() || entry.lastAccess.After(stats.NewestAccess) {
			stats.NewestAccess = entry.lastAccess
		}
	}

	return stats, nil
}
