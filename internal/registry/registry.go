// Package registry implements the metadata cache (C3): an on-disk,
// TTL-expiring cache of formula records keyed by name, with an in-process
// LRU layer in front so a resolve that touches the same formula twice in
// one run doesn't re-stat the cache directory. The registry has no
// opinion about how bytes are fetched on a miss; that's internal/metadata's
// job, wired in by the caching decorator in decorator.go.
package registry

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store is a keyed, sharded on-disk cache. Entries are written with an
// atomic rename so a reader never observes a partially-written file, and
// each entry carries a metadata sidecar (see cache.go) recording when it
// was cached and when it expires.
type Store struct {
	CacheDir string
}

// NewStore creates a Store rooted at cacheDir (typically
// config.Config.APICacheDir).
func NewStore(cacheDir string) *Store {
	return &Store{CacheDir: cacheDir}
}

// shard returns the single-letter subdirectory a key is stored under, a
// fan-out that keeps any one directory from growing unbounded.
func shard(key string) string {
	if key == "" {
		return "_"
	}
	return strings.ToLower(string(key[0]))
}

func (s *Store) entryPath(key string) string {
	return filepath.Join(s.CacheDir, shard(key), key+".json")
}

// Get returns the cached bytes for key, or nil, nil on a cache miss. It
// does not consult expiry; callers pair this with ReadMeta to decide
// freshness.
func (s *Store) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &CacheError{Op: "read", Key: key, Err: err}
	}
	return data, nil
}

// Put writes data for key via a temp file + rename, then writes the
// metadata sidecar with the given TTL.
func (s *Store) Put(key string, data []byte, ttl time.Duration) error {
	path := s.entryPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &CacheError{Op: "write", Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &CacheError{Op: "write", Key: key, Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &CacheError{Op: "write", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &CacheError{Op: "write", Key: key, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &CacheError{Op: "write", Key: key, Err: err}
	}

	meta := newCacheMetadata(data, ttl)
	return s.WriteMeta(key, meta)
}

// Delete removes key's entry and its metadata sidecar, ignoring a
// not-found error on either file.
func (s *Store) Delete(key string) error {
	path := s.entryPath(key)
	var lastErr error
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		lastErr = err
	}
	if err := s.DeleteMeta(key); err != nil {
		lastErr = err
	}
	return lastErr
}

// Clear removes the entire cache directory and recreates it empty.
func (s *Store) Clear() error {
	if s.CacheDir == "" {
		return &CacheError{Op: "clear", Err: os.ErrInvalid}
	}
	if err := os.RemoveAll(s.CacheDir); err != nil {
		return &CacheError{Op: "clear", Err: err}
	}
	return os.MkdirAll(s.CacheDir, 0755)
}

// IsCached reports whether key has an entry, fresh or not.
func (s *Store) IsCached(key string) bool {
	_, err := os.Stat(s.entryPath(key))
	return err == nil
}

// List returns the keys of all cached entries.
func (s *Store) List() ([]string, error) {
	var keys []string

	entries, err := os.ReadDir(s.CacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &CacheError{Op: "list", Err: err}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		shardDir := filepath.Join(s.CacheDir, entry.Name())
		shardEntries, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, se := range shardEntries {
			if se.IsDir() {
				continue
			}
			name := se.Name()
			if strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".meta.json") {
				keys = append(keys, strings.TrimSuffix(name, ".json"))
			}
		}
	}

	return keys, nil
}
