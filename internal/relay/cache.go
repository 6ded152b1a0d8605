package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache is the persistence abstraction for resolved playlists. Put persists
// synchronously; its error wraps ErrPersistence and callers treat it as
// advisory. Get serves the last value Put, or the value loaded at startup.
type Cache interface {
	Get(name string) (*ResolvedPlaylist, bool)
	Put(name string, p *ResolvedPlaylist) error
	Close() error
}

// FileCache keeps every playlist in one JSON document, rewritten whole on
// each Put. An empty path keeps the cache in memory only.
type FileCache struct {
	path string

	mu      sync.RWMutex
	entries map[string]*ResolvedPlaylist
}

// OpenFileCache loads path. A missing or corrupt file yields an empty cache;
// the returned error only describes why the previous contents were dropped
// and never prevents use of the cache.
func OpenFileCache(path string) (*FileCache, error) {
	c := &FileCache{path: path, entries: make(map[string]*ResolvedPlaylist)}
	if path == "" {
		return c, nil
	}
	entries, err := loadCacheFile(path)
	if err != nil {
		return c, err
	}
	c.entries = entries
	return c, nil
}

func loadCacheFile(path string) (map[string]*ResolvedPlaylist, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]*ResolvedPlaylist), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read playlist cache: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode playlist cache: %w", err)
	}

	entries := make(map[string]*ResolvedPlaylist, len(raw))
	for name, msg := range raw {
		rp, err := decodeCacheEntry(msg)
		if err != nil {
			return nil, fmt.Errorf("decode playlist cache entry %q: %w", name, err)
		}
		entries[name] = rp
	}
	return entries, nil
}

// decodeCacheEntry accepts both {"ids": [...], "resolved_at": ...} and the
// bare ID array written by older deployments.
func decodeCacheEntry(msg json.RawMessage) (*ResolvedPlaylist, error) {
	var rp ResolvedPlaylist
	if err := json.Unmarshal(msg, &rp); err == nil {
		return &rp, nil
	}
	var ids []string
	if err := json.Unmarshal(msg, &ids); err != nil {
		return nil, err
	}
	return &ResolvedPlaylist{IDs: ids}, nil
}

// Get implements Cache.Get.
func (c *FileCache) Get(name string) (*ResolvedPlaylist, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rp, ok := c.entries[name]
	return rp, ok
}

// Put implements Cache.Put. The in-memory value is updated even when the
// write fails.
func (c *FileCache) Put(name string, p *ResolvedPlaylist) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[name] = p
	if c.path == "" {
		return nil
	}

	data, err := json.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := writeFileAtomic(c.path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Close implements Cache.Close.
func (c *FileCache) Close() error {
	return nil
}

// writeFileAtomic replaces path so readers never observe a partial document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
