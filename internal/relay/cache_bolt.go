package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketPlaylists = []byte("playlists")

// BoltCache stores each resolved playlist as a JSON value keyed by playlist
// name. Reads are served from memory; the database is read once at open.
type BoltCache struct {
	db *bolt.DB

	mu      sync.RWMutex
	entries map[string]*ResolvedPlaylist
}

// OpenBoltCache opens or creates the database at path.
func OpenBoltCache(path string) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache: %w", err)
	}

	entries := make(map[string]*ResolvedPlaylist)
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketPlaylists)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			rp, err := decodeCacheEntry(v)
			if err != nil {
				// Unreadable entries are treated as absent.
				return nil
			}
			entries[string(k)] = rp
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load bolt cache: %w", err)
	}

	return &BoltCache{db: db, entries: entries}, nil
}

// Get implements Cache.Get.
func (c *BoltCache) Get(name string) (*ResolvedPlaylist, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rp, ok := c.entries[name]
	return rp, ok
}

// Put implements Cache.Put.
func (c *BoltCache) Put(name string, p *ResolvedPlaylist) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	c.mu.Lock()
	c.entries[name] = p
	c.mu.Unlock()

	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlaylists).Put([]byte(name), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Close implements Cache.Close.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
