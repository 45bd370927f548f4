package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const keyPrefix = "makespan/"

// Entry is a memoised simulation outcome for one pipeline fingerprint.
type Entry struct {
	Makespan       int       `json:"makespan"`
	CriticalSample int       `json:"critical_sample"`
	Jobs           int       `json:"jobs"`
	RunID          string    `json:"run_id"`
	ComputedAt     time.Time `json:"computed_at"`
}

type record struct {
	Entry     Entry     `json:"entry"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache stores simulation results in LevelDB keyed by input fingerprint.
type Cache struct {
	db              *leveldb.DB
	ttl             time.Duration
	cleanupInterval time.Duration
	mutex           sync.RWMutex
	stopCleanup     chan struct{}
	now             func() time.Time
	deleteKey       func(key []byte) error
}

// Open opens (or creates) the cache at path. Entries expire after ttl.
func Open(path string, ttl time.Duration) (*Cache, error) {
	opts := &opt.Options{
		CompactionTableSize: 2 * 1024 * 1024, // 2MB
		WriteBuffer:         1 * 1024 * 1024, // 1MB
	}

	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}

	c := &Cache{
		db:              db,
		ttl:             ttl,
		cleanupInterval: time.Hour,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}
	c.deleteKey = func(key []byte) error { return c.db.Delete(key, nil) }

	go c.startCleanupRoutine()

	return c, nil
}

// Close stops the cleanup routine and closes the database.
func (c *Cache) Close() error {
	close(c.stopCleanup)
	return c.db.Close()
}

// Put stores e under key.
func (c *Cache) Put(key string, e Entry) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	data, err := json.Marshal(record{Entry: e, ExpiresAt: c.now().Add(c.ttl)})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return c.db.Put([]byte(keyPrefix+key), data, nil)
}

// Get returns the entry for key. Missing and expired entries report ok=false.
func (c *Cache) Get(key string) (*Entry, bool, error) {
	c.mutex.RLock()
	data, err := c.db.Get([]byte(keyPrefix+key), nil)
	c.mutex.RUnlock()
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	if c.now().After(rec.ExpiresAt) {
		if err := c.Delete(key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	return &rec.Entry, true, nil
}

// Delete removes key.
func (c *Cache) Delete(key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.db.Delete([]byte(keyPrefix+key), nil)
}

func (c *Cache) startCleanupRoutine() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed, err := c.cleanup(); err != nil {
				log.Printf("cache cleanup: removed %d expired entries: %v", removed, err)
			}
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanup deletes every expired entry. It returns how many it removed and
// any iteration or delete failures; a failed key is retried next round.
func (c *Cache) cleanup() (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	iter := c.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()

	var keysToDelete [][]byte
	now := c.now()
	for iter.Next() {
		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if now.After(rec.ExpiresAt) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			keysToDelete = append(keysToDelete, key)
		}
	}

	var errs []error
	if err := iter.Error(); err != nil {
		errs = append(errs, fmt.Errorf("iterate cache: %w", err))
	}

	removed := 0
	for _, key := range keysToDelete {
		if err := c.deleteKey(key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
