package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/willf/bloom"
)

var seenBucket = []byte("seen")

// Deduplicator remembers the identity keys of persisted records. A bloom
// filter answers most "never seen" checks without touching the database.
type Deduplicator struct {
	db     *bolt.DB
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// OpenDeduplicator opens (or creates) the key database at path and loads
// its keys into the filter. capacity sizes the filter.
func OpenDeduplicator(path string, capacity uint) (*Deduplicator, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open dedup db %s: %w", path, err)
	}
	if capacity == 0 {
		capacity = 100000
	}
	d := &Deduplicator{db: db, filter: bloom.NewWithEstimates(capacity, 0.01)}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(seenBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, _ []byte) error {
			d.filter.Add(k)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load dedup keys: %w", err)
	}
	return d, nil
}

// Seen reports whether key was marked before.
func (d *Deduplicator) Seen(key string) (bool, error) {
	d.mu.Lock()
	maybe := d.filter.Test([]byte(key))
	d.mu.Unlock()
	if !maybe {
		return false, nil
	}

	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(seenBucket).Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lookup %q: %w", key, err)
	}
	return found, nil
}

// Mark records key as persisted.
func (d *Deduplicator) Mark(key string) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		stamp := []byte(time.Now().UTC().Format(time.RFC3339))
		return tx.Bucket(seenBucket).Put([]byte(key), stamp)
	})
	if err != nil {
		return fmt.Errorf("mark %q: %w", key, err)
	}
	d.mu.Lock()
	d.filter.Add([]byte(key))
	d.mu.Unlock()
	return nil
}

// Len returns the number of marked keys.
func (d *Deduplicator) Len() (int, error) {
	var n int
	err := d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(seenBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count dedup keys: %w", err)
	}
	return n, nil
}

func (d *Deduplicator) Close() error {
	return d.db.Close()
}
