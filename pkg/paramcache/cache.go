// SPDX-License-Identifier: GPL-3.0-or-later

// Package paramcache keeps a node's local view of parameters received
// via paramUpdate callbacks or fetched directly with GetParam (spec
// §4.F). It is read-through only in the sense that the directory
// remains the sole source of truth; the cache exists so a node doesn't
// need a round trip to the master for every Param read between
// updates.
package paramcache

import (
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var paramsBucket = []byte("params")

// Cache holds the last-known value of every parameter this node has
// seen, optionally mirrored to a single-file bbolt store so a restart
// does not lose the snapshot before the directory's first paramUpdate.
type Cache struct {
	mu     sync.RWMutex
	values map[string]any
	db     *bolt.DB
}

// New returns an in-memory-only cache.
func New() *Cache {
	return &Cache{values: map[string]any{}}
}

// Open returns a cache backed by a bbolt file at path, pre-populated
// from whatever was persisted there on a previous run.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("paramcache: opening %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(paramsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	c := &Cache{values: map[string]any{}, db: db}
	if err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(paramsBucket)
		return b.ForEach(func(k, v []byte) error {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("paramcache: decoding %s: %w", k, err)
			}
			c.values[string(k)] = val
			return nil
		})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the on-disk store, if any.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Set records key's value, persisting it if a store is open.
func (c *Cache) Set(key string, value any) error {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("paramcache: encoding %s: %w", key, err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(paramsBucket).Put([]byte(key), data)
	})
}

// Get returns key's cached value, if any.
func (c *Cache) Get(key string) (value any, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok = c.values[key]
	return value, ok
}

// Delete removes key from the cache and, if open, the backing store.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(paramsBucket).Delete([]byte(key))
	})
}

// Keys returns every cached parameter name, matching the subset rooted
// at prefix when prefix is non-empty (spec §4.F searchParam).
func (c *Cache) Keys(prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []string
	for k := range c.values {
		if prefix == "" || hasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
