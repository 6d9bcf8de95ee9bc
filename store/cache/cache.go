// Package cache persists replica entries in a local BoltDB file so a relay
// keeps remnants across restarts and a client can seed its view offline.
package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const replicaBucket = "replicas"

// ErrNotFound is returned when no entry exists for a key
var ErrNotFound = errors.New("cache: not found")

// Item is one stored entry
type Item struct {
	Key   string
	Value []byte
}

// Cache provides a BoltDB-backed key/value store for replica entries.
type Cache struct {
	db *bbolt.DB
}

// Open opens (or creates) the cache file at path.
func Open(path string) (*Cache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	c := &Cache{db: db}
	if err := c.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying BoltDB database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Put stores value under key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("cache key is required")
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(replicaBucket))
		if bucket == nil {
			return fmt.Errorf("replica bucket is missing")
		}
		return bucket.Put([]byte(key), value)
	})
}

// Get fetches the entry for key. The returned slice is a copy.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(replicaBucket))
		if bucket == nil {
			return fmt.Errorf("replica bucket is missing")
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// All returns every entry in key order.
func (c *Cache) All(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []Item
	err := c.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(replicaBucket))
		if bucket == nil {
			return fmt.Errorf("replica bucket is missing")
		}
		return bucket.ForEach(func(k, v []byte) error {
			items = append(items, Item{Key: string(k), Value: append([]byte(nil), v...)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Delete removes the entry for key; deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(replicaBucket))
		if bucket == nil {
			return fmt.Errorf("replica bucket is missing")
		}
		return bucket.Delete([]byte(key))
	})
}

func (c *Cache) ensureBuckets() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(replicaBucket)); err != nil {
			return fmt.Errorf("create replica bucket: %w", err)
		}
		return nil
	})
}
