package utils

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DiskCache is a small badger-backed key/value store with optional expiry.
type DiskCache struct {
	db *badger.DB
}

func OpenDiskCache(path string) (*DiskCache, error) {
	opts := badger.DefaultOptions(path)
	// Decrease logging verbosity
	opts.Logger = nil
	return openCache(opts)
}

// OpenMemoryCache returns a cache that lives only for the life of the process.
func OpenMemoryCache() (*DiskCache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openCache(opts)
}

func openCache(opts badger.Options) (*DiskCache, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &DiskCache{db: db}, nil
}

func (c *DiskCache) Close() error {
	return c.db.Close()
}

// Put stores value under key. A ttl of zero keeps the entry until overwritten.
func (c *DiskCache) Put(key string, value []byte, ttl time.Duration) error {
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Get returns the stored value, or nil without error when the key is absent or expired.
func (c *DiskCache) Get(key string) ([]byte, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return val, err
}

func (c *DiskCache) Delete(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}
