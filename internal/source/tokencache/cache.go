// Package tokencache persists the source API access token between runs
// so that consecutive runs do not re-authenticate while a token is still
// valid.
package tokencache

import (
	"context"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

// ErrTokenNotFound indicates that no token has been cached yet.
var ErrTokenNotFound = errors.New("access token not found")

var (
	bucketTokens = []byte("tokens")
	tokenKey     = []byte("source_access_token")
)

// Cache is a BoltDB-backed token store.
type Cache struct {
	db *bbolt.DB
}

// New opens (or creates) the cache file at dbPath.
func New(dbPath string) (*Cache, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	cache := &Cache{db: db}

	if err := cache.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return cache, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) initBuckets() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTokens); err != nil {
			return fmt.Errorf("failed to create tokens bucket: %w", err)
		}
		return nil
	})
}

// Get retrieves the cached token.
// Returns ErrTokenNotFound if none is stored.
func (c *Cache) Get(ctx context.Context) (string, error) {
	var token string

	err := c.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTokens)
		if bucket == nil {
			return fmt.Errorf("tokens bucket not found")
		}

		data := bucket.Get(tokenKey)
		if data == nil {
			return ErrTokenNotFound
		}

		token = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

// Save stores the token, replacing any previous one.
func (c *Cache) Save(ctx context.Context, token string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTokens)
		if bucket == nil {
			return fmt.Errorf("tokens bucket not found")
		}

		if err := bucket.Put(tokenKey, []byte(token)); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}

		return nil
	})
}

// Delete drops the cached token, forcing re-authentication on next use.
func (c *Cache) Delete(ctx context.Context) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTokens)
		if bucket == nil {
			return fmt.Errorf("tokens bucket not found")
		}

		if err := bucket.Delete(tokenKey); err != nil {
			return fmt.Errorf("failed to delete token: %w", err)
		}

		return nil
	})
}
