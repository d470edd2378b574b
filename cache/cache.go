// Package cache persists expanded commit details so repeated runs against the
// same repository skip the per-commit API requests.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"touchminer/logger"
	"touchminer/models"
)

// DetailCache is a bbolt-backed store with one bucket per repository
type DetailCache struct {
	db *bolt.DB
}

// Open opens or creates the cache file at path
func Open(path string) (*DetailCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open detail cache %s: %w", path, err)
	}

	logger.Info("Detail cache opened", zap.String("path", path))
	return &DetailCache{db: db}, nil
}

// Get returns the cached detail of sha, if any
func (c *DetailCache) Get(repo, sha string) (models.CommitDetail, bool, error) {
	var detail models.CommitDetail
	found := false

	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(repo))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(sha))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &detail); err != nil {
			return fmt.Errorf("corrupt cache entry %s/%s: %w", repo, sha, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return models.CommitDetail{}, false, err
	}
	return detail, found, nil
}

// Put stores detail under repo
func (c *DetailCache) Put(repo string, detail models.CommitDetail) error {
	if detail.SHA == "" {
		return fmt.Errorf("cannot cache commit without sha")
	}

	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to encode commit %s: %w", detail.SHA, err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(repo))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(detail.SHA), raw)
	})
}

// Len returns the number of cached commits for repo
func (c *DetailCache) Len(repo string) (int, error) {
	n := 0
	err := c.db.View(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket([]byte(repo)); bucket != nil {
			n = bucket.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Close closes the cache file
func (c *DetailCache) Close() error {
	return c.db.Close()
}
