// Package cache implements the chart data cache on BuntDB: the last
// successful query result per (chart, fingerprint) key, with freshness
// decided by a pure function of the entry and the clock.
package cache

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dashwire/dashwire/core"

	"github.com/tidwall/buntdb"
)

const keySeparator = ":"

// BuntCache implements core.DataCache using an in-memory BuntDB instance.
// Entries are never expired by the store itself: stale entries must remain
// readable as last-known-good while a refresh is in flight, so TTL is
// evaluated by the caller through CacheEntry.Fresh.
type BuntCache struct {
	db *buntdb.DB
}

// New creates an in-memory cache.
func New() (*BuntCache, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}

	if err := db.SetConfig(buntdb.Config{SyncPolicy: buntdb.Never}); err != nil {
		return nil, fmt.Errorf("failed to configure buntdb: %w", err)
	}

	return &BuntCache{db: db}, nil
}

// entryKey builds the store key for a (chart, fingerprint) pair.
func entryKey(chartID, fingerprint string) string {
	return strings.Join([]string{"chart", chartID, "fp", fingerprint}, keySeparator)
}

// chartPattern matches every entry belonging to one chart.
func chartPattern(chartID string) string {
	return strings.Join([]string{"chart", chartID, "fp", "*"}, keySeparator)
}

// Get returns the entry for the given key, if present.
func (c *BuntCache) Get(chartID, fingerprint string) (*core.CacheEntry, bool) {
	var entry core.CacheEntry
	found := false

	err := c.db.View(func(tx *buntdb.Tx) error {
		value, err := tx.Get(entryKey(chartID, fingerprint))
		if err != nil {
			if err == buntdb.ErrNotFound {
				return nil
			}
			return err
		}

		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return fmt.Errorf("failed to unmarshal cache entry: %w", err)
		}

		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false
	}

	return &entry, true
}

// Put overwrites the entry for the entry's key. The write happens inside a
// single transaction, so concurrent readers never observe a half-written
// entry.
func (c *BuntCache) Put(entry core.CacheEntry) error {
	content, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	return c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(entryKey(entry.ChartID, entry.Fingerprint), string(content), nil)
		if err != nil {
			return fmt.Errorf("failed to store cache entry: %w", err)
		}
		return nil
	})
}

// Invalidate drops every entry for a chart, used when its configuration or
// filters change materially.
func (c *BuntCache) Invalidate(chartID string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		err := tx.AscendKeys(chartPattern(chartID), func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
		if err != nil {
			return fmt.Errorf("failed to scan cache entries: %w", err)
		}

		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil {
				return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
			}
		}
		return nil
	})
}

// Close closes the underlying store.
func (c *BuntCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
