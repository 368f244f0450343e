package mdc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"github.com/arcline-labs/backdrop/internal/common"
	"github.com/arcline-labs/backdrop/internal/models"
)

// cacheKeyPrefix matches the spec's "data_<symbol>" key naming.
const cacheKeyPrefix = "data_"

// Cache is the Market-Data Cache: a TTL-bounded, set-if-absent store of
// PriceFrames in front of an OriginClient. Cached frames are immutable;
// callers always receive a Filter-ready clone.
type Cache struct {
	db     *badger.DB
	origin *OriginClient
	ttl    time.Duration
	logger *common.Logger
	flight singleflight.Group
}

// NewCache builds a Cache over an already-open BadgerDB handle shared
// with the result store and execution backend.
func NewCache(db *badger.DB, origin *OriginClient, ttl time.Duration, logger *common.Logger) *Cache {
	return &Cache{db: db, origin: origin, ttl: ttl, logger: logger}
}

// Get returns the cached PriceFrame for symbol, fetching from the
// origin on a cache miss. Concurrent Get calls for the same symbol
// during a miss are coalesced into a single origin fetch.
func (c *Cache) Get(ctx context.Context, symbol string) (*models.PriceFrame, error) {
	key := cacheKeyPrefix + symbol

	if frame, ok := c.lookup(key); ok {
		return frame.Clone(), nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check under the flight group: another goroutine may have
		// populated the cache while we were waiting to be selected.
		if frame, ok := c.lookup(key); ok {
			return frame, nil
		}

		raw, err := c.origin.FetchCSV(ctx, symbol)
		if err != nil {
			return nil, err
		}
		frame, err := ParseCSV(symbol, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDataUnavailable, err)
		}

		c.setIfAbsent(key, frame)
		return frame, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PriceFrame).Clone(), nil
}

// Filter delegates to the package-level Filter helper; kept as a method
// so callers can depend on the MarketDataCache interface alone.
func (c *Cache) Filter(frame *models.PriceFrame, start, end time.Time) *models.PriceFrame {
	return Filter(frame, start, end)
}

func (c *Cache) lookup(key string) (*models.PriceFrame, bool) {
	var frame models.PriceFrame
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &frame)
		})
	})
	if err != nil {
		return nil, false
	}
	return &frame, true
}

// setIfAbsent writes the frame only if the key is still missing,
// closing the race window between lookup and write under a single
// Badger transaction.
func (c *Cache) setIfAbsent(key string, frame *models.PriceFrame) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			return nil // already present, do not overwrite
		}
		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		entry := badger.NewEntry([]byte(key), data).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}
