// Package cache persists the last known grocery list locally so the list can
// be shown, and mutated, before the remote store answers.
//
// A snapshot is two key-value entries: the item list as JSON and the time of
// the last save in Unix milliseconds. There is no schema version; changing the
// item JSON shape breaks existing caches.
package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"grocery_list/internal/grocery"

	"github.com/rs/zerolog/log"
)

const (
	ItemsKey     = "groceries_cache"
	TimestampKey = "groceries_cache_timestamp"
)

// Storage is a durable string key-value store.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Close() error
}

type Cache struct {
	storage Storage
	now     func() time.Time
}

func New(storage Storage) *Cache {
	return &Cache{storage: storage, now: time.Now}
}

// Save replaces the snapshot with items and stamps it with the current time.
func (c *Cache) Save(items []grocery.Item) error {
	if items == nil {
		items = []grocery.Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode cache snapshot: %w", err)
	}
	if err := c.storage.Set(ItemsKey, string(data)); err != nil {
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}

	stamp := c.now().UnixMilli()
	if err := c.storage.Set(TimestampKey, strconv.FormatInt(stamp, 10)); err != nil {
		return fmt.Errorf("failed to write cache timestamp: %w", err)
	}

	log.Debug().
		Int("items", len(items)).
		Int64("timestamp", stamp).
		Msg("Saved cache snapshot")
	return nil
}

// Load returns the stored snapshot. The boolean is false when nothing has
// been saved yet.
func (c *Cache) Load() ([]grocery.Item, bool, error) {
	data, ok, err := c.storage.Get(ItemsKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache snapshot: %w", err)
	}
	if !ok {
		log.Debug().Msg("No cache snapshot present")
		return nil, false, nil
	}

	var items []grocery.Item
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache snapshot: %w", err)
	}
	if items == nil {
		items = []grocery.Item{}
	}

	log.Debug().Int("items", len(items)).Msg("Loaded cache snapshot")
	return items, true, nil
}

// SavedAt returns the time of the last Save.
func (c *Cache) SavedAt() (time.Time, bool, error) {
	data, ok, err := c.storage.Get(TimestampKey)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read cache timestamp: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse cache timestamp %q: %w", data, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (c *Cache) Close() error {
	return c.storage.Close()
}
