// Package cache layers an in-process cache over the persistent clientdata
// repository. Reads hit memory first, then sqlite; writes go to both. The
// whole layer degrades to a no-op when caching is disabled.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/0xideahub/OpenStock/internal/clientdata"
)

// Layered is the two-tier cache used by the provider clients.
type Layered struct {
	repo    *clientdata.Repository // nil when caching is disabled
	local   *gocache.Cache
	log     zerolog.Logger
	enabled bool
}

// New creates a layered cache. Pass a nil repository or enabled=false to get
// a cache that silently does nothing.
func New(repo *clientdata.Repository, enabled bool, log zerolog.Logger) *Layered {
	return &Layered{
		repo:    repo,
		local:   gocache.New(5*time.Minute, 10*time.Minute),
		log:     log.With().Str("component", "cache").Logger(),
		enabled: enabled && repo != nil,
	}
}

// Enabled reports whether the cache is active.
func (c *Layered) Enabled() bool {
	return c.enabled
}

func localKey(table, key string) string {
	return table + ":" + key
}

// Get looks up a fresh entry, memory first. On a sqlite hit the entry is
// promoted back into memory. Returns false when nothing fresh exists.
func (c *Layered) Get(table, key string, out interface{}) (bool, error) {
	if !c.enabled {
		return false, nil
	}

	if raw, found := c.local.Get(localKey(table, key)); found {
		if data, ok := raw.([]byte); ok {
			if err := json.Unmarshal(data, out); err != nil {
				return false, fmt.Errorf("failed to decode in-process cache entry: %w", err)
			}
			return true, nil
		}
	}

	data, err := c.repo.GetIfFresh(table, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode cache entry from %s: %w", table, err)
	}

	c.local.Set(localKey(table, key), []byte(data), gocache.DefaultExpiration)
	return true, nil
}

// GetStale looks up an entry ignoring expiration. Used as a last resort when
// every upstream provider fails.
func (c *Layered) GetStale(table, key string, out interface{}) (bool, error) {
	if !c.enabled {
		return false, nil
	}

	data, err := c.repo.Get(table, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode stale cache entry from %s: %w", table, err)
	}
	return true, nil
}

// Set writes an entry to both layers. Cache write failures are logged, never
// surfaced; a fetch that succeeded should not fail because sqlite hiccuped.
func (c *Layered) Set(table, key string, value interface{}, ttl time.Duration) {
	if !c.enabled {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn().Err(err).Str("table", table).Str("key", key).Msg("Failed to marshal cache entry")
		return
	}

	c.local.Set(localKey(table, key), data, ttl)

	if err := c.repo.Store(table, key, json.RawMessage(data), ttl); err != nil {
		c.log.Warn().Err(err).Str("table", table).Str("key", key).Msg("Failed to persist cache entry")
	}
}

// Delete removes an entry from both layers.
func (c *Layered) Delete(table, key string) {
	if !c.enabled {
		return
	}

	c.local.Delete(localKey(table, key))

	if err := c.repo.Delete(table, key); err != nil {
		c.log.Warn().Err(err).Str("table", table).Str("key", key).Msg("Failed to delete cache entry")
	}
}
