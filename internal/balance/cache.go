// Package balance implements the Balance Cache (spec component C4): a
// TTL-bounded cache of per-credential usage probes, persisted across
// restarts with crash-safe atomic writes.
package balance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// TTL is the cache entry lifetime (spec §3, §4.3).
const TTL = 300 * time.Second

// Payload is the cached usage data for a credential.
type Payload struct {
	CurrentUsage      float64    `json:"currentUsage"`
	UsageLimit        float64    `json:"usageLimit"`
	Remaining         float64    `json:"remaining"`
	UsagePercentage   float64    `json:"usagePercentage"`
	NextResetAt       *time.Time `json:"nextResetAt,omitempty"`
	SubscriptionTitle string     `json:"subscriptionTitle,omitempty"`
}

type entry struct {
	CachedAt float64 `json:"cachedAt"`
	Data     Payload `json:"data"`
}

// Probe fetches fresh usage data for a credential id on a cache miss.
type Probe func(id int64) (Payload, error)

// Cache is the get-or-compute TTL cache described in spec §4.3.
type Cache struct {
	mu    sync.Mutex
	data  map[int64]entry
	path  string
	now   func() time.Time
}

// NewCache constructs a Cache persisting to path (the config's
// BalanceCacheFile, data/balance_cache.json by default).
func NewCache(path string) *Cache {
	return &Cache{
		data: make(map[int64]entry),
		path: path,
		now:  time.Now,
	}
}

// Load reads the persisted cache, discarding entries older than TTL.
func (c *Cache) Load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("failed to read balance cache file")
		}
		return
	}

	var raw map[string]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		log.WithError(err).Warn("balance cache file is not valid JSON, starting empty")
		return
	}

	nowSecs := float64(c.now().Unix())
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		if nowSecs-e.CachedAt >= TTL.Seconds() {
			continue
		}
		c.data[id] = e
	}
}

// Get returns the cached payload for id if present and within TTL.
func (c *Cache) Get(id int64) (Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[id]
	if !ok {
		return Payload{}, false
	}
	if float64(c.now().Unix())-e.CachedAt >= TTL.Seconds() {
		return Payload{}, false
	}
	return e.Data, true
}

// GetOrCompute implements the get-or-compute semantics of spec §4.3: check
// the cache under lock; on miss, release the lock, call probe, then
// re-acquire to upsert and persist. The lock is never held across probe.
func (c *Cache) GetOrCompute(id int64, probe Probe) (Payload, error) {
	if payload, ok := c.Get(id); ok {
		return payload, nil
	}

	payload, err := probe(id)
	if err != nil {
		return Payload{}, err
	}

	c.Set(id, payload)
	return payload, nil
}

// Set upserts an entry and persists the whole map to disk.
func (c *Cache) Set(id int64, payload Payload) {
	c.mu.Lock()
	c.data[id] = entry{CachedAt: float64(c.now().Unix()), Data: payload}
	snapshot := make(map[string]entry, len(c.data))
	for k, v := range c.data {
		snapshot[strconv.FormatInt(k, 10)] = v
	}
	c.mu.Unlock()

	c.save(snapshot)
}

// Delete purges a credential's cache entry (spec §4.2 "delete" purges
// associated balance cache entry).
func (c *Cache) Delete(id int64) {
	c.mu.Lock()
	delete(c.data, id)
	snapshot := make(map[string]entry, len(c.data))
	for k, v := range c.data {
		snapshot[strconv.FormatInt(k, 10)] = v
	}
	c.mu.Unlock()

	c.save(snapshot)
}

func (c *Cache) save(snapshot map[string]entry) {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		log.WithError(err).Error("failed to marshal balance cache")
		return
	}

	dir := filepath.Dir(c.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.WithError(err).Error("failed to create balance cache directory")
			return
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.WithError(err).Warn("failed to write balance cache file")
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		log.WithError(err).Warn("failed to persist balance cache file")
	}
}
