// Package cache implements an adaptive LRU/LFU read-through cache sitting in
// front of the State Engine's Get, adapted from storage-node's CacheService:
// entries carry a frequency/recency score, eviction always drops the lowest
// scorer, and the frequency/recency weighting periodically re-balances
// itself toward whichever access pattern the workload is currently showing.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/kissvdb/internal/model"
)

// entry is one cached KV read.
type entry struct {
	value       model.KVEntry
	accessCount int64
	lastAccess  time.Time
	score       float64
}

// Config holds the cache's sizing and adaptive weighting.
type Config struct {
	MaxEntries      int
	FrequencyWeight float64
	RecencyWeight   float64
	AdaptiveWindow  time.Duration
}

// Cache is a count-bounded, adaptively-scored read-through cache.
type Cache struct {
	cfg    Config
	logger *zap.Logger

	mu              sync.RWMutex
	entries         map[string]*entry
	frequencyWeight float64
	recencyWeight   float64
}

// New builds an empty Cache.
func New(cfg Config, logger *zap.Logger) *Cache {
	if cfg.AdaptiveWindow <= 0 {
		cfg.AdaptiveWindow = time.Minute
	}
	return &Cache{
		cfg:             cfg,
		logger:          logger,
		entries:         make(map[string]*entry),
		frequencyWeight: cfg.FrequencyWeight,
		recencyWeight:   cfg.RecencyWeight,
	}
}

// Get returns the cached entry for key, bumping its access statistics. An
// entry whose TTL has elapsed is dropped and reported as a miss.
func (c *Cache) Get(key string) (model.KVEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return model.KVEntry{}, false
	}
	if e.value.HasExpired(time.Now()) {
		c.invalidateLocked(key)
		return model.KVEntry{}, false
	}
	e.accessCount++
	e.lastAccess = time.Now()
	e.score = c.calculateScore(e)
	return e.value, true
}

// Put inserts or refreshes key's cached entry, evicting the lowest-scoring
// entry first if the cache is at its entry-count budget.
func (c *Cache) Put(key string, value model.KVEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.accessCount++
		existing.lastAccess = time.Now()
		existing.score = c.calculateScore(existing)
		return
	}

	for len(c.entries) >= c.cfg.MaxEntries && len(c.entries) > 0 {
		c.evictLowestScoreLocked()
	}

	e := &entry{value: value, accessCount: 1, lastAccess: time.Now()}
	e.score = c.calculateScore(e)
	c.entries[key] = e
}

// Invalidate drops key from the cache, used whenever the underlying key is
// mutated or deleted so a stale read is never served.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(key)
}

func (c *Cache) invalidateLocked(key string) {
	delete(c.entries, key)
}

func (c *Cache) calculateScore(e *entry) float64 {
	frequencyScore := float64(e.accessCount)
	recencyScore := time.Since(e.lastAccess).Seconds()
	return c.frequencyWeight*frequencyScore - c.recencyWeight*recencyScore
}

func (c *Cache) evictLowestScoreLocked() {
	var lowestKey string
	lowestScore := 1e18
	for key, e := range c.entries {
		if e.score < lowestScore {
			lowestScore = e.score
			lowestKey = key
		}
	}
	if lowestKey == "" {
		return
	}
	c.invalidateLocked(lowestKey)
	if c.logger != nil {
		c.logger.Debug("evicted cache entry", zap.String("key", lowestKey), zap.Float64("score", lowestScore))
	}
}

// AdjustWeights re-balances the frequency/recency weighting based on how hot
// the cache's recent access pattern has been, run periodically by the
// background scheduler.
func (c *Cache) AdjustWeights() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return
	}

	recentThreshold := time.Now().Add(-c.cfg.AdaptiveWindow)
	var recentAccesses int
	for _, e := range c.entries {
		if e.lastAccess.After(recentThreshold) {
			recentAccesses++
		}
	}

	hotnessRatio := float64(recentAccesses) / float64(len(c.entries))
	switch {
	case hotnessRatio > 0.7:
		c.recencyWeight, c.frequencyWeight = 0.7, 0.3
	case hotnessRatio < 0.3:
		c.recencyWeight, c.frequencyWeight = 0.3, 0.7
	default:
		c.recencyWeight, c.frequencyWeight = 0.5, 0.5
	}

	if c.logger != nil {
		c.logger.Debug("adjusted cache weights",
			zap.Float64("recency_weight", c.recencyWeight),
			zap.Float64("frequency_weight", c.frequencyWeight),
			zap.Float64("hotness_ratio", hotnessRatio))
	}
}

// Stats reports the cache's current occupancy.
type Stats struct {
	EntryCount   int
	MaxEntries   int
	UsagePercent float64
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	usage := float64(0)
	if c.cfg.MaxEntries > 0 {
		usage = float64(len(c.entries)) / float64(c.cfg.MaxEntries) * 100
	}
	return Stats{EntryCount: len(c.entries), MaxEntries: c.cfg.MaxEntries, UsagePercent: usage}
}
