package cache

import (
	"sync"
	"time"

	"abplayer/internal/level"
	"abplayer/pkg/models"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTLCache is an in-memory map whose entries expire after a fixed age.
// A janitor goroutine drops expired entries until Close.
type TTLCache[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	c := &TTLCache[V]{
		items: make(map[string]entry[V]),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	go c.janitor(cleanupInterval(ttl))
	return c
}

// cleanupInterval is half the ttl, kept between 1s and 5m.
func cleanupInterval(ttl time.Duration) time.Duration {
	switch d := ttl / 2; {
	case d < time.Second:
		return time.Second
	case d > 5*time.Minute:
		return 5 * time.Minute
	default:
		return d
	}
}

func (c *TTLCache[V]) Set(key string, v V) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: v, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry[V])
	c.mu.Unlock()
}

// Size counts stored entries, expired ones included until the janitor runs.
func (c *TTLCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *TTLCache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *TTLCache[V]) removeExpired() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.items {
		if now.After(e.expires) {
			delete(c.items, key)
		}
	}
}

func (c *TTLCache[V]) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

// AnalysisCache keeps loudness measurements keyed by a pair's two audio
// addresses, so mounting the same pair again skips the RMS pass.
type AnalysisCache struct {
	*TTLCache[level.Measurement]
}

func NewAnalysisCache(ttl time.Duration) *AnalysisCache {
	return &AnalysisCache{NewTTLCache[level.Measurement](ttl)}
}

func AnalysisKey(mixURL, masterURL string) string {
	return mixURL + "|" + masterURL
}

func (ac *AnalysisCache) GetMeasurement(key string) (level.Measurement, bool) {
	return ac.Get(key)
}

func (ac *AnalysisCache) SetMeasurement(key string, m level.Measurement) {
	ac.Set(key, m)
}

// PairCache holds catalog listings served by the preview server.
type PairCache struct {
	*TTLCache[[]models.TrackPair]
}

func NewPairCache(ttl time.Duration) *PairCache {
	return &PairCache{NewTTLCache[[]models.TrackPair](ttl)}
}

func (pc *PairCache) SetPairs(key string, pairs []models.TrackPair) {
	pc.Set(key, pairs)
}

func (pc *PairCache) GetPairs(key string) ([]models.TrackPair, bool) {
	return pc.Get(key)
}
