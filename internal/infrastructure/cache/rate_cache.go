package cache

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	"github.com/damon-houk/subtrack-client/internal/domain/repository"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/logger"
	"github.com/damon-houk/subtrack-client/internal/metrics"
)

// DefaultTTL is how long a fetched rate stays fresh
const DefaultTTL = 6 * time.Hour

// document is the persisted blob: one entry per "BASE->TARGET" key
type document map[string]entity.CachedRate

// RateCacheStore is a TTL cache of directional conversion factors,
// persisted as a single document in the key-value store
type RateCacheStore struct {
	kv      repository.KeyValueStore
	ttl     time.Duration
	now     func() time.Time
	logger  logger.Logger
	metrics *metrics.Metrics
	mutex   sync.Mutex
}

// Option configures a RateCacheStore
type Option func(*RateCacheStore)

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(c *RateCacheStore) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *RateCacheStore) { c.now = now }
}

// WithMetrics records hits, misses and expiries
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *RateCacheStore) { c.metrics = m }
}

// NewRateCacheStore creates a rate cache over kv
func NewRateCacheStore(kv repository.KeyValueStore, log logger.Logger, opts ...Option) *RateCacheStore {
	c := &RateCacheStore{
		kv:     kv,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger.OrDefault(log).WithField("component", "rate_cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the cache key for a normalized pair
func Key(base, target string) string {
	return entity.NormalizeCurrency(base) + "->" + entity.NormalizeCurrency(target)
}

// TTL returns the configured time-to-live
func (c *RateCacheStore) TTL() time.Duration {
	return c.ttl
}

// load reads the document; a missing or corrupt blob is an empty document
func (c *RateCacheStore) load() document {
	raw, ok, err := c.kv.Get(repository.ExchangeRateCacheKey)
	if err != nil {
		c.logger.Warn("Failed to read rate cache, treating as empty", map[string]interface{}{
			"error": err.Error(),
		})
		return document{}
	}
	if !ok || raw == "" {
		return document{}
	}

	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil || doc == nil {
		fields := map[string]interface{}{}
		if err != nil {
			fields["error"] = err.Error()
		}
		c.logger.Warn("Rate cache is corrupt, treating as empty", fields)
		return document{}
	}

	return doc
}

func (c *RateCacheStore) save(doc document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.kv.Set(repository.ExchangeRateCacheKey, string(data))
}

// Get returns the cached base->target rate. An expired entry is removed
// and reported as absent.
func (c *RateCacheStore) Get(base, target string) (float64, bool) {
	base, target = entity.NormalizeCurrency(base), entity.NormalizeCurrency(target)
	if base == "" || target == "" || base == target {
		return 0, false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	doc := c.load()
	key := Key(base, target)
	entry, exists := doc[key]

	if !exists {
		c.metrics.ObserveCacheLookup(false)
		return 0, false
	}

	if entry.Expired(c.now()) || entry.Rate <= 0 {
		delete(doc, key)
		if err := c.save(doc); err != nil {
			c.logger.Warn("Failed to purge expired rate", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		c.logger.Debug("Cache entry expired", map[string]interface{}{"key": key})
		c.metrics.ObserveCacheExpiry()
		c.metrics.ObserveCacheLookup(false)
		return 0, false
	}

	c.metrics.ObserveCacheLookup(true)
	return entry.Rate, true
}

// GetMany returns the fresh base->target rate for each base that has one.
// The document is read once and every expired entry found is purged in a
// single write.
func (c *RateCacheStore) GetMany(bases []string, target string) map[string]float64 {
	target = entity.NormalizeCurrency(target)
	found := make(map[string]float64)
	if target == "" || len(bases) == 0 {
		return found
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	doc := c.load()
	now := c.now()
	var purged []string

	for _, base := range bases {
		base = entity.NormalizeCurrency(base)
		if base == "" || base == target {
			continue
		}
		if _, done := found[base]; done {
			continue
		}

		key := Key(base, target)
		entry, exists := doc[key]
		if !exists {
			c.metrics.ObserveCacheLookup(false)
			continue
		}
		if entry.Expired(now) || entry.Rate <= 0 {
			delete(doc, key)
			purged = append(purged, key)
			c.metrics.ObserveCacheExpiry()
			c.metrics.ObserveCacheLookup(false)
			continue
		}

		c.metrics.ObserveCacheLookup(true)
		found[base] = entry.Rate
	}

	if len(purged) > 0 {
		if err := c.save(doc); err != nil {
			c.logger.Warn("Failed to purge expired rates", map[string]interface{}{
				"keys":  purged,
				"error": err.Error(),
			})
		}
		c.logger.Debug("Cache entries expired", map[string]interface{}{"keys": purged})
	}

	return found
}

// Set stores a single rate
func (c *RateCacheStore) Set(base, target string, rate float64) error {
	return c.SetMany([]entity.RateEntry{{Base: base, Target: target, Rate: rate}})
}

// SetMany stores every entry with one shared expiry. Identity pairs and
// rates that are not positive and finite are skipped.
func (c *RateCacheStore) SetMany(entries []entity.RateEntry) error {
	if len(entries) == 0 {
		return nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	expiresAt := c.now().Add(c.ttl)
	doc := c.load()
	written := 0

	for _, e := range entries {
		base, target := entity.NormalizeCurrency(e.Base), entity.NormalizeCurrency(e.Target)
		if base == "" || target == "" || base == target || !(e.Rate > 0) || math.IsInf(e.Rate, 0) {
			continue
		}
		doc[Key(base, target)] = entity.CachedRate{Rate: e.Rate, ExpiresAt: expiresAt}
		written++
	}

	if written == 0 {
		return nil
	}

	if err := c.save(doc); err != nil {
		return err
	}

	c.logger.Debug("Cache set", map[string]interface{}{
		"entries":    written,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
	return nil
}

// Size returns the number of stored entries, fresh or not
func (c *RateCacheStore) Size() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.load())
}

// Clear removes the whole cache document
func (c *RateCacheStore) Clear() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.kv.Delete(repository.ExchangeRateCacheKey)
}
