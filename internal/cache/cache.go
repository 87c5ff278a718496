// Package cache is the in-memory response cache sitting in front of the
// process layer. Entries carry a per-entry TTL and are evicted least
// recently used when the size bound is exceeded; a background sweeper
// reclaims expired entries even when nothing touches them.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/toolbus/internal/logging"
	"github.com/aretw0/toolbus/internal/observability"
)

const (
	// DefaultTTL applies to Set calls that pass a non-positive ttl.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxEntries bounds the cache size unless configured.
	DefaultMaxEntries = 1000
	// DefaultSweepInterval is how often expired entries are purged.
	DefaultSweepInterval = time.Minute
)

// keyNonce distinguishes the fallback keys for argument sets that fail
// to marshal.
var keyNonce atomic.Uint64

// Key derives the deterministic cache key for one tool invocation.
// It hashes the canonical JSON of the three inputs: struct fields keep
// their declared order and encoding/json sorts map keys, so identical
// inputs always hash identically, with no ambient state involved.
func Key(server, tool string, args map[string]any) string {
	payload, err := json.Marshal(struct {
		Server string         `json:"server"`
		Tool   string         `json:"tool"`
		Args   map[string]any `json:"args"`
	}{server, tool, args})
	if err != nil {
		// Arguments arrive from JSON and re-marshal cleanly; anything
		// else (channels, funcs) is a programming error. Degrade to a
		// one-off key rather than panic: the call stays effectively
		// uncacheable instead of sharing an entry with the next bad
		// argument set for the same server and tool.
		payload = []byte(fmt.Sprintf("%s\x00%s\x00%d", server, tool, keyNonce.Add(1)))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type entry struct {
	value      any
	created    time.Time
	expires    time.Time
	lastAccess time.Time
}

// Stats is a diagnostics snapshot. It never affects correctness.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// Cache is safe for concurrent use by parallel workflow steps.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	max        int
	defaultTTL time.Duration
	sweepEvery time.Duration
	now        func() time.Time

	hits, misses, evictions uint64

	logger  *slog.Logger
	metrics *observability.Metrics

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries sets the size bound.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.max = n
		}
	}
}

// WithDefaultTTL sets the TTL used when Set is called without one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithSweepInterval sets how often the background sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics mirrors the counters onto Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithClock injects a time source. Tests use it to expire entries
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache and starts its sweeper goroutine. Call Close to
// stop it.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		max:        DefaultMaxEntries,
		defaultTTL: DefaultTTL,
		sweepEvery: DefaultSweepInterval,
		now:        time.Now,
		logger:     logging.NewNop(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Get returns the live value for key. Expired or unset keys report
// absence; a hit refreshes the entry's last-access time.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		return nil, false
	}

	now := c.now()
	if !now.Before(e.expires) {
		delete(c.entries, key)
		c.misses++
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
			c.metrics.CacheSize.Set(float64(len(c.entries)))
		}
		return nil, false
	}

	e.lastAccess = now
	c.hits++
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	return e.value, true
}

// Set stores value under key. A non-positive ttl means the default.
// When the bound would be exceeded, the entry with the oldest
// last-access time is evicted first.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evictOldest()
	}
	c.entries[key] = &entry{
		value:      value,
		created:    now,
		expires:    now.Add(ttl),
		lastAccess: now,
	}
	if c.metrics != nil {
		c.metrics.CacheSize.Set(float64(len(c.entries)))
	}
}

// evictOldest removes the least recently used entry. Caller holds mu.
// The map is bounded and small; a linear scan beats maintaining an
// intrusive list here.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey = k
			oldest = e.lastAccess
		}
	}
	if oldestKey == "" {
		return
	}
	delete(c.entries, oldestKey)
	c.evictions++
	if c.metrics != nil {
		c.metrics.CacheEvictions.Inc()
	}
	c.logger.Debug("evicted cache entry", "key", oldestKey)
}

// Flush drops every entry. Counters are preserved.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	if c.metrics != nil {
		c.metrics.CacheSize.Set(0)
	}
}

// Stats returns a point-in-time snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

// Close stops the sweeper. It is idempotent and never fails.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep purges expired entries so unused memory is reclaimed even with
// no further Get traffic. Sweep removals are expiry, not eviction, and
// do not touch the eviction counter.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		if c.metrics != nil {
			c.metrics.CacheSize.Set(float64(len(c.entries)))
		}
		c.logger.Debug("swept expired cache entries", "removed", removed)
	}
}
