package identity

import (
	"container/list"
	"sync"
	"time"
)

// CacheTTL is how long a resolved subject stays valid.
const CacheTTL = 60 * time.Second

// DefaultCacheMaxEntries bounds the cache when no limit is configured.
const DefaultCacheMaxEntries = 10000

// Cache maps credentials to subjects for CacheTTL. Expired entries are
// removed when read or by Sweep. When full, Put drops the least recently
// used entry. A single mutex guards every operation.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	clock      Clock
	metrics    *Metrics

	mu      sync.Mutex
	items   map[string]*list.Element
	recency *list.List
}

type cacheEntry struct {
	credential string
	subject    string
	resolvedAt time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock sets the clock used for entry timestamps.
func WithCacheClock(clock Clock) CacheOption {
	return func(c *Cache) {
		c.clock = clock
	}
}

// WithMaxEntries bounds the number of entries. Values <= 0 select the default.
func WithMaxEntries(n int) CacheOption {
	return func(c *Cache) {
		c.maxEntries = n
	}
}

// WithCacheMetrics sets the metrics recorder.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// NewCache creates an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		ttl:     CacheTTL,
		clock:   SystemClock(),
		items:   make(map[string]*list.Element),
		recency: list.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.maxEntries <= 0 {
		c.maxEntries = DefaultCacheMaxEntries
	}

	return c
}

// Get returns the subject cached for credential. An entry whose age has
// reached the TTL is removed and reported absent.
func (c *Cache) Get(credential string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[credential]
	if !ok {
		c.metrics.recordCacheLookup("miss")
		return "", false
	}

	entry := elem.Value.(*cacheEntry)
	if c.expired(entry, c.clock.Now()) {
		c.remove(elem)
		c.metrics.recordCacheLookup("expired")
		c.metrics.recordCacheEviction("expired", c.recency.Len())
		return "", false
	}

	c.recency.MoveToFront(elem)
	c.metrics.recordCacheLookup("hit")
	return entry.subject, true
}

// Put stores subject for credential with a fresh timestamp, replacing any
// existing entry.
func (c *Cache) Put(credential, subject string) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[credential]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.subject = subject
		entry.resolvedAt = now
		c.recency.MoveToFront(elem)
		return
	}

	c.items[credential] = c.recency.PushFront(&cacheEntry{
		credential: credential,
		subject:    subject,
		resolvedAt: now,
	})

	for c.recency.Len() > c.maxEntries {
		c.remove(c.recency.Back())
		c.metrics.recordCacheEviction("capacity", c.recency.Len())
	}

	c.metrics.setCacheEntries(c.recency.Len())
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.recency.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*cacheEntry), now) {
			c.remove(elem)
			removed++
			c.metrics.recordCacheEviction("expired", c.recency.Len())
		}
		elem = prev
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

func (c *Cache) expired(e *cacheEntry, now time.Time) bool {
	return now.Sub(e.resolvedAt) >= c.ttl
}

func (c *Cache) remove(elem *list.Element) {
	entry := c.recency.Remove(elem).(*cacheEntry)
	delete(c.items, entry.credential)
}
