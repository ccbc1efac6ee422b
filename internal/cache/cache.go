// Package cache is the process-local response cache. Entries are keyed by
// a deterministic fingerprint of the full request and invalidated when a
// structural change is observed on the same (connection, database).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/superhawk610/dbc/internal/rewrite"
)

// DefaultTTL applies when the client does not request one.
const DefaultTTL = 5 * time.Minute

// Request is the canonical fingerprint input. Field order is fixed here,
// so two requests that differ only in JSON key order fingerprint
// identically: the wire JSON was already parsed into typed values before
// it reaches this struct.
type Request struct {
	Conn     string           `json:"conn"`
	DB       string           `json:"db"`
	Query    string           `json:"query"`
	Params   []any            `json:"params"`
	Sort     *rewrite.Sort    `json:"sort"`
	Filters  []rewrite.Filter `json:"filters"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// Fingerprint hashes the canonicalised request.
func Fingerprint(req Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// EntryKey locates one cache entry. Conn and DB double as the invalidation
// bucket.
type EntryKey struct {
	Conn        string
	DB          string
	Fingerprint string
}

type entry struct {
	payload json.RawMessage
	expires time.Time
	key     EntryKey
	tables  map[string]bool
	size    int64
}

// Cache stores serialised ResultPages, bounded by entry count and
// aggregate byte size with LRU eviction. Concurrent identical requests
// share one database round-trip via single-flight.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache[EntryKey, *entry]
	curBytes int64
	maxBytes int64
	maxTTL   time.Duration

	group singleflight.Group
}

// New constructs a Cache. maxTTL caps client-requested TTLs.
func New(maxEntries int, maxBytes int64, maxTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if maxTTL <= 0 {
		maxTTL = DefaultTTL
	}

	c := &Cache{maxBytes: maxBytes, maxTTL: maxTTL}
	c.lru, _ = lru.NewWithEvict[EntryKey, *entry](maxEntries, func(_ EntryKey, e *entry) {
		c.curBytes -= e.size
	})
	return c
}

// GetOrCompute returns the cached payload for key, or runs compute and
// caches its result. tables records the relations the request reads, for
// targeted invalidation by data-modifying statements. A non-positive ttl
// uses the default; all TTLs are capped by the server maximum.
func (c *Cache) GetOrCompute(ctx context.Context, key EntryKey, ttl time.Duration, tables []string,
	compute func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {

	if payload, ok := c.get(key); ok {
		return payload, nil
	}

	v, err, _ := c.group.Do(key.Fingerprint, func() (any, error) {
		// double-check under the flight: a concurrent caller may have
		// populated the entry while this one waited
		if payload, ok := c.get(key); ok {
			return payload, nil
		}

		payload, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.put(key, payload, ttl, tables)
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// get returns a live entry's payload.
func (c *Cache) get(key EntryKey) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.payload, true
}

// put stores a payload, evicting LRU entries while over the byte budget.
func (c *Cache) put(key EntryKey, payload json.RawMessage, ttl time.Duration, tables []string) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}

	tableSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		tableSet[t] = true
	}

	e := &entry{
		payload: payload,
		expires: time.Now().Add(ttl),
		key:     key,
		tables:  tableSet,
		size:    int64(len(payload)),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(key); ok {
		c.curBytes -= old.size
	}
	c.lru.Add(key, e)
	c.curBytes += e.size

	for c.maxBytes > 0 && c.curBytes > c.maxBytes && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
}

// InvalidateDB purges every entry for a (connection, database).
func (c *Cache) InvalidateDB(conn, db string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if key.Conn == conn && key.DB == db {
			c.lru.Remove(key)
		}
	}
}

// InvalidateConn purges every entry for a connection across databases.
func (c *Cache) InvalidateConn(conn string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if key.Conn == conn {
			c.lru.Remove(key)
		}
	}
}

// InvalidateTables purges entries on (conn, db) whose statement references
// any of the named relations.
func (c *Cache) InvalidateTables(conn, db string, tables []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if key.Conn != conn || key.DB != db {
			continue
		}
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		for _, t := range tables {
			if e.tables[t] {
				c.lru.Remove(key)
				break
			}
		}
	}
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
