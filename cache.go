package xrepo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xanotech/xrepo/recordset"
)

// Cache is the interface for caching fetched record sets.
// Users should implement this interface with their preferred caching solution
// (e.g., Redis, Memcached, in-memory).
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheKey identifies one fetched result set. Keys are prefixed with the
// root table so writes can invalidate by table.
type CacheKey struct {
	Table string
	SQL   string
	Args  []any
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	return k.Table + ":" + k.SQL + ":" + fmt.Sprint(k.Args...)
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, nil
	}
	return e.data, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{data: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// DeletePrefix implements Cache.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	return nil
}

// Clear implements Cache.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

// cachedRecord is the wire form of one record: parallel key and value
// slices, preserving key order through encoding.
type cachedRecord struct {
	Keys   []string
	Values []any
}

// encodeRecords serializes records with msgpack.
func encodeRecords(records []*recordset.Record) ([]byte, error) {
	rows := make([]cachedRecord, len(records))
	for i, r := range records {
		keys := r.Keys()
		values := make([]any, len(keys))
		for j, k := range keys {
			values[j], _ = r.Get(k)
		}
		rows[i] = cachedRecord{Keys: keys, Values: values}
	}
	return msgpack.Marshal(rows)
}

// decodeRecords deserializes records encoded by encodeRecords.
func decodeRecords(data []byte) ([]*recordset.Record, error) {
	var rows []cachedRecord
	if err := msgpack.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	records := make([]*recordset.Record, len(rows))
	for i, row := range rows {
		if len(row.Keys) != len(row.Values) {
			return nil, fmt.Errorf("xrepo: cached record %d is malformed", i)
		}
		r := recordset.New()
		for j, k := range row.Keys {
			r.Set(k, row.Values[j])
		}
		records[i] = r
	}
	return records, nil
}
