package keel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/keel/schema"
)

// Loader fetches the last-persisted state of an entity, used as the
// diff baseline. Relation values come back in id-only form: the join
// column value keyed by the relation's property name. A missing row is
// reported as (nil, nil), not an error.
//
// Reads and hydration are outside the engine; the loader is supplied
// by the surrounding application.
type Loader interface {
	Snapshot(ctx context.Context, meta *schema.Entity, pk map[string]any) (map[string]any, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, meta *schema.Entity, pk map[string]any) (map[string]any, error)

// Snapshot calls f.
func (f LoaderFunc) Snapshot(ctx context.Context, meta *schema.Entity, pk map[string]any) (map[string]any, error) {
	return f(ctx, meta, pk)
}

// Cache is the interface for caching loaded snapshots. Implement it
// with your preferred caching solution (e.g. Redis, in-memory).
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error
}

// CachedLoader wraps a Loader with a msgpack-encoded snapshot cache.
// The executor invalidates entries after every successful write to the
// same row, so a cached snapshot never outlives the data it mirrors
// within one process.
type CachedLoader struct {
	loader Loader
	cache  Cache
	ttl    time.Duration
}

// NewCachedLoader returns a Loader reading through the given cache.
func NewCachedLoader(loader Loader, cache Cache, ttl time.Duration) *CachedLoader {
	return &CachedLoader{loader: loader, cache: cache, ttl: ttl}
}

// Snapshot implements the Loader interface.
func (l *CachedLoader) Snapshot(ctx context.Context, meta *schema.Entity, pk map[string]any) (map[string]any, error) {
	key := snapshotKey(meta, pk)
	data, err := l.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("keel: snapshot cache get: %w", err)
	}
	if data != nil {
		var snap map[string]any
		if err := msgpack.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("keel: decoding cached snapshot: %w", err)
		}
		return snap, nil
	}
	snap, err := l.loader.Snapshot(ctx, meta, pk)
	if err != nil || snap == nil {
		return snap, err
	}
	encoded, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("keel: encoding snapshot: %w", err)
	}
	if err := l.cache.Set(ctx, key, encoded, l.ttl); err != nil {
		return nil, fmt.Errorf("keel: snapshot cache set: %w", err)
	}
	return snap, nil
}

// snapshotKey is the cache key of one row: table plus its primary-key
// values in column order.
func snapshotKey(meta *schema.Entity, pk map[string]any) string {
	parts := make([]string, 0, len(pk)+1)
	parts = append(parts, meta.Table)
	names := make([]string, 0, len(pk))
	for n := range pk {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%v", pk[n]))
	}
	return strings.Join(parts, ":")
}
