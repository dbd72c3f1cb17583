package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// BASELINE CACHE
// Per-student baseline snapshots. The baseline refresh writes through,
// detection runs and queries read. A miss is reported as
// baseline.ErrBaselineNotFound so callers fall back to PostgreSQL.
// ══════════════════════════════════════════════════════════════════════════════

// BaselineCache caches whole baseline records per student.
type BaselineCache struct {
	cache *Cache
}

// NewBaselineCache creates a new BaselineCache.
func NewBaselineCache(cache *Cache) *BaselineCache {
	return &BaselineCache{cache: cache}
}

// Get returns the cached snapshot or baseline.ErrBaselineNotFound.
func (c *BaselineCache) Get(ctx context.Context, studentID observation.StudentID) (*baseline.StudentBaseline, error) {
	var b baseline.StudentBaseline
	err := c.cache.Get(ctx, BaselineKey(studentID.String()), &b)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, baseline.ErrBaselineNotFound
		}
		return nil, fmt.Errorf("baseline cache get: %w", err)
	}
	return &b, nil
}

// Set stores the snapshot.
func (c *BaselineCache) Set(ctx context.Context, b *baseline.StudentBaseline) error {
	if b == nil {
		return ErrCacheNilValue
	}
	if err := c.cache.Set(ctx, BaselineKey(b.StudentID.String()), b, TTLBaselineSnapshot); err != nil {
		return fmt.Errorf("baseline cache set: %w", err)
	}
	return nil
}

// Invalidate drops the snapshot for a student.
func (c *BaselineCache) Invalidate(ctx context.Context, studentID observation.StudentID) error {
	if err := c.cache.Delete(ctx, BaselineKey(studentID.String())); err != nil {
		return fmt.Errorf("baseline cache invalidate: %w", err)
	}
	return nil
}
