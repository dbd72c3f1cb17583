package redis

import (
	"context"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// DETECTION LOCK
// Best-effort per-student run lock on SETNX. A crashed holder is
// released by the TTL; a lost lock duplicates a run, which is safe
// because alert ids are deterministic.
// ══════════════════════════════════════════════════════════════════════════════

// DetectionLock implements command.DetectionLock on Redis.
type DetectionLock struct {
	cache *Cache
}

// NewDetectionLock creates a new DetectionLock.
func NewDetectionLock(cache *Cache) *DetectionLock {
	return &DetectionLock{cache: cache}
}

// Acquire takes the per-student run lock.
func (l *DetectionLock) Acquire(ctx context.Context, studentID observation.StudentID) (bool, error) {
	return l.cache.SetNX(ctx, DetectionLockKey(studentID.String()), 1, TTLDistributedLock)
}

// Release frees the lock.
func (l *DetectionLock) Release(ctx context.Context, studentID observation.StudentID) error {
	return l.cache.Delete(ctx, DetectionLockKey(studentID.String()))
}
