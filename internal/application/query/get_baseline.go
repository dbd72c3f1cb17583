package query

import (
	"context"
	"fmt"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET BASELINE QUERY
// Reads go through the cache first; a cache miss or failure falls through
// to the repository and repopulates the snapshot.
// ══════════════════════════════════════════════════════════════════════════════

// GetBaselineQuery fetches a student's baseline record.
type GetBaselineQuery struct {
	// StudentID is the student whose baseline to fetch.
	StudentID observation.StudentID
}

// Validate validates the query.
func (q GetBaselineQuery) Validate() error {
	if !q.StudentID.IsValid() {
		return fmt.Errorf("get_baseline: %w", observation.ErrInvalidStudentID)
	}
	return nil
}

// BaselineSnapshotCache is the read side of the baseline cache.
type BaselineSnapshotCache interface {
	// Get returns the cached snapshot or baseline.ErrBaselineNotFound.
	Get(ctx context.Context, studentID observation.StudentID) (*baseline.StudentBaseline, error)

	// Set stores the snapshot.
	Set(ctx context.Context, b *baseline.StudentBaseline) error
}

// GetBaselineHandler handles the GetBaselineQuery.
type GetBaselineHandler struct {
	baselines baseline.Repository
	cache     BaselineSnapshotCache
	logger    *logger.Logger
}

// NewGetBaselineHandler creates a new GetBaselineHandler.
func NewGetBaselineHandler(baselines baseline.Repository, cache BaselineSnapshotCache, log *logger.Logger) *GetBaselineHandler {
	if log == nil {
		log = logger.Default()
	}
	return &GetBaselineHandler{
		baselines: baselines,
		cache:     cache,
		logger:    log.With(logger.String("component", "baseline_query")),
	}
}

// Handle executes the query. Returns baseline.ErrBaselineNotFound when
// the student has no computed baseline yet.
func (h *GetBaselineHandler) Handle(ctx context.Context, q GetBaselineQuery) (*baseline.StudentBaseline, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		if b, err := h.cache.Get(ctx, q.StudentID); err == nil {
			return b, nil
		}
	}

	b, err := h.baselines.Get(ctx, q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get_baseline: %w", err)
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, b); err != nil {
			h.logger.Debug("failed to repopulate baseline cache",
				logger.StudentID(q.StudentID.String()),
				logger.Err(err))
		}
	}
	return b, nil
}
