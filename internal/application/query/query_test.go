package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeAlertRepo struct {
	alerts   []alert.AlertEvent
	lastOpts alert.ListOptions
	err      error
}

func (f *fakeAlertRepo) Upsert(context.Context, *alert.AlertEvent) error { return nil }

func (f *fakeAlertRepo) GetByID(context.Context, string) (*alert.AlertEvent, error) {
	return nil, alert.ErrAlertNotFound
}

func (f *fakeAlertRepo) ListByStudent(_ context.Context, _ observation.StudentID, opts alert.ListOptions) ([]alert.AlertEvent, error) {
	f.lastOpts = opts
	return f.alerts, f.err
}

func (f *fakeAlertRepo) ListSnoozedExpired(context.Context, time.Time) ([]alert.AlertEvent, error) {
	return nil, nil
}

func (f *fakeAlertRepo) Update(context.Context, *alert.AlertEvent) error { return nil }

func (f *fakeAlertRepo) DeleteTerminalBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}

type fakeBaselineRepo struct {
	record *baseline.StudentBaseline
	calls  int
}

func (f *fakeBaselineRepo) Get(context.Context, observation.StudentID) (*baseline.StudentBaseline, error) {
	f.calls++
	if f.record == nil {
		return nil, baseline.ErrBaselineNotFound
	}
	return f.record, nil
}

func (f *fakeBaselineRepo) Save(context.Context, *baseline.StudentBaseline) error { return nil }

type fakeSnapshotCache struct {
	record  *baseline.StudentBaseline
	getErr  error
	setErr  error
	sets    int
	getHits int
}

func (f *fakeSnapshotCache) Get(context.Context, observation.StudentID) (*baseline.StudentBaseline, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.record == nil {
		return nil, baseline.ErrBaselineNotFound
	}
	f.getHits++
	return f.record, nil
}

func (f *fakeSnapshotCache) Set(_ context.Context, b *baseline.StudentBaseline) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.sets++
	f.record = b
	return nil
}

// ─── get_alerts ──────────────────────────────────────────────────────────────

func TestGetAlerts(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []alert.AlertEvent{
		{ID: "a1", StudentID: "s1"},
		{ID: "a2", StudentID: "s1"},
	}}
	h := NewGetAlertsHandler(repo)

	res, err := h.Handle(context.Background(), GetAlertsQuery{StudentID: "s1"})
	require.NoError(t, err)
	assert.Len(t, res.Alerts, 2)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, shared.DefaultPageSize, res.PageSize)
	assert.Equal(t, shared.DefaultPageSize, repo.lastOpts.Limit)
	assert.Equal(t, 0, repo.lastOpts.Offset)
}

func TestGetAlertsPagination(t *testing.T) {
	repo := &fakeAlertRepo{}
	h := NewGetAlertsHandler(repo)

	_, err := h.Handle(context.Background(), GetAlertsQuery{
		StudentID:  "s1",
		Pagination: shared.Pagination{Page: 3, PageSize: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, 20, repo.lastOpts.Limit)
	assert.Equal(t, 40, repo.lastOpts.Offset)

	// Oversized pages are clamped.
	res, err := h.Handle(context.Background(), GetAlertsQuery{
		StudentID:  "s1",
		Pagination: shared.Pagination{Page: 1, PageSize: 10000},
	})
	require.NoError(t, err)
	assert.Equal(t, shared.MaxPageSize, res.PageSize)
}

func TestGetAlertsStatusFilter(t *testing.T) {
	repo := &fakeAlertRepo{}
	h := NewGetAlertsHandler(repo)

	_, err := h.Handle(context.Background(), GetAlertsQuery{
		StudentID: "s1",
		Statuses:  []alert.Status{alert.StatusNew, alert.StatusAcknowledged},
	})
	require.NoError(t, err)
	assert.Equal(t, []alert.Status{alert.StatusNew, alert.StatusAcknowledged}, repo.lastOpts.Statuses)
}

func TestGetAlertsValidation(t *testing.T) {
	h := NewGetAlertsHandler(&fakeAlertRepo{})

	_, err := h.Handle(context.Background(), GetAlertsQuery{StudentID: " "})
	assert.ErrorIs(t, err, observation.ErrInvalidStudentID)

	_, err = h.Handle(context.Background(), GetAlertsQuery{
		StudentID: "s1",
		Statuses:  []alert.Status{"bogus"},
	})
	assert.ErrorIs(t, err, alert.ErrInvalidStatus)
}

func TestGetAlertsRepositoryError(t *testing.T) {
	repo := &fakeAlertRepo{err: errors.New("db down")}
	h := NewGetAlertsHandler(repo)

	_, err := h.Handle(context.Background(), GetAlertsQuery{StudentID: "s1"})
	assert.Error(t, err)
}

// ─── get_baseline ────────────────────────────────────────────────────────────

func TestGetBaselineCacheHit(t *testing.T) {
	cached := &baseline.StudentBaseline{StudentID: "s1", SessionCount: 12}
	repo := &fakeBaselineRepo{}
	cache := &fakeSnapshotCache{record: cached}

	h := NewGetBaselineHandler(repo, cache, nil)
	b, err := h.Handle(context.Background(), GetBaselineQuery{StudentID: "s1"})
	require.NoError(t, err)
	assert.Same(t, cached, b)
	// Repository never consulted on a hit.
	assert.Equal(t, 0, repo.calls)
}

func TestGetBaselineCacheMissRepopulates(t *testing.T) {
	stored := &baseline.StudentBaseline{StudentID: "s1", SessionCount: 15}
	repo := &fakeBaselineRepo{record: stored}
	cache := &fakeSnapshotCache{}

	h := NewGetBaselineHandler(repo, cache, nil)
	b, err := h.Handle(context.Background(), GetBaselineQuery{StudentID: "s1"})
	require.NoError(t, err)
	assert.Same(t, stored, b)
	assert.Equal(t, 1, cache.sets)
}

func TestGetBaselineCacheFailureFallsThrough(t *testing.T) {
	stored := &baseline.StudentBaseline{StudentID: "s1"}
	repo := &fakeBaselineRepo{record: stored}
	cache := &fakeSnapshotCache{getErr: errors.New("redis down"), setErr: errors.New("redis down")}

	h := NewGetBaselineHandler(repo, cache, nil)
	b, err := h.Handle(context.Background(), GetBaselineQuery{StudentID: "s1"})
	require.NoError(t, err)
	assert.Same(t, stored, b)
}

func TestGetBaselineWithoutCache(t *testing.T) {
	stored := &baseline.StudentBaseline{StudentID: "s1"}
	h := NewGetBaselineHandler(&fakeBaselineRepo{record: stored}, nil, nil)

	b, err := h.Handle(context.Background(), GetBaselineQuery{StudentID: "s1"})
	require.NoError(t, err)
	assert.Same(t, stored, b)
}

func TestGetBaselineNotFound(t *testing.T) {
	h := NewGetBaselineHandler(&fakeBaselineRepo{}, nil, nil)

	_, err := h.Handle(context.Background(), GetBaselineQuery{StudentID: "unknown"})
	assert.ErrorIs(t, err, baseline.ErrBaselineNotFound)
}

func TestGetBaselineValidation(t *testing.T) {
	h := NewGetBaselineHandler(&fakeBaselineRepo{}, nil, nil)

	_, err := h.Handle(context.Background(), GetBaselineQuery{StudentID: ""})
	assert.ErrorIs(t, err, observation.ErrInvalidStudentID)
}
