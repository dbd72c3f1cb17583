package projections

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
)

func TestApplyAlertCreated(t *testing.T) {
	view := NewInsightCardView()

	view.Apply(shared.NewAlertCreatedEvent("a1", "s1", "behavior_spike", "anxious", "high", 0.9, 0.8))
	view.Apply(shared.NewAlertCreatedEvent("a2", "s1", "intensity_burst", "anxious", "moderate", 0.7, 0.6))

	card, err := view.GetByStudentID(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, 2, card.AlertsTotal)
	assert.Equal(t, 2, card.OpenAlerts)
	assert.Equal(t, 1, card.AlertsBySeverity["high"])
	assert.Equal(t, 1, card.AlertsBySeverity["moderate"])
	assert.Equal(t, 1, card.AlertsByKind["behavior_spike"])
	assert.Equal(t, "a2", card.LastAlertID)
	assert.Equal(t, 0, card.DaysSinceAlert)
}

func TestApplyAlertLifecycle(t *testing.T) {
	view := NewInsightCardView()

	view.Apply(shared.NewAlertCreatedEvent("a1", "s1", "behavior_spike", "anxious", "high", 0.9, 0.8))
	view.Apply(shared.NewAlertTransitionedEvent("a1", "s1", "new", "acknowledged"))

	card, _ := view.GetByStudentID(context.Background(), "s1")
	assert.Equal(t, 1, card.OpenAlerts)

	view.Apply(shared.NewAlertTransitionedEvent("a1", "s1", "acknowledged", "resolved"))
	card, _ = view.GetByStudentID(context.Background(), "s1")
	assert.Equal(t, 0, card.OpenAlerts)

	// A resolve never drives the counter negative.
	view.Apply(shared.NewAlertTransitionedEvent("a1", "s1", "acknowledged", "resolved"))
	card, _ = view.GetByStudentID(context.Background(), "s1")
	assert.Equal(t, 0, card.OpenAlerts)
}

func TestApplySnoozeTracking(t *testing.T) {
	view := NewInsightCardView()

	view.Apply(shared.NewAlertCreatedEvent("a1", "s1", "behavior_spike", "anxious", "high", 0.9, 0.8))
	view.Apply(shared.NewAlertTransitionedEvent("a1", "s1", "new", "snoozed"))

	card, _ := view.GetByStudentID(context.Background(), "s1")
	assert.Equal(t, 1, card.SnoozedAlerts)
	assert.Equal(t, 1, card.OpenAlerts)

	view.Apply(shared.NewSnoozeExpiredEvent("a1", "s1", time.Now()))
	card, _ = view.GetByStudentID(context.Background(), "s1")
	assert.Equal(t, 0, card.SnoozedAlerts)
}

func TestApplyFeedbackRecorded(t *testing.T) {
	view := NewInsightCardView()

	view.Apply(shared.NewFeedbackRecordedEvent("a1", "s1", "trend", "confirmed"))
	view.Apply(shared.NewFeedbackRecordedEvent("a2", "s1", "cusum_shift", "dismissed"))
	view.Apply(shared.NewFeedbackRecordedEvent("a3", "s1", "trend", "dismissed"))

	card, _ := view.GetByStudentID(context.Background(), "s1")
	assert.Equal(t, 1, card.FeedbackConfirmed)
	assert.Equal(t, 2, card.FeedbackDismissed)
}

func TestApplyBaselineEvents(t *testing.T) {
	view := NewInsightCardView()
	computedAt := time.Date(2026, 4, 10, 3, 0, 0, 0, time.UTC)

	view.Apply(shared.NewBaselineUpdatedEvent("s1", 15, 10, 0.75, computedAt))
	card, _ := view.GetByStudentID(context.Background(), "s1")
	assert.True(t, card.BaselineSufficient)
	assert.Equal(t, 15, card.BaselineSessions)
	assert.Equal(t, 10, card.BaselineUniqueDays)
	assert.InDelta(t, 0.75, card.BaselineSufficiency, 1e-9)
	assert.Equal(t, computedAt, card.BaselineUpdatedAt)

	// A later insufficient rebuild flips the flag.
	view.Apply(shared.NewBaselineInsufficientEvent("s1", 4, 3))
	card, _ = view.GetByStudentID(context.Background(), "s1")
	assert.False(t, card.BaselineSufficient)
	assert.Equal(t, 4, card.BaselineSessions)
}

func TestApplyDetectionCompleted(t *testing.T) {
	view := NewInsightCardView()
	runAt := time.Date(2026, 4, 10, 6, 0, 0, 0, time.UTC)

	view.Apply(shared.NewDetectionCompletedEvent("s1", 2, 5, 80*time.Millisecond, runAt))
	view.Apply(shared.NewDetectionCompletedEvent("s1", 0, 3, 40*time.Millisecond, runAt.Add(time.Hour)))

	card, _ := view.GetByStudentID(context.Background(), "s1")
	assert.Equal(t, 2, card.RunsTotal)
	assert.Equal(t, 0, card.LastRunAlerts)
	assert.Equal(t, 3, card.LastRunCandidates)
	assert.Equal(t, runAt.Add(time.Hour), card.LastRunAt)
}

func TestHandlerFoldsFromBus(t *testing.T) {
	view := NewInsightCardView()
	handler := view.Handler()

	require.NoError(t, handler(shared.NewAlertCreatedEvent("a1", "s1", "behavior_spike", "anxious", "high", 0.9, 0.8)))
	assert.Equal(t, 1, view.Count())
}

func TestGetByStudentIDNotFound(t *testing.T) {
	view := NewInsightCardView()
	_, err := view.GetByStudentID(context.Background(), "missing")
	assert.Error(t, err)
}

func TestGetAllOrdering(t *testing.T) {
	view := NewInsightCardView()

	view.Apply(shared.NewAlertCreatedEvent("a1", "s1", "k", "l", "high", 0.9, 0.8))
	view.Apply(shared.NewAlertCreatedEvent("a2", "s2", "k", "l", "high", 0.9, 0.8))
	view.Apply(shared.NewAlertCreatedEvent("a3", "s2", "k", "l", "high", 0.9, 0.8))
	view.Apply(shared.NewBaselineUpdatedEvent("s3", 15, 10, 0.75, time.Now()))

	cards, err := view.GetAll(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, cards, 3)

	// Most open alerts first, ties by student id.
	assert.Equal(t, "s2", cards[0].StudentID)
	assert.Equal(t, "s1", cards[1].StudentID)
	assert.Equal(t, "s3", cards[2].StudentID)
}

func TestGetAllPagination(t *testing.T) {
	view := NewInsightCardView()
	view.Apply(shared.NewAlertCreatedEvent("a1", "s1", "k", "l", "high", 0.9, 0.8))
	view.Apply(shared.NewAlertCreatedEvent("a2", "s2", "k", "l", "high", 0.9, 0.8))

	page, err := view.GetAll(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)

	empty, err := view.GetAll(context.Background(), 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetStale(t *testing.T) {
	view := NewInsightCardView()

	view.Apply(shared.NewDetectionCompletedEvent("fresh", 0, 0, time.Millisecond, time.Now().UTC()))
	view.Apply(shared.NewDetectionCompletedEvent("stale", 0, 0, time.Millisecond, time.Now().UTC().Add(-48*time.Hour)))

	cards, err := view.GetStale(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "stale", cards[0].StudentID)
}

func TestClonedCardsAreIsolated(t *testing.T) {
	view := NewInsightCardView()
	view.Apply(shared.NewAlertCreatedEvent("a1", "s1", "behavior_spike", "anxious", "high", 0.9, 0.8))

	card, _ := view.GetByStudentID(context.Background(), "s1")
	card.AlertsBySeverity["high"] = 100
	card.OpenAlerts = 100

	fresh, _ := view.GetByStudentID(context.Background(), "s1")
	assert.Equal(t, 1, fresh.AlertsBySeverity["high"])
	assert.Equal(t, 1, fresh.OpenAlerts)
}

func TestVersionTracking(t *testing.T) {
	view := NewInsightCardView()
	v0 := view.GetVersion()

	view.Apply(shared.NewAlertCreatedEvent("a1", "s1", "k", "l", "high", 0.9, 0.8))
	assert.Greater(t, view.GetVersion(), v0)
	assert.False(t, view.GetLastUpdated().IsZero())
}
