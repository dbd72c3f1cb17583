package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/pipeline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/experiment"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeObservationRepo struct {
	emotions      []observation.EmotionObservation
	sensory       []observation.SensoryObservation
	sessions      []observation.TrackingSession
	interventions []observation.Intervention
	goals         []observation.Goal
	studentIDs    []observation.StudentID
	err           error
}

func (f *fakeObservationRepo) GetEmotions(_ context.Context, _ observation.StudentID, _ time.Time) ([]observation.EmotionObservation, error) {
	return f.emotions, f.err
}

func (f *fakeObservationRepo) GetSensory(_ context.Context, _ observation.StudentID, _ time.Time) ([]observation.SensoryObservation, error) {
	return f.sensory, f.err
}

func (f *fakeObservationRepo) GetSessions(_ context.Context, _ observation.StudentID, _ time.Time) ([]observation.TrackingSession, error) {
	return f.sessions, f.err
}

func (f *fakeObservationRepo) GetInterventions(_ context.Context, _ observation.StudentID) ([]observation.Intervention, error) {
	return f.interventions, f.err
}

func (f *fakeObservationRepo) GetGoals(_ context.Context, _ observation.StudentID) ([]observation.Goal, error) {
	return f.goals, f.err
}

func (f *fakeObservationRepo) ListStudentIDs(_ context.Context, _ time.Time) ([]observation.StudentID, error) {
	return f.studentIDs, f.err
}

type fakeAlertRepo struct {
	mu        sync.Mutex
	byID      map[string]alert.AlertEvent
	upsertErr error
	updateErr error
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{byID: map[string]alert.AlertEvent{}}
}

func (f *fakeAlertRepo) Upsert(_ context.Context, e *alert.AlertEvent) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[e.ID] = *e
	return nil
}

func (f *fakeAlertRepo) GetByID(_ context.Context, id string) (*alert.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.byID[id]; ok {
		copied := e
		return &copied, nil
	}
	return nil, alert.ErrAlertNotFound
}

func (f *fakeAlertRepo) ListByStudent(_ context.Context, studentID observation.StudentID, _ alert.ListOptions) ([]alert.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]alert.AlertEvent, 0)
	for _, e := range f.byID {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAlertRepo) ListSnoozedExpired(_ context.Context, now time.Time) ([]alert.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]alert.AlertEvent, 0)
	for _, e := range f.byID {
		if e.Status == alert.StatusSnoozed && e.SnoozedUntil != nil && !now.Before(*e.SnoozedUntil) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAlertRepo) Update(_ context.Context, e *alert.AlertEvent) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[e.ID]; !ok {
		return alert.ErrAlertNotFound
	}
	f.byID[e.ID] = *e
	return nil
}

func (f *fakeAlertRepo) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for id, e := range f.byID {
		if e.Status.IsTerminal() && e.CreatedAt.Before(cutoff) {
			delete(f.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeOverrideRepo struct {
	byType  map[detection.Type]experiment.ThresholdOverride
	saveErr error
}

func newFakeOverrideRepo() *fakeOverrideRepo {
	return &fakeOverrideRepo{byType: map[detection.Type]experiment.ThresholdOverride{}}
}

func (f *fakeOverrideRepo) Get(_ context.Context, t detection.Type) (*experiment.ThresholdOverride, error) {
	if o, ok := f.byType[t]; ok {
		return &o, nil
	}
	return nil, experiment.ErrOverrideNotFound
}

func (f *fakeOverrideRepo) GetAll(_ context.Context) ([]experiment.ThresholdOverride, error) {
	out := make([]experiment.ThresholdOverride, 0, len(f.byType))
	for _, o := range f.byType {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeOverrideRepo) Save(_ context.Context, o experiment.ThresholdOverride) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.byType[o.DetectorType] = o
	return nil
}

type fakeBaselineRepo struct {
	byStudent map[observation.StudentID]*baseline.StudentBaseline
	saveErr   error
}

func newFakeBaselineRepo() *fakeBaselineRepo {
	return &fakeBaselineRepo{byStudent: map[observation.StudentID]*baseline.StudentBaseline{}}
}

func (f *fakeBaselineRepo) Get(_ context.Context, id observation.StudentID) (*baseline.StudentBaseline, error) {
	if b, ok := f.byStudent[id]; ok {
		return b, nil
	}
	return nil, baseline.ErrBaselineNotFound
}

func (f *fakeBaselineRepo) Save(_ context.Context, b *baseline.StudentBaseline) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.byStudent[b.StudentID] = b
	return nil
}

type fakeCache struct {
	sets        int
	invalidated int
	err         error
}

func (f *fakeCache) Set(_ context.Context, _ *baseline.StudentBaseline) error {
	f.sets++
	return f.err
}

func (f *fakeCache) Invalidate(_ context.Context, _ observation.StudentID) error {
	f.invalidated++
	return f.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (f *fakePublisher) Publish(e shared.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) countOf(t shared.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type fakeLock struct {
	held       bool
	acquireErr error
	releases   int
}

func (f *fakeLock) Acquire(_ context.Context, _ observation.StudentID) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	return !f.held, nil
}

func (f *fakeLock) Release(_ context.Context, _ observation.StudentID) error {
	f.releases++
	return nil
}

// ─── fixtures ────────────────────────────────────────────────────────────────

var cmdNow = time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)

// richObservations returns a window that clears the sufficiency gate and
// carries an obvious anxious spike in the last days.
func richObservations(days int) *fakeObservationRepo {
	repo := &fakeObservationRepo{}
	for d := 0; d < days; d++ {
		at := cmdNow.AddDate(0, 0, -(d + 1))
		sessionID := fmt.Sprintf("sess-%d", d)
		repo.sessions = append(repo.sessions, observation.TrackingSession{
			ID: sessionID, StudentID: "s1", StartedAt: at,
		})
		intensity := 4.0
		if d < 3 {
			intensity = 9.0 // recent spike
		}
		repo.emotions = append(repo.emotions, observation.EmotionObservation{
			ID:        fmt.Sprintf("e%d", d),
			StudentID: "s1",
			SessionID: sessionID,
			Category:  "anxious",
			Intensity: observation.Intensity(intensity),
			Timestamp: at,
		})
	}
	repo.studentIDs = []observation.StudentID{"s1"}
	return repo
}

func newEngine() *pipeline.Service {
	return pipeline.NewService(nil, nil, nil, stats.TauU, nil, nil, pipeline.DefaultConfig())
}

// ─── update_baseline ─────────────────────────────────────────────────────────

func TestUpdateBaselineHandle(t *testing.T) {
	obs := richObservations(14)
	baselines := newFakeBaselineRepo()
	cache := &fakeCache{}
	pub := &fakePublisher{}

	h := NewUpdateBaselineHandler(obs, baselines, cache, pub, nil, UpdateBaselineHandlerConfig{})
	res, err := h.Handle(context.Background(), UpdateBaselineCommand{StudentID: "s1", Now: cmdNow})
	require.NoError(t, err)

	assert.True(t, res.Updated)
	assert.False(t, res.Insufficient)
	assert.Equal(t, 14, res.SessionCount)

	stored, err := baselines.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, observation.StudentID("s1"), stored.StudentID)

	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 1, pub.countOf(shared.EventBaselineUpdated))
}

func TestUpdateBaselineInsufficientKeepsPrevious(t *testing.T) {
	obs := richObservations(4) // below the gate
	baselines := newFakeBaselineRepo()
	previous := &baseline.StudentBaseline{StudentID: "s1", SessionCount: 20}
	baselines.byStudent["s1"] = previous
	pub := &fakePublisher{}

	h := NewUpdateBaselineHandler(obs, baselines, nil, pub, nil, UpdateBaselineHandlerConfig{})
	res, err := h.Handle(context.Background(), UpdateBaselineCommand{StudentID: "s1", Now: cmdNow})
	require.NoError(t, err)

	assert.True(t, res.Insufficient)
	assert.False(t, res.Updated)
	assert.Equal(t, 1, pub.countOf(shared.EventBaselineInsufficient))

	// Previous record untouched.
	stored, _ := baselines.Get(context.Background(), "s1")
	assert.Same(t, previous, stored)
}

func TestUpdateBaselineValidation(t *testing.T) {
	h := NewUpdateBaselineHandler(&fakeObservationRepo{}, newFakeBaselineRepo(), nil, nil, nil, UpdateBaselineHandlerConfig{})
	_, err := h.Handle(context.Background(), UpdateBaselineCommand{StudentID: " "})
	assert.ErrorIs(t, err, observation.ErrInvalidStudentID)
}

func TestUpdateBaselineCacheFailureIsNotFatal(t *testing.T) {
	obs := richObservations(14)
	cache := &fakeCache{err: errors.New("redis down")}

	h := NewUpdateBaselineHandler(obs, newFakeBaselineRepo(), cache, nil, nil, UpdateBaselineHandlerConfig{})
	res, err := h.Handle(context.Background(), UpdateBaselineCommand{StudentID: "s1", Now: cmdNow})
	require.NoError(t, err)
	assert.True(t, res.Updated)
}

func TestUpdateBaselineHandleAll(t *testing.T) {
	obs := richObservations(14)
	obs.studentIDs = []observation.StudentID{"s1", "s2"}

	h := NewUpdateBaselineHandler(obs, newFakeBaselineRepo(), nil, nil, nil, UpdateBaselineHandlerConfig{})
	updated, skipped, failed, err := h.HandleAll(context.Background(), cmdNow)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, 0, failed)
}

// ─── run_detection ───────────────────────────────────────────────────────────

func TestRunDetectionHandlePersistsAlerts(t *testing.T) {
	obs := richObservations(14)
	alerts := newFakeAlertRepo()

	h := NewRunDetectionHandler(obs, alerts, newEngine(), nil, nil, RunDetectionHandlerConfig{})
	res, err := h.Handle(context.Background(), RunDetectionCommand{StudentID: "s1", Now: cmdNow})
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, len(res.Alerts), res.Persisted)
	assert.Len(t, alerts.byID, res.Persisted)
}

func TestRunDetectionIdempotentAcrossRuns(t *testing.T) {
	obs := richObservations(14)
	alerts := newFakeAlertRepo()
	h := NewRunDetectionHandler(obs, alerts, newEngine(), nil, nil, RunDetectionHandlerConfig{})

	first, err := h.Handle(context.Background(), RunDetectionCommand{StudentID: "s1", Now: cmdNow})
	require.NoError(t, err)
	countAfterFirst := len(alerts.byID)

	// Same window, same clock: the upserts replace, never duplicate.
	second, err := h.Handle(context.Background(), RunDetectionCommand{StudentID: "s1", Now: cmdNow})
	require.NoError(t, err)
	assert.Equal(t, len(first.Alerts), len(second.Alerts))
	assert.Equal(t, countAfterFirst, len(alerts.byID))
}

func TestRunDetectionSkipsWhenLocked(t *testing.T) {
	h := NewRunDetectionHandler(richObservations(14), newFakeAlertRepo(), newEngine(),
		&fakeLock{held: true}, nil, RunDetectionHandlerConfig{})

	res, err := h.Handle(context.Background(), RunDetectionCommand{StudentID: "s1", Now: cmdNow})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Alerts)
}

func TestRunDetectionLockErrorProceeds(t *testing.T) {
	lock := &fakeLock{acquireErr: errors.New("redis down")}
	h := NewRunDetectionHandler(richObservations(14), newFakeAlertRepo(), newEngine(),
		lock, nil, RunDetectionHandlerConfig{})

	res, err := h.Handle(context.Background(), RunDetectionCommand{StudentID: "s1", Now: cmdNow})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	// Lock was never acquired, so it must not be released.
	assert.Equal(t, 0, lock.releases)
}

func TestRunDetectionReleasesLock(t *testing.T) {
	lock := &fakeLock{}
	h := NewRunDetectionHandler(richObservations(14), newFakeAlertRepo(), newEngine(),
		lock, nil, RunDetectionHandlerConfig{})

	_, err := h.Handle(context.Background(), RunDetectionCommand{StudentID: "s1", Now: cmdNow})
	require.NoError(t, err)
	assert.Equal(t, 1, lock.releases)
}

func TestRunDetectionObservationLoadError(t *testing.T) {
	obs := &fakeObservationRepo{err: errors.New("db down")}
	h := NewRunDetectionHandler(obs, newFakeAlertRepo(), newEngine(), nil, nil, RunDetectionHandlerConfig{})

	_, err := h.Handle(context.Background(), RunDetectionCommand{StudentID: "s1", Now: cmdNow})
	assert.Error(t, err)
}

func TestRunDetectionHandleAll(t *testing.T) {
	obs := richObservations(14)
	obs.studentIDs = []observation.StudentID{"s1", "s2"}
	alerts := newFakeAlertRepo()

	h := NewRunDetectionHandler(obs, alerts, newEngine(), nil, nil, RunDetectionHandlerConfig{})
	students, emitted, failed, err := h.HandleAll(context.Background(), cmdNow)
	require.NoError(t, err)
	assert.Equal(t, 2, students)
	assert.Equal(t, 0, failed)
	assert.GreaterOrEqual(t, emitted, 0)
}

// ─── transition_alert ────────────────────────────────────────────────────────

func seedAlert(repo *fakeAlertRepo, status alert.Status) alert.AlertEvent {
	e := alert.AlertEvent{
		ID:        "a1",
		StudentID: "s1",
		Kind:      alert.KindBehaviorSpike,
		Label:     "anxious",
		Severity:  alert.SeverityHigh,
		Status:    status,
		Sources: []alert.Source{
			{Detector: detection.TypeTrend, Score: 0.9, Confidence: 0.8, Rank: 1},
			{Detector: detection.TypeShift, Score: 0.7, Confidence: 0.6, Rank: 2},
		},
	}
	repo.byID[e.ID] = e
	return e
}

func TestTransitionAlert(t *testing.T) {
	alerts := newFakeAlertRepo()
	seedAlert(alerts, alert.StatusNew)
	pub := &fakePublisher{}

	h := NewTransitionAlertHandler(alerts, pub, nil)
	e, err := h.Handle(context.Background(), TransitionAlertCommand{
		AlertID:    "a1",
		NextStatus: alert.StatusAcknowledged,
		Actor:      "teacher-1",
	})
	require.NoError(t, err)
	assert.Equal(t, alert.StatusAcknowledged, e.Status)

	stored, _ := alerts.GetByID(context.Background(), "a1")
	assert.Equal(t, alert.StatusAcknowledged, stored.Status)
	assert.Equal(t, 1, pub.countOf(shared.EventAlertTransitioned))
}

func TestTransitionAlertSnooze(t *testing.T) {
	alerts := newFakeAlertRepo()
	seedAlert(alerts, alert.StatusNew)
	until := cmdNow.Add(24 * time.Hour)

	h := NewTransitionAlertHandler(alerts, nil, nil)
	e, err := h.Handle(context.Background(), TransitionAlertCommand{
		AlertID:     "a1",
		NextStatus:  alert.StatusSnoozed,
		SnoozeUntil: until,
	})
	require.NoError(t, err)
	assert.Equal(t, alert.StatusSnoozed, e.Status)
	require.NotNil(t, e.SnoozedUntil)
	assert.Equal(t, until, *e.SnoozedUntil)

	// Snooze without a deadline is rejected up front.
	_, err = h.Handle(context.Background(), TransitionAlertCommand{
		AlertID:    "a1",
		NextStatus: alert.StatusSnoozed,
	})
	assert.Error(t, err)
}

func TestTransitionAlertInvalid(t *testing.T) {
	alerts := newFakeAlertRepo()
	seedAlert(alerts, alert.StatusNew)
	h := NewTransitionAlertHandler(alerts, nil, nil)

	// New cannot resolve directly.
	_, err := h.Handle(context.Background(), TransitionAlertCommand{
		AlertID:    "a1",
		NextStatus: alert.StatusResolved,
	})
	assert.ErrorIs(t, err, alert.ErrInvalidTransition)

	_, err = h.Handle(context.Background(), TransitionAlertCommand{
		AlertID:    "missing",
		NextStatus: alert.StatusAcknowledged,
	})
	assert.ErrorIs(t, err, alert.ErrAlertNotFound)
}

// ─── record_feedback ─────────────────────────────────────────────────────────

func TestRecordFeedbackDismissedRaisesThresholds(t *testing.T) {
	alerts := newFakeAlertRepo()
	seedAlert(alerts, alert.StatusNew)
	overrides := newFakeOverrideRepo()
	pub := &fakePublisher{}

	h := NewRecordFeedbackHandler(alerts, overrides, pub, nil)
	res, err := h.Handle(context.Background(), RecordFeedbackCommand{
		AlertID: "a1",
		Outcome: experiment.FeedbackDismissed,
	})
	require.NoError(t, err)

	assert.Equal(t, alert.StatusDismissed, res.FinalStatus)
	// One learner step per distinct contributing detector.
	require.Len(t, res.Overrides, 2)
	for _, o := range res.Overrides {
		assert.Greater(t, o.AdjustmentValue, 0.0)
	}
	assert.Equal(t, 2, pub.countOf(shared.EventThresholdLearned))
	assert.Equal(t, 2, pub.countOf(shared.EventFeedbackRecorded))
}

func TestRecordFeedbackConfirmedLowersThresholds(t *testing.T) {
	alerts := newFakeAlertRepo()
	seedAlert(alerts, alert.StatusAcknowledged)
	overrides := newFakeOverrideRepo()

	h := NewRecordFeedbackHandler(alerts, overrides, nil, nil)
	res, err := h.Handle(context.Background(), RecordFeedbackCommand{
		AlertID: "a1",
		Outcome: experiment.FeedbackConfirmed,
	})
	require.NoError(t, err)

	assert.Equal(t, alert.StatusResolved, res.FinalStatus)
	for _, o := range res.Overrides {
		assert.Less(t, o.AdjustmentValue, 0.0)
	}
}

func TestRecordFeedbackAccumulates(t *testing.T) {
	overrides := newFakeOverrideRepo()

	for i := 0; i < 3; i++ {
		alerts := newFakeAlertRepo()
		seedAlert(alerts, alert.StatusNew)
		h := NewRecordFeedbackHandler(alerts, overrides, nil, nil)
		_, err := h.Handle(context.Background(), RecordFeedbackCommand{
			AlertID: "a1",
			Outcome: experiment.FeedbackDismissed,
		})
		require.NoError(t, err)
	}

	o, err := overrides.Get(context.Background(), detection.TypeTrend)
	require.NoError(t, err)
	// Three dismissals stack up, each dampened by growing confidence.
	assert.Greater(t, o.AdjustmentValue, 0.1)
	assert.InDelta(t, 0.15, o.ConfidenceLevel, 1e-9)
}

func TestRecordFeedbackValidation(t *testing.T) {
	h := NewRecordFeedbackHandler(newFakeAlertRepo(), nil, nil, nil)

	_, err := h.Handle(context.Background(), RecordFeedbackCommand{Outcome: experiment.FeedbackConfirmed})
	assert.Error(t, err)

	_, err = h.Handle(context.Background(), RecordFeedbackCommand{AlertID: "a1", Outcome: "maybe"})
	assert.Error(t, err)
}
