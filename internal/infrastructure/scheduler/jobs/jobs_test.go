package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/command"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/pipeline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeAlertRepo struct {
	byID      map[string]alert.AlertEvent
	listErr   error
	deleteErr error
	updateErr error
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{byID: map[string]alert.AlertEvent{}}
}

func (f *fakeAlertRepo) Upsert(_ context.Context, e *alert.AlertEvent) error {
	f.byID[e.ID] = *e
	return nil
}

func (f *fakeAlertRepo) GetByID(_ context.Context, id string) (*alert.AlertEvent, error) {
	if e, ok := f.byID[id]; ok {
		copied := e
		return &copied, nil
	}
	return nil, alert.ErrAlertNotFound
}

func (f *fakeAlertRepo) ListByStudent(_ context.Context, studentID observation.StudentID, _ alert.ListOptions) ([]alert.AlertEvent, error) {
	out := make([]alert.AlertEvent, 0)
	for _, e := range f.byID {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAlertRepo) ListSnoozedExpired(_ context.Context, now time.Time) ([]alert.AlertEvent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
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
	if _, ok := f.byID[e.ID]; !ok {
		return alert.ErrAlertNotFound
	}
	f.byID[e.ID] = *e
	return nil
}

func (f *fakeAlertRepo) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	deleted := 0
	for id, e := range f.byID {
		if e.Status.IsTerminal() && e.CreatedAt.Before(cutoff) {
			delete(f.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeObservationRepo struct {
	sessions   []observation.TrackingSession
	emotions   []observation.EmotionObservation
	studentIDs []observation.StudentID
	err        error
}

func (f *fakeObservationRepo) GetEmotions(_ context.Context, _ observation.StudentID, _ time.Time) ([]observation.EmotionObservation, error) {
	return f.emotions, f.err
}

func (f *fakeObservationRepo) GetSensory(_ context.Context, _ observation.StudentID, _ time.Time) ([]observation.SensoryObservation, error) {
	return nil, f.err
}

func (f *fakeObservationRepo) GetSessions(_ context.Context, _ observation.StudentID, _ time.Time) ([]observation.TrackingSession, error) {
	return f.sessions, f.err
}

func (f *fakeObservationRepo) GetInterventions(_ context.Context, _ observation.StudentID) ([]observation.Intervention, error) {
	return nil, f.err
}

func (f *fakeObservationRepo) GetGoals(_ context.Context, _ observation.StudentID) ([]observation.Goal, error) {
	return nil, f.err
}

func (f *fakeObservationRepo) ListStudentIDs(_ context.Context, _ time.Time) ([]observation.StudentID, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.studentIDs, nil
}

type fakeBaselineRepo struct {
	byStudent map[observation.StudentID]*baseline.StudentBaseline
}

func (f *fakeBaselineRepo) Get(_ context.Context, id observation.StudentID) (*baseline.StudentBaseline, error) {
	if b, ok := f.byStudent[id]; ok {
		return b, nil
	}
	return nil, baseline.ErrBaselineNotFound
}

func (f *fakeBaselineRepo) Save(_ context.Context, b *baseline.StudentBaseline) error {
	f.byStudent[b.StudentID] = b
	return nil
}

type fakePublisher struct {
	events []shared.Event
}

func (f *fakePublisher) Publish(e shared.Event) error {
	f.events = append(f.events, e)
	return nil
}

// dailyObservations fills a window dense enough for the sufficiency gate.
func dailyObservations(days int) *fakeObservationRepo {
	repo := &fakeObservationRepo{studentIDs: []observation.StudentID{"s1"}}
	now := time.Now().UTC()
	for d := 0; d < days; d++ {
		at := now.AddDate(0, 0, -(d + 1))
		sessionID := fmt.Sprintf("sess-%d", d)
		repo.sessions = append(repo.sessions, observation.TrackingSession{
			ID: sessionID, StudentID: "s1", StartedAt: at,
		})
		repo.emotions = append(repo.emotions, observation.EmotionObservation{
			ID:        fmt.Sprintf("e%d", d),
			StudentID: "s1",
			SessionID: sessionID,
			Category:  "anxious",
			Intensity: 5.0,
			Timestamp: at,
		})
	}
	return repo
}

// ─── cleanup_alerts ──────────────────────────────────────────────────────────

func TestCleanupAlertsJobDeletesOldTerminal(t *testing.T) {
	repo := newFakeAlertRepo()
	repo.byID["old"] = alert.AlertEvent{
		ID: "old", StudentID: "s1", Status: alert.StatusResolved,
		CreatedAt: time.Now().UTC().AddDate(0, -6, 0),
	}
	repo.byID["active"] = alert.AlertEvent{
		ID: "active", StudentID: "s1", Status: alert.StatusNew,
		CreatedAt: time.Now().UTC().AddDate(0, -6, 0),
	}

	job := NewCleanupAlertsJob(repo, nil, CleanupAlertsConfig{Retention: 90 * 24 * time.Hour})
	require.NoError(t, job.Run(context.Background()))

	_, err := repo.GetByID(context.Background(), "old")
	assert.ErrorIs(t, err, alert.ErrAlertNotFound)

	// Open alerts survive regardless of age.
	_, err = repo.GetByID(context.Background(), "active")
	assert.NoError(t, err)
}

func TestCleanupAlertsJobError(t *testing.T) {
	repo := newFakeAlertRepo()
	repo.deleteErr = errors.New("db down")

	job := NewCleanupAlertsJob(repo, nil, CleanupAlertsConfig{})
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup_alerts")
}

func TestCleanupAlertsJobMetadata(t *testing.T) {
	job := NewCleanupAlertsJob(newFakeAlertRepo(), nil, CleanupAlertsConfig{})
	assert.Equal(t, "cleanup_alerts", job.Name())
	assert.NotEmpty(t, job.Description())
	assert.Equal(t, 90*24*time.Hour, job.config.Retention)
}

// ─── expire_snoozed ──────────────────────────────────────────────────────────

func TestExpireSnoozedJobWakesAlerts(t *testing.T) {
	repo := newFakeAlertRepo()
	expired := time.Now().UTC().Add(-time.Hour)
	stillSnoozed := time.Now().UTC().Add(time.Hour)
	repo.byID["a1"] = alert.AlertEvent{
		ID: "a1", StudentID: "s1", Status: alert.StatusSnoozed, SnoozedUntil: &expired,
	}
	repo.byID["a2"] = alert.AlertEvent{
		ID: "a2", StudentID: "s1", Status: alert.StatusSnoozed, SnoozedUntil: &stillSnoozed,
	}
	pub := &fakePublisher{}

	job := NewExpireSnoozedJob(repo, pub, nil)
	require.NoError(t, job.Run(context.Background()))

	woken, _ := repo.GetByID(context.Background(), "a1")
	assert.Equal(t, alert.StatusNew, woken.Status)
	assert.Nil(t, woken.SnoozedUntil)

	sleeping, _ := repo.GetByID(context.Background(), "a2")
	assert.Equal(t, alert.StatusSnoozed, sleeping.Status)

	require.Len(t, pub.events, 1)
	assert.Equal(t, shared.EventSnoozeExpired, pub.events[0].EventType())
}

func TestExpireSnoozedJobNothingToDo(t *testing.T) {
	pub := &fakePublisher{}
	job := NewExpireSnoozedJob(newFakeAlertRepo(), pub, nil)
	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, pub.events)
}

func TestExpireSnoozedJobUpdateFailure(t *testing.T) {
	repo := newFakeAlertRepo()
	expired := time.Now().UTC().Add(-time.Hour)
	repo.byID["a1"] = alert.AlertEvent{
		ID: "a1", StudentID: "s1", Status: alert.StatusSnoozed, SnoozedUntil: &expired,
	}
	repo.updateErr = errors.New("db down")

	job := NewExpireSnoozedJob(repo, nil, nil)
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update")
}

// ─── refresh_baselines ───────────────────────────────────────────────────────

func TestRefreshBaselinesJobRunsSweep(t *testing.T) {
	obs := dailyObservations(14)
	baselines := &fakeBaselineRepo{byStudent: map[observation.StudentID]*baseline.StudentBaseline{}}
	handler := command.NewUpdateBaselineHandler(obs, baselines, nil, nil, nil, command.UpdateBaselineHandlerConfig{})

	job := NewRefreshBaselinesJob(handler, nil, DefaultRefreshBaselinesConfig())
	require.NoError(t, job.Run(context.Background()))

	_, err := baselines.Get(context.Background(), "s1")
	assert.NoError(t, err)
	assert.Equal(t, "refresh_baselines", job.Name())
}

func TestRefreshBaselinesJobPropagatesError(t *testing.T) {
	obs := &fakeObservationRepo{err: errors.New("db down")}
	handler := command.NewUpdateBaselineHandler(obs, &fakeBaselineRepo{}, nil, nil, nil, command.UpdateBaselineHandlerConfig{})

	job := NewRefreshBaselinesJob(handler, nil, RefreshBaselinesConfig{})
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh_baselines")
}

// ─── detection_sweep ─────────────────────────────────────────────────────────

func TestDetectionSweepJobRunsAllStudents(t *testing.T) {
	obs := dailyObservations(14)
	alerts := newFakeAlertRepo()
	engine := pipeline.NewService(nil, nil, nil, stats.TauU, nil, nil, pipeline.DefaultConfig())
	handler := command.NewRunDetectionHandler(obs, alerts, engine, nil, nil, command.RunDetectionHandlerConfig{})

	job := NewDetectionSweepJob(handler, nil, DefaultDetectionSweepConfig())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "detection_sweep", job.Name())
}

func TestDetectionSweepJobPropagatesError(t *testing.T) {
	obs := &fakeObservationRepo{err: errors.New("db down")}
	alerts := newFakeAlertRepo()
	engine := pipeline.NewService(nil, nil, nil, stats.TauU, nil, nil, pipeline.DefaultConfig())
	handler := command.NewRunDetectionHandler(obs, alerts, engine, nil, nil, command.RunDetectionHandlerConfig{})

	job := NewDetectionSweepJob(handler, nil, DetectionSweepConfig{})
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detection_sweep")
}
