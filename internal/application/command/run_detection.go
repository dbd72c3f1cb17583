package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/pipeline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN DETECTION COMMAND
// Loads the student's recent observation window, runs the detection
// pipeline and persists the finalized alerts. Upsert keyed by the
// deterministic alert id makes repeated runs over the same window
// idempotent.
// ══════════════════════════════════════════════════════════════════════════════

// DetectionLock guards against concurrent runs for the same student.
// Implementations are best-effort: a lost lock duplicates work, never
// corrupts it.
type DetectionLock interface {
	// Acquire takes the per-student run lock. Returns false when
	// another run holds it.
	Acquire(ctx context.Context, studentID observation.StudentID) (bool, error)

	// Release frees the lock.
	Release(ctx context.Context, studentID observation.StudentID) error
}

// RunDetectionCommand requests a detection run for one student.
type RunDetectionCommand struct {
	// StudentID is the student to analyze.
	StudentID observation.StudentID

	// Now overrides the run clock (zero means time.Now).
	Now time.Time
}

// Validate validates the command.
func (c RunDetectionCommand) Validate() error {
	if !c.StudentID.IsValid() {
		return fmt.Errorf("run_detection: %w", observation.ErrInvalidStudentID)
	}
	return nil
}

// RunDetectionResult describes one completed (or skipped) run.
type RunDetectionResult struct {
	// StudentID is the analyzed student.
	StudentID observation.StudentID

	// Alerts are the finalized events emitted by the run.
	Alerts []alert.AlertEvent

	// Persisted is how many of them were stored.
	Persisted int

	// Skipped is true when another run held the student's lock.
	Skipped bool
}

// RunDetectionHandler handles the RunDetectionCommand.
type RunDetectionHandler struct {
	observations observation.Repository
	alerts       alert.Repository
	engine       *pipeline.Service
	lock         DetectionLock
	logger       *logger.Logger

	// observationWindow is how far back observations feed a run.
	observationWindow time.Duration
}

// RunDetectionHandlerConfig contains configuration for the handler.
type RunDetectionHandlerConfig struct {
	ObservationWindow time.Duration
}

// DefaultRunDetectionHandlerConfig returns default configuration: the
// widest baseline window, so trend detectors see a full month.
func DefaultRunDetectionHandlerConfig() RunDetectionHandlerConfig {
	return RunDetectionHandlerConfig{
		ObservationWindow: 30 * 24 * time.Hour,
	}
}

// NewRunDetectionHandler creates a new RunDetectionHandler. The lock is
// optional; without it concurrent runs for one student are allowed.
func NewRunDetectionHandler(
	observations observation.Repository,
	alerts alert.Repository,
	engine *pipeline.Service,
	lock DetectionLock,
	log *logger.Logger,
	config RunDetectionHandlerConfig,
) *RunDetectionHandler {
	if config.ObservationWindow == 0 {
		config = DefaultRunDetectionHandlerConfig()
	}
	if log == nil {
		log = logger.Default()
	}
	return &RunDetectionHandler{
		observations:      observations,
		alerts:            alerts,
		engine:            engine,
		lock:              lock,
		logger:            log.With(logger.String("component", "detection_runner")),
		observationWindow: config.ObservationWindow,
	}
}

// Handle executes one detection run.
func (h *RunDetectionHandler) Handle(ctx context.Context, cmd RunDetectionCommand) (*RunDetectionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := cmd.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if h.lock != nil {
		acquired, err := h.lock.Acquire(ctx, cmd.StudentID)
		if err != nil {
			h.logger.Warn("detection lock unavailable, proceeding without it",
				logger.StudentID(cmd.StudentID.String()),
				logger.Err(err))
		} else if !acquired {
			return &RunDetectionResult{StudentID: cmd.StudentID, Skipped: true}, nil
		} else {
			defer func() { _ = h.lock.Release(context.WithoutCancel(ctx), cmd.StudentID) }()
		}
	}

	window := shared.TimeRange{From: now.Add(-h.observationWindow), To: now}
	in, err := h.loadInput(ctx, cmd.StudentID, window)
	if err != nil {
		return nil, err
	}

	events := h.engine.RunDetection(ctx, *in)

	persisted := 0
	for i := range events {
		if err := h.alerts.Upsert(ctx, &events[i]); err != nil {
			h.logger.Error("failed to persist alert",
				logger.String("alert_id", events[i].ID),
				logger.StudentID(cmd.StudentID.String()),
				logger.Err(err))
			continue
		}
		persisted++
	}

	return &RunDetectionResult{
		StudentID: cmd.StudentID,
		Alerts:    events,
		Persisted: persisted,
	}, nil
}

// loadInput collects the student's observations inside the window.
func (h *RunDetectionHandler) loadInput(ctx context.Context, studentID observation.StudentID, window shared.TimeRange) (*pipeline.DetectionInput, error) {
	emotions, err := h.observations.GetEmotions(ctx, studentID, window.From)
	if err != nil {
		return nil, fmt.Errorf("run_detection: failed to load emotions: %w", err)
	}
	sensory, err := h.observations.GetSensory(ctx, studentID, window.From)
	if err != nil {
		return nil, fmt.Errorf("run_detection: failed to load sensory observations: %w", err)
	}
	sessions, err := h.observations.GetSessions(ctx, studentID, window.From)
	if err != nil {
		return nil, fmt.Errorf("run_detection: failed to load sessions: %w", err)
	}
	interventions, err := h.observations.GetInterventions(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("run_detection: failed to load interventions: %w", err)
	}
	goals, err := h.observations.GetGoals(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("run_detection: failed to load goals: %w", err)
	}

	return &pipeline.DetectionInput{
		StudentID:     studentID,
		Emotions:      emotions,
		Sensory:       sensory,
		Sessions:      sessions,
		Interventions: interventions,
		Goals:         goals,
		Now:           window.To,
	}, nil
}

// HandleAll runs detection for every student with recent observations.
// Per-student failures are collected, not fatal.
func (h *RunDetectionHandler) HandleAll(ctx context.Context, now time.Time) (students, alertsEmitted, failed int, err error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ids, err := h.observations.ListStudentIDs(ctx, now.Add(-h.observationWindow))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("run_detection: failed to list students: %w", err)
	}

	for _, id := range ids {
		res, handleErr := h.Handle(ctx, RunDetectionCommand{StudentID: id, Now: now})
		if handleErr != nil {
			failed++
			if !errors.Is(handleErr, context.Canceled) {
				h.logger.Error("detection run failed",
					logger.StudentID(id.String()),
					logger.Err(handleErr))
			}
			continue
		}
		if res.Skipped {
			continue
		}
		students++
		alertsEmitted += res.Persisted
	}
	return students, alertsEmitted, failed, nil
}
