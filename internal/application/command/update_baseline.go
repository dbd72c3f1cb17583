// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE BASELINE COMMAND
// The baseline service is the single writer of baseline records. A rebuild
// that fails the sufficiency gate leaves the previous record untouched.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateBaselineCommand requests a baseline rebuild for one student.
type UpdateBaselineCommand struct {
	// StudentID is the student whose baseline to rebuild.
	StudentID observation.StudentID

	// Now overrides the rebuild clock (zero means time.Now).
	Now time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c UpdateBaselineCommand) Validate() error {
	if !c.StudentID.IsValid() {
		return fmt.Errorf("update_baseline: %w", observation.ErrInvalidStudentID)
	}
	return nil
}

// UpdateBaselineResult contains the result of a rebuild.
type UpdateBaselineResult struct {
	// StudentID is the rebuilt student.
	StudentID observation.StudentID

	// Updated is true when a new record replaced the previous one.
	Updated bool

	// Insufficient is true when the sufficiency gate blocked the rebuild.
	Insufficient bool

	// SessionCount and UniqueDays describe the observation window.
	SessionCount int
	UniqueDays   int

	// ComputedAt is the rebuild timestamp (zero when not updated).
	ComputedAt time.Time
}

// BaselineCache invalidates or refreshes the hot baseline snapshot.
type BaselineCache interface {
	// Set stores the snapshot for fast reads.
	Set(ctx context.Context, b *baseline.StudentBaseline) error

	// Invalidate drops the snapshot for a student.
	Invalidate(ctx context.Context, studentID observation.StudentID) error
}

// UpdateBaselineHandler handles the UpdateBaselineCommand.
type UpdateBaselineHandler struct {
	observations observation.Repository
	baselines    baseline.Repository
	cache        BaselineCache
	publisher    shared.EventPublisher
	logger       *logger.Logger

	// historyWindow is how far back observations feed the rebuild.
	historyWindow time.Duration
}

// UpdateBaselineHandlerConfig contains configuration for the handler.
type UpdateBaselineHandlerConfig struct {
	HistoryWindow time.Duration
}

// DefaultUpdateBaselineHandlerConfig returns default configuration:
// the widest baseline window plus slack for late-arriving records.
func DefaultUpdateBaselineHandlerConfig() UpdateBaselineHandlerConfig {
	return UpdateBaselineHandlerConfig{
		HistoryWindow: 35 * 24 * time.Hour,
	}
}

// NewUpdateBaselineHandler creates a new UpdateBaselineHandler.
func NewUpdateBaselineHandler(
	observations observation.Repository,
	baselines baseline.Repository,
	cache BaselineCache,
	publisher shared.EventPublisher,
	log *logger.Logger,
	config UpdateBaselineHandlerConfig,
) *UpdateBaselineHandler {
	if config.HistoryWindow == 0 {
		config = DefaultUpdateBaselineHandlerConfig()
	}
	if log == nil {
		log = logger.Default()
	}
	return &UpdateBaselineHandler{
		observations:  observations,
		baselines:     baselines,
		cache:         cache,
		publisher:     publisher,
		logger:        log.With(logger.String("component", "baseline_service")),
		historyWindow: config.HistoryWindow,
	}
}

// Handle executes the rebuild.
func (h *UpdateBaselineHandler) Handle(ctx context.Context, cmd UpdateBaselineCommand) (*UpdateBaselineResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := cmd.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	window := shared.TimeRange{From: now.Add(-h.historyWindow), To: now}

	emotions, err := h.observations.GetEmotions(ctx, cmd.StudentID, window.From)
	if err != nil {
		return nil, fmt.Errorf("update_baseline: failed to load emotions: %w", err)
	}
	sensory, err := h.observations.GetSensory(ctx, cmd.StudentID, window.From)
	if err != nil {
		return nil, fmt.Errorf("update_baseline: failed to load sensory observations: %w", err)
	}
	sessions, err := h.observations.GetSessions(ctx, cmd.StudentID, window.From)
	if err != nil {
		return nil, fmt.Errorf("update_baseline: failed to load sessions: %w", err)
	}

	record := baseline.Build(baseline.BuildInput{
		StudentID: cmd.StudentID,
		Emotions:  emotions,
		Sensory:   sensory,
		Sessions:  sessions,
		Now:       now,
	})

	if record == nil {
		// Below the gate: keep the previous record, report the shortfall.
		timestamps := make([]time.Time, 0, len(emotions)+len(sensory))
		for _, o := range emotions {
			timestamps = append(timestamps, o.Timestamp)
		}
		for _, o := range sensory {
			timestamps = append(timestamps, o.Timestamp)
		}
		sessionCount := observation.CountSessions(sessions, timestamps)
		uniqueDays := observation.UniqueDayCount(timestamps)

		if h.publisher != nil {
			_ = h.publisher.Publish(shared.NewBaselineInsufficientEvent(cmd.StudentID.String(), sessionCount, uniqueDays))
		}
		h.logger.Debug("baseline rebuild skipped: insufficient data",
			logger.StudentID(cmd.StudentID.String()),
			logger.Int("sessions", sessionCount),
			logger.Int("unique_days", uniqueDays))

		return &UpdateBaselineResult{
			StudentID:    cmd.StudentID,
			Insufficient: true,
			SessionCount: sessionCount,
			UniqueDays:   uniqueDays,
		}, nil
	}

	if err := h.baselines.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("update_baseline: failed to save baseline: %w", err)
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, record); err != nil {
			h.logger.Warn("failed to refresh baseline cache",
				logger.StudentID(cmd.StudentID.String()),
				logger.Err(err))
		}
	}

	if h.publisher != nil {
		event := shared.NewBaselineUpdatedEvent(
			cmd.StudentID.String(),
			record.SessionCount,
			record.UniqueDays,
			record.SufficiencyFactor,
			record.ComputedAt,
		)
		if cmd.CorrelationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		_ = h.publisher.Publish(event)
	}

	return &UpdateBaselineResult{
		StudentID:    cmd.StudentID,
		Updated:      true,
		SessionCount: record.SessionCount,
		UniqueDays:   record.UniqueDays,
		ComputedAt:   record.ComputedAt,
	}, nil
}

// HandleAll rebuilds baselines for every student with recent
// observations. Per-student failures are collected, not fatal.
func (h *UpdateBaselineHandler) HandleAll(ctx context.Context, now time.Time) (updated, skipped, failed int, err error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ids, err := h.observations.ListStudentIDs(ctx, now.Add(-h.historyWindow))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("update_baseline: failed to list students: %w", err)
	}

	for _, id := range ids {
		res, handleErr := h.Handle(ctx, UpdateBaselineCommand{StudentID: id, Now: now})
		switch {
		case handleErr != nil:
			failed++
			if !errors.Is(handleErr, context.Canceled) {
				h.logger.Error("baseline rebuild failed",
					logger.StudentID(id.String()),
					logger.Err(handleErr))
			}
		case res.Updated:
			updated++
		default:
			skipped++
		}
	}
	return updated, skipped, failed, nil
}
