package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/experiment"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD FEEDBACK COMMAND
// Consumer feedback closes the adaptive loop: a dismissed alert nudges the
// contributing detectors' thresholds up, a confirmed alert nudges them down.
// The alert itself moves to its terminal status in the same operation.
// ══════════════════════════════════════════════════════════════════════════════

// RecordFeedbackCommand applies one unit of feedback to an alert.
type RecordFeedbackCommand struct {
	// AlertID is the alert the feedback refers to.
	AlertID string

	// Outcome is confirmed (true positive) or dismissed (false positive).
	Outcome experiment.FeedbackOutcome

	// Actor identifies who gave the feedback (optional).
	Actor string
}

// Validate validates the command.
func (c RecordFeedbackCommand) Validate() error {
	if c.AlertID == "" {
		return fmt.Errorf("record_feedback: %w: alert id", shared.ErrEmptyValue)
	}
	if c.Outcome != experiment.FeedbackConfirmed && c.Outcome != experiment.FeedbackDismissed {
		return fmt.Errorf("record_feedback: %w: outcome", shared.ErrInvalidInput)
	}
	return nil
}

// RecordFeedbackResult describes the learner updates performed.
type RecordFeedbackResult struct {
	// AlertID is the alert the feedback was applied to.
	AlertID string

	// FinalStatus is the alert's status after the feedback.
	FinalStatus alert.Status

	// Overrides are the updated threshold overrides per detector type.
	Overrides []experiment.ThresholdOverride
}

// RecordFeedbackHandler handles the RecordFeedbackCommand.
type RecordFeedbackHandler struct {
	alerts    alert.Repository
	overrides experiment.OverrideRepository
	publisher shared.EventPublisher
	logger    *logger.Logger
}

// NewRecordFeedbackHandler creates a new RecordFeedbackHandler.
func NewRecordFeedbackHandler(
	alerts alert.Repository,
	overrides experiment.OverrideRepository,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *RecordFeedbackHandler {
	if log == nil {
		log = logger.Default()
	}
	return &RecordFeedbackHandler{
		alerts:    alerts,
		overrides: overrides,
		publisher: publisher,
		logger:    log.With(logger.String("component", "feedback_loop")),
	}
}

// Handle applies the feedback: transitions the alert to its terminal
// status and runs the learner for every contributing detector type.
func (h *RecordFeedbackHandler) Handle(ctx context.Context, cmd RecordFeedbackCommand) (*RecordFeedbackResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	e, err := h.alerts.GetByID(ctx, cmd.AlertID)
	if err != nil {
		return nil, fmt.Errorf("record_feedback: %w", err)
	}

	now := time.Now().UTC()
	target := alert.StatusResolved
	if cmd.Outcome == experiment.FeedbackDismissed {
		target = alert.StatusDismissed
	}

	// Feedback on a fresh alert implies acknowledgement.
	if e.Status == alert.StatusNew {
		if err := e.Transition(alert.StatusAcknowledged, now); err != nil {
			return nil, fmt.Errorf("record_feedback: %w", err)
		}
	}
	if err := e.Transition(target, now); err != nil {
		return nil, fmt.Errorf("record_feedback: %w", err)
	}
	if err := h.alerts.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("record_feedback: failed to persist alert: %w", err)
	}

	updated, err := h.learn(ctx, e, cmd.Outcome, now)
	if err != nil {
		return nil, err
	}

	if h.publisher != nil {
		for _, s := range e.Sources {
			_ = h.publisher.Publish(shared.NewFeedbackRecordedEvent(
				e.ID, e.StudentID.String(), string(s.Detector), string(cmd.Outcome)))
		}
	}

	h.logger.Info("feedback recorded",
		logger.String("alert_id", e.ID),
		logger.String("outcome", string(cmd.Outcome)),
		logger.Int("detectors", len(updated)))

	return &RecordFeedbackResult{
		AlertID:     e.ID,
		FinalStatus: e.Status,
		Overrides:   updated,
	}, nil
}

// learn applies one learner step per distinct contributing detector.
func (h *RecordFeedbackHandler) learn(
	ctx context.Context,
	e *alert.AlertEvent,
	outcome experiment.FeedbackOutcome,
	now time.Time,
) ([]experiment.ThresholdOverride, error) {
	if h.overrides == nil {
		return nil, nil
	}

	seen := make(map[string]bool, len(e.Sources))
	updated := make([]experiment.ThresholdOverride, 0, len(e.Sources))
	for _, s := range e.Sources {
		if seen[string(s.Detector)] {
			continue
		}
		seen[string(s.Detector)] = true

		prev, err := h.overrides.Get(ctx, s.Detector)
		if err != nil && !errors.Is(err, experiment.ErrOverrideNotFound) {
			return nil, fmt.Errorf("record_feedback: failed to load override: %w", err)
		}

		next := experiment.Learn(prev, s.Detector, outcome, now)
		if err := h.overrides.Save(ctx, next); err != nil {
			return nil, fmt.Errorf("record_feedback: failed to save override: %w", err)
		}
		updated = append(updated, next)

		if h.publisher != nil {
			_ = h.publisher.Publish(shared.NewThresholdLearnedEvent(
				string(next.DetectorType), next.AdjustmentValue, next.ConfidenceLevel))
		}
	}
	return updated, nil
}
