package command

import (
	"context"
	"fmt"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITION ALERT COMMAND
// Status transitions are performed only by consumers; the pipeline itself
// emits alerts in status New and never mutates them afterwards.
// ══════════════════════════════════════════════════════════════════════════════

// TransitionAlertCommand moves an alert through its status state machine.
type TransitionAlertCommand struct {
	// AlertID is the alert to transition.
	AlertID string

	// NextStatus is the target status.
	NextStatus alert.Status

	// SnoozeUntil is required when NextStatus is Snoozed.
	SnoozeUntil time.Time

	// Actor identifies who performed the transition (optional).
	Actor string
}

// Validate validates the command.
func (c TransitionAlertCommand) Validate() error {
	if c.AlertID == "" {
		return fmt.Errorf("transition_alert: %w: alert id", shared.ErrEmptyValue)
	}
	if !c.NextStatus.IsValid() {
		return fmt.Errorf("transition_alert: %w", alert.ErrInvalidStatus)
	}
	if c.NextStatus == alert.StatusSnoozed && c.SnoozeUntil.IsZero() {
		return fmt.Errorf("transition_alert: %w: snooze_until", shared.ErrEmptyValue)
	}
	return nil
}

// TransitionAlertHandler handles the TransitionAlertCommand.
type TransitionAlertHandler struct {
	alerts    alert.Repository
	publisher shared.EventPublisher
	logger    *logger.Logger
}

// NewTransitionAlertHandler creates a new TransitionAlertHandler.
func NewTransitionAlertHandler(
	alerts alert.Repository,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *TransitionAlertHandler {
	if log == nil {
		log = logger.Default()
	}
	return &TransitionAlertHandler{
		alerts:    alerts,
		publisher: publisher,
		logger:    log.With(logger.String("component", "alert_transitions")),
	}
}

// Handle executes the transition.
func (h *TransitionAlertHandler) Handle(ctx context.Context, cmd TransitionAlertCommand) (*alert.AlertEvent, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	e, err := h.alerts.GetByID(ctx, cmd.AlertID)
	if err != nil {
		return nil, fmt.Errorf("transition_alert: %w", err)
	}

	from := e.Status
	now := time.Now().UTC()
	if cmd.NextStatus == alert.StatusSnoozed {
		err = e.Snooze(cmd.SnoozeUntil, now)
	} else {
		err = e.Transition(cmd.NextStatus, now)
	}
	if err != nil {
		return nil, fmt.Errorf("transition_alert: %w", err)
	}

	if err := h.alerts.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("transition_alert: failed to persist: %w", err)
	}

	if h.publisher != nil {
		event := shared.NewAlertTransitionedEvent(e.ID, e.StudentID.String(), string(from), string(e.Status))
		if cmd.Actor != "" {
			event = event.WithActor(cmd.Actor)
		}
		_ = h.publisher.Publish(event)
	}

	h.logger.Info("alert transitioned",
		logger.String("alert_id", e.ID),
		logger.String("from", string(from)),
		logger.String("to", string(e.Status)))
	return e, nil
}
