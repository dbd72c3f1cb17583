// Package eventhandler contains handlers for domain events. Handlers
// register with the messaging dispatcher and run after the command
// that emitted the event has committed.
package eventhandler

import (
	"context"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/command"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON BASELINE UPDATED HANDLER
// A fresh baseline is the trigger for a detection run: detectors compare
// against the reference that was just rebuilt, so running right after
// the rebuild keeps alerts and baseline consistent.
// ══════════════════════════════════════════════════════════════════════════════

// OnBaselineUpdatedHandler runs detection for a student whose baseline
// was just rebuilt.
type OnBaselineUpdatedHandler struct {
	detection *command.RunDetectionHandler
	logger    *logger.Logger
	config    BaselineUpdatedConfig
}

// BaselineUpdatedConfig contains configuration for the handler.
type BaselineUpdatedConfig struct {
	// TriggerDetection enables the follow-up detection run.
	TriggerDetection bool

	// RunTimeout bounds the follow-up run.
	RunTimeout time.Duration
}

// DefaultBaselineUpdatedConfig returns default configuration.
func DefaultBaselineUpdatedConfig() BaselineUpdatedConfig {
	return BaselineUpdatedConfig{
		TriggerDetection: true,
		RunTimeout:       2 * time.Minute,
	}
}

// NewOnBaselineUpdatedHandler creates a new handler.
func NewOnBaselineUpdatedHandler(detection *command.RunDetectionHandler, log *logger.Logger, config BaselineUpdatedConfig) *OnBaselineUpdatedHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnBaselineUpdatedHandler{
		detection: detection,
		logger:    log.With(logger.String("handler", "on_baseline_updated")),
		config:    config,
	}
}

// EventType returns the event type this handler processes.
func (h *OnBaselineUpdatedHandler) EventType() shared.EventType {
	return shared.EventBaselineUpdated
}

// Handle implements shared.EventHandler.
func (h *OnBaselineUpdatedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.BaselineUpdatedEvent)
	if !ok {
		h.logger.Warn("received unexpected event type",
			logger.String("event_type", string(event.EventType())))
		return nil
	}

	if !h.config.TriggerDetection || h.detection == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.RunTimeout)
	defer cancel()

	res, err := h.detection.Handle(ctx, command.RunDetectionCommand{
		StudentID: observation.StudentID(e.StudentID),
	})
	if err != nil {
		h.logger.Error("follow-up detection run failed",
			logger.StudentID(e.StudentID),
			logger.Err(err))
		return err
	}
	if res.Skipped {
		h.logger.Debug("follow-up detection run skipped, lock held",
			logger.StudentID(e.StudentID))
		return nil
	}

	h.logger.Debug("follow-up detection run completed",
		logger.StudentID(e.StudentID),
		logger.Int("alerts", res.Persisted))
	return nil
}
