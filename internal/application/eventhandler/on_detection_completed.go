package eventhandler

import (
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON DETECTION COMPLETED HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// OnDetectionCompletedHandler records run-level metrics.
type OnDetectionCompletedHandler struct {
	metrics PipelineMetrics
	logger  *logger.Logger
}

// NewOnDetectionCompletedHandler creates a new handler.
func NewOnDetectionCompletedHandler(metrics PipelineMetrics, log *logger.Logger) *OnDetectionCompletedHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnDetectionCompletedHandler{
		metrics: metrics,
		logger:  log.With(logger.String("handler", "on_detection_completed")),
	}
}

// EventType returns the event type this handler processes.
func (h *OnDetectionCompletedHandler) EventType() shared.EventType {
	return shared.EventDetectionCompleted
}

// Handle implements shared.EventHandler.
func (h *OnDetectionCompletedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.DetectionCompletedEvent)
	if !ok {
		h.logger.Warn("received unexpected event type",
			logger.String("event_type", string(event.EventType())))
		return nil
	}

	if h.metrics != nil {
		h.metrics.RecordRun(e.AlertCount, e.CandidateCount, e.Duration)
	}
	return nil
}
