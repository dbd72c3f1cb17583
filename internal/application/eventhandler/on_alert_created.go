package eventhandler

import (
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON ALERT CREATED HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// PipelineMetrics records pipeline counters. Implemented by the
// observability package; a nil recorder disables recording.
type PipelineMetrics interface {
	// RecordAlert counts one finalized alert by severity.
	RecordAlert(severity string)

	// RecordRun counts one completed detection run.
	RecordRun(alerts, candidates int, duration time.Duration)
}

// OnAlertCreatedHandler records metrics and an audit log line for every
// finalized alert.
type OnAlertCreatedHandler struct {
	metrics PipelineMetrics
	logger  *logger.Logger
}

// NewOnAlertCreatedHandler creates a new handler.
func NewOnAlertCreatedHandler(metrics PipelineMetrics, log *logger.Logger) *OnAlertCreatedHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnAlertCreatedHandler{
		metrics: metrics,
		logger:  log.With(logger.String("handler", "on_alert_created")),
	}
}

// EventType returns the event type this handler processes.
func (h *OnAlertCreatedHandler) EventType() shared.EventType {
	return shared.EventAlertCreated
}

// Handle implements shared.EventHandler.
func (h *OnAlertCreatedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.AlertCreatedEvent)
	if !ok {
		h.logger.Warn("received unexpected event type",
			logger.String("event_type", string(event.EventType())))
		return nil
	}

	if h.metrics != nil {
		h.metrics.RecordAlert(e.Severity)
	}

	h.logger.Info("alert created",
		logger.String("alert_id", e.AlertID),
		logger.StudentID(e.StudentID),
		logger.String("kind", e.Kind),
		logger.String("severity", e.Severity),
		logger.Float64("score", e.Score))
	return nil
}
