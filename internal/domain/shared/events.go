// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Baseline events
	EventBaselineUpdated      EventType = "baseline.updated"
	EventBaselineInsufficient EventType = "baseline.insufficient_data"

	// Detection events
	EventDetectionCompleted EventType = "detection.completed"
	EventDetectorPanicked   EventType = "detection.detector_panicked"

	// Alert events
	EventAlertCreated      EventType = "alert.created"
	EventAlertTransitioned EventType = "alert.transitioned"
	EventAlertSnoozed      EventType = "alert.snoozed"
	EventSnoozeExpired     EventType = "alert.snooze_expired"
	EventFeedbackRecorded  EventType = "alert.feedback_recorded"

	// Experiment events
	EventVariantAssigned  EventType = "experiment.variant_assigned"
	EventThresholdLearned EventType = "experiment.threshold_learned"

	// System events
	EventJobCompleted EventType = "system.job_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Baseline Events
// ═══════════════════════════════════════════════════════════════════════════

// BaselineUpdatedEvent is emitted when a student's rolling baseline is rebuilt.
type BaselineUpdatedEvent struct {
	BaseEvent
	StudentID        string    `json:"student_id"`
	SessionCount     int       `json:"session_count"`
	UniqueDays       int       `json:"unique_days"`
	SufficiencyScore float64   `json:"sufficiency_score"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Payload implements Event interface.
func (e BaselineUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":        e.StudentID,
		"session_count":     e.SessionCount,
		"unique_days":       e.UniqueDays,
		"sufficiency_score": e.SufficiencyScore,
		"computed_at":       e.ComputedAt.Format(time.RFC3339),
	}
}

// NewBaselineUpdatedEvent creates a new BaselineUpdatedEvent.
func NewBaselineUpdatedEvent(studentID string, sessions, days int, sufficiency float64, computedAt time.Time) BaselineUpdatedEvent {
	return BaselineUpdatedEvent{
		BaseEvent:        NewBaseEvent(EventBaselineUpdated, studentID),
		StudentID:        studentID,
		SessionCount:     sessions,
		UniqueDays:       days,
		SufficiencyScore: sufficiency,
		ComputedAt:       computedAt,
	}
}

// BaselineInsufficientEvent is emitted when a rebuild is skipped because
// the student does not yet clear the data-sufficiency gate.
type BaselineInsufficientEvent struct {
	BaseEvent
	StudentID    string `json:"student_id"`
	SessionCount int    `json:"session_count"`
	UniqueDays   int    `json:"unique_days"`
}

// Payload implements Event interface.
func (e BaselineInsufficientEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"session_count": e.SessionCount,
		"unique_days":   e.UniqueDays,
	}
}

// NewBaselineInsufficientEvent creates a new BaselineInsufficientEvent.
func NewBaselineInsufficientEvent(studentID string, sessions, days int) BaselineInsufficientEvent {
	return BaselineInsufficientEvent{
		BaseEvent:    NewBaseEvent(EventBaselineInsufficient, studentID),
		StudentID:    studentID,
		SessionCount: sessions,
		UniqueDays:   days,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Detection Events
// ═══════════════════════════════════════════════════════════════════════════

// DetectionCompletedEvent is emitted after a full pipeline run for one student.
type DetectionCompletedEvent struct {
	BaseEvent
	StudentID      string        `json:"student_id"`
	AlertCount     int           `json:"alert_count"`
	CandidateCount int           `json:"candidate_count"`
	Duration       time.Duration `json:"duration"`
	RunAt          time.Time     `json:"run_at"`
}

// Payload implements Event interface.
func (e DetectionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":      e.StudentID,
		"alert_count":     e.AlertCount,
		"candidate_count": e.CandidateCount,
		"duration_ms":     e.Duration.Milliseconds(),
		"run_at":          e.RunAt.Format(time.RFC3339),
	}
}

// NewDetectionCompletedEvent creates a new DetectionCompletedEvent.
func NewDetectionCompletedEvent(studentID string, alerts, candidates int, duration time.Duration, runAt time.Time) DetectionCompletedEvent {
	return DetectionCompletedEvent{
		BaseEvent:      NewBaseEvent(EventDetectionCompleted, studentID),
		StudentID:      studentID,
		AlertCount:     alerts,
		CandidateCount: candidates,
		Duration:       duration,
		RunAt:          runAt,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Alert Events
// ═══════════════════════════════════════════════════════════════════════════

// AlertCreatedEvent is emitted when the pipeline finalizes a new alert.
type AlertCreatedEvent struct {
	BaseEvent
	AlertID    string  `json:"alert_id"`
	StudentID  string  `json:"student_id"`
	Kind       string  `json:"kind"`
	Label      string  `json:"label"`
	Severity   string  `json:"severity"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// Payload implements Event interface.
func (e AlertCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"alert_id":   e.AlertID,
		"student_id": e.StudentID,
		"kind":       e.Kind,
		"label":      e.Label,
		"severity":   e.Severity,
		"score":      e.Score,
		"confidence": e.Confidence,
	}
}

// NewAlertCreatedEvent creates a new AlertCreatedEvent.
func NewAlertCreatedEvent(alertID, studentID, kind, label, severity string, score, confidence float64) AlertCreatedEvent {
	return AlertCreatedEvent{
		BaseEvent:  NewBaseEvent(EventAlertCreated, alertID),
		AlertID:    alertID,
		StudentID:  studentID,
		Kind:       kind,
		Label:      label,
		Severity:   severity,
		Score:      score,
		Confidence: confidence,
	}
}

// AlertTransitionedEvent is emitted when a consumer moves an alert through
// its status state machine.
type AlertTransitionedEvent struct {
	BaseEvent
	AlertID    string `json:"alert_id"`
	StudentID  string `json:"student_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Actor      string `json:"actor,omitempty"`
}

// Payload implements Event interface.
func (e AlertTransitionedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"alert_id":    e.AlertID,
		"student_id":  e.StudentID,
		"from_status": e.FromStatus,
		"to_status":   e.ToStatus,
		"actor":       e.Actor,
	}
}

// NewAlertTransitionedEvent creates a new AlertTransitionedEvent.
func NewAlertTransitionedEvent(alertID, studentID, from, to string) AlertTransitionedEvent {
	return AlertTransitionedEvent{
		BaseEvent:  NewBaseEvent(EventAlertTransitioned, alertID),
		AlertID:    alertID,
		StudentID:  studentID,
		FromStatus: from,
		ToStatus:   to,
	}
}

// WithActor records who performed the transition.
func (e AlertTransitionedEvent) WithActor(actor string) AlertTransitionedEvent {
	e.Actor = actor
	return e
}

// SnoozeExpiredEvent is emitted when a snoozed alert returns to New.
type SnoozeExpiredEvent struct {
	BaseEvent
	AlertID   string    `json:"alert_id"`
	StudentID string    `json:"student_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

// Payload implements Event interface.
func (e SnoozeExpiredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"alert_id":   e.AlertID,
		"student_id": e.StudentID,
		"expired_at": e.ExpiredAt.Format(time.RFC3339),
	}
}

// NewSnoozeExpiredEvent creates a new SnoozeExpiredEvent.
func NewSnoozeExpiredEvent(alertID, studentID string, expiredAt time.Time) SnoozeExpiredEvent {
	return SnoozeExpiredEvent{
		BaseEvent: NewBaseEvent(EventSnoozeExpired, alertID),
		AlertID:   alertID,
		StudentID: studentID,
		ExpiredAt: expiredAt,
	}
}

// FeedbackRecordedEvent is emitted when a consumer confirms or dismisses
// an alert, feeding the adaptive threshold learner.
type FeedbackRecordedEvent struct {
	BaseEvent
	AlertID      string `json:"alert_id"`
	StudentID    string `json:"student_id"`
	DetectorType string `json:"detector_type"`
	Outcome      string `json:"outcome"` // "confirmed" or "dismissed"
}

// Payload implements Event interface.
func (e FeedbackRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"alert_id":      e.AlertID,
		"student_id":    e.StudentID,
		"detector_type": e.DetectorType,
		"outcome":       e.Outcome,
	}
}

// NewFeedbackRecordedEvent creates a new FeedbackRecordedEvent.
func NewFeedbackRecordedEvent(alertID, studentID, detectorType, outcome string) FeedbackRecordedEvent {
	return FeedbackRecordedEvent{
		BaseEvent:    NewBaseEvent(EventFeedbackRecorded, alertID),
		AlertID:      alertID,
		StudentID:    studentID,
		DetectorType: detectorType,
		Outcome:      outcome,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Experiment Events
// ═══════════════════════════════════════════════════════════════════════════

// VariantAssignedEvent is emitted the first time a student is placed
// into an experiment arm.
type VariantAssignedEvent struct {
	BaseEvent
	ExperimentKey string `json:"experiment_key"`
	StudentID     string `json:"student_id"`
	Variant       string `json:"variant"`
}

// Payload implements Event interface.
func (e VariantAssignedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"experiment_key": e.ExperimentKey,
		"student_id":     e.StudentID,
		"variant":        e.Variant,
	}
}

// NewVariantAssignedEvent creates a new VariantAssignedEvent.
func NewVariantAssignedEvent(experimentKey, studentID, variant string) VariantAssignedEvent {
	return VariantAssignedEvent{
		BaseEvent:     NewBaseEvent(EventVariantAssigned, studentID),
		ExperimentKey: experimentKey,
		StudentID:     studentID,
		Variant:       variant,
	}
}

// ThresholdLearnedEvent is emitted when feedback moves a threshold override.
type ThresholdLearnedEvent struct {
	BaseEvent
	DetectorType    string  `json:"detector_type"`
	AdjustmentValue float64 `json:"adjustment_value"`
	ConfidenceLevel float64 `json:"confidence_level"`
}

// Payload implements Event interface.
func (e ThresholdLearnedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"detector_type":    e.DetectorType,
		"adjustment_value": e.AdjustmentValue,
		"confidence_level": e.ConfidenceLevel,
	}
}

// NewThresholdLearnedEvent creates a new ThresholdLearnedEvent.
func NewThresholdLearnedEvent(detectorType string, adjustment, confidence float64) ThresholdLearnedEvent {
	return ThresholdLearnedEvent{
		BaseEvent:       NewBaseEvent(EventThresholdLearned, detectorType),
		DetectorType:    detectorType,
		AdjustmentValue: adjustment,
		ConfidenceLevel: confidence,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
