package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/command"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/query"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/experiment"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Kreativium Insights Hub API",
		"version":     "v1",
		"description": "Observation analytics and alert detection for student tracking",
		"endpoints": map[string]string{
			"health":     "/health",
			"alerts":     "/api/v1/students/{id}/alerts",
			"baseline":   "/api/v1/students/{id}/baseline",
			"detect":     "/api/v1/students/{id}/detect",
			"transition": "/api/v1/alerts/{id}/transition",
			"feedback":   "/api/v1/alerts/{id}/feedback",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	// Default health response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListAlerts handles GET /api/v1/students/{id}/alerts
//
// Query parameters: status (comma-separated), page, page_size.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("id")
	if studentID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Student ID is required")
		return
	}

	if s.deps.GetAlertsHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Alerts handler not configured")
		return
	}

	var statuses []alert.Status
	if raw := getQueryParam(r, "status", ""); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, alert.Status(strings.TrimSpace(part)))
		}
	}

	q := query.GetAlertsQuery{
		StudentID: observation.StudentID(studentID),
		Statuses:  statuses,
		Pagination: shared.Pagination{
			Page:     getQueryParamInt(r, "page", 1),
			PageSize: getQueryParamInt(r, "page_size", 0),
		},
	}

	result, err := s.deps.GetAlertsHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err, "Failed to list alerts")
		return
	}

	meta := &ResponseMeta{
		Page:     result.Page,
		PageSize: result.PageSize,
	}
	writeJSONWithMeta(w, r, http.StatusOK, result.Alerts, meta)
}

// transitionRequest is the body of POST /api/v1/alerts/{id}/transition.
type transitionRequest struct {
	Status      string    `json:"status"`
	SnoozeUntil time.Time `json:"snooze_until,omitempty"`
	Actor       string    `json:"actor,omitempty"`
}

// handleTransitionAlert handles POST /api/v1/alerts/{id}/transition
func (s *Server) handleTransitionAlert(w http.ResponseWriter, r *http.Request) {
	alertID := r.PathValue("id")
	if alertID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Alert ID is required")
		return
	}

	if s.deps.TransitionAlertHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Transition handler not configured")
		return
	}

	var req transitionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	cmd := command.TransitionAlertCommand{
		AlertID:     alertID,
		NextStatus:  alert.Status(req.Status),
		SnoozeUntil: req.SnoozeUntil,
		Actor:       req.Actor,
	}

	result, err := s.deps.TransitionAlertHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err, "Failed to transition alert")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// feedbackRequest is the body of POST /api/v1/alerts/{id}/feedback.
type feedbackRequest struct {
	Outcome string `json:"outcome"` // "confirmed" or "dismissed"
	Actor   string `json:"actor,omitempty"`
}

// handleRecordFeedback handles POST /api/v1/alerts/{id}/feedback
func (s *Server) handleRecordFeedback(w http.ResponseWriter, r *http.Request) {
	alertID := r.PathValue("id")
	if alertID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Alert ID is required")
		return
	}

	if s.deps.RecordFeedbackHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Feedback handler not configured")
		return
	}

	var req feedbackRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	cmd := command.RecordFeedbackCommand{
		AlertID: alertID,
		Outcome: experiment.FeedbackOutcome(req.Outcome),
		Actor:   req.Actor,
	}

	result, err := s.deps.RecordFeedbackHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err, "Failed to record feedback")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// BASELINE & DETECTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetBaseline handles GET /api/v1/students/{id}/baseline
func (s *Server) handleGetBaseline(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("id")
	if studentID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Student ID is required")
		return
	}

	if s.deps.GetBaselineHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Baseline handler not configured")
		return
	}

	q := query.GetBaselineQuery{StudentID: observation.StudentID(studentID)}
	result, err := s.deps.GetBaselineHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err, "Failed to get baseline")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleRunDetection handles POST /api/v1/students/{id}/detect
func (s *Server) handleRunDetection(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("id")
	if studentID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Student ID is required")
		return
	}

	if s.deps.RunDetectionHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Detection handler not configured")
		return
	}

	cmd := command.RunDetectionCommand{StudentID: observation.StudentID(studentID)}
	result, err := s.deps.RunDetectionHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err, "Failed to run detection")
		return
	}

	if result.Skipped {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"student_id": studentID,
			"skipped":    true,
			"reason":     "a detection run is already in progress for this student",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// SUMMARY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetSummary handles GET /api/v1/students/{id}/summary
//
// Serves the event-folded insight card: open alert counts, baseline
// state and last detection run for one student.
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("id")
	if studentID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Student ID is required")
		return
	}

	if s.deps.InsightCards == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Summary view not configured")
		return
	}

	card, err := s.deps.InsightCards.GetByStudentID(r.Context(), studentID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "No summary for student")
		return
	}

	writeJSON(w, http.StatusOK, card)
}

// handleListSummaries handles GET /api/v1/students/summaries
//
// Query parameters: page, page_size. Ordered by open alerts descending.
func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	if s.deps.InsightCards == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Summary view not configured")
		return
	}

	p := shared.NewPagination(
		getQueryParamInt(r, "page", 1),
		getQueryParamInt(r, "page_size", 0),
	)

	cards, err := s.deps.InsightCards.GetAll(r.Context(), p.Offset(), p.Limit())
	if err != nil {
		s.writeDomainError(w, r, err, "Failed to list summaries")
		return
	}

	meta := &ResponseMeta{
		Page:     p.Page,
		PageSize: p.PageSize,
	}
	writeJSONWithMeta(w, r, http.StatusOK, cards, meta)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain errors to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, alert.ErrAlertNotFound),
		errors.Is(err, baseline.ErrBaselineNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, alert.ErrInvalidTransition):
		writeJSONError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, observation.ErrInvalidStudentID),
		errors.Is(err, alert.ErrInvalidStatus),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrEmptyValue):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.logger.Error(fallback,
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
			logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", fallback)
	}
}

// decodeJSONBody decodes a bounded JSON request body.
func decodeJSONBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}
