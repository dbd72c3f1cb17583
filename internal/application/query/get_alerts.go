// Package query contains read operations (CQRS - Queries).
// Queries never change state and are free to serve from caches.
package query

import (
	"context"
	"fmt"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ALERTS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetAlertsQuery lists a student's alerts.
type GetAlertsQuery struct {
	// StudentID is the student whose alerts to list.
	StudentID observation.StudentID

	// Statuses restricts the listing (empty means all).
	Statuses []alert.Status

	// Pagination controls the page.
	Pagination shared.Pagination
}

// Validate validates the query.
func (q GetAlertsQuery) Validate() error {
	if !q.StudentID.IsValid() {
		return fmt.Errorf("get_alerts: %w", observation.ErrInvalidStudentID)
	}
	for _, s := range q.Statuses {
		if !s.IsValid() {
			return fmt.Errorf("get_alerts: %w: %s", alert.ErrInvalidStatus, s)
		}
	}
	return nil
}

// GetAlertsResult contains one page of alerts.
type GetAlertsResult struct {
	// Alerts is the page, ordered by the repository (newest first).
	Alerts []alert.AlertEvent

	// Page and PageSize echo the effective pagination.
	Page     int
	PageSize int
}

// GetAlertsHandler handles the GetAlertsQuery.
type GetAlertsHandler struct {
	alerts alert.Repository
}

// NewGetAlertsHandler creates a new GetAlertsHandler.
func NewGetAlertsHandler(alerts alert.Repository) *GetAlertsHandler {
	return &GetAlertsHandler{alerts: alerts}
}

// Handle executes the query.
func (h *GetAlertsHandler) Handle(ctx context.Context, q GetAlertsQuery) (*GetAlertsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	p := shared.NewPagination(q.Pagination.Page, q.Pagination.PageSize)
	opts := alert.ListOptions{
		Statuses: q.Statuses,
		Limit:    p.Limit(),
		Offset:   p.Offset(),
	}

	alerts, err := h.alerts.ListByStudent(ctx, q.StudentID, opts)
	if err != nil {
		return nil, fmt.Errorf("get_alerts: %w", err)
	}

	return &GetAlertsResult{
		Alerts:   alerts,
		Page:     p.Page,
		PageSize: p.Limit(),
	}, nil
}
