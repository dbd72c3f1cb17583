// Package postgres implements the PostgreSQL persistence layer of Kreativium Insights Hub.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// ALERT REPOSITORY IMPLEMENTATION
// Columns carry the query surface (student, status, severity, dedupe key);
// sources and metadata travel together in a JSONB payload.
// ══════════════════════════════════════════════════════════════════════════════

// AlertRepository implements alert.Repository for PostgreSQL.
type AlertRepository struct {
	conn *Connection
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(conn *Connection) *AlertRepository {
	return &AlertRepository{conn: conn}
}

// alertPayload is the JSONB part of an alert row.
type alertPayload struct {
	Sources  []alert.Source `json:"sources"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

const alertColumns = `
	id, student_id, kind, label, severity, score, confidence,
	status, dedupe_key, created_at, last_timestamp, snoozed_until, payload
`

// Upsert saves the event; a repeated event with the same ID replaces
// the previous row entirely.
func (r *AlertRepository) Upsert(ctx context.Context, e *alert.AlertEvent) error {
	query := `
		INSERT INTO alerts (
			id, student_id, kind, label, severity, score, confidence,
			status, dedupe_key, created_at, last_timestamp, snoozed_until,
			payload, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			score = EXCLUDED.score,
			confidence = EXCLUDED.confidence,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			last_timestamp = EXCLUDED.last_timestamp,
			snoozed_until = EXCLUDED.snoozed_until,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`

	payloadJSON, err := json.Marshal(alertPayload{Sources: e.Sources, Metadata: e.Metadata})
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	_, err = r.conn.Exec(ctx, query,
		e.ID,
		e.StudentID.String(),
		string(e.Kind),
		e.Label,
		string(e.Severity),
		e.Score,
		e.Confidence,
		string(e.Status),
		e.DedupeKey,
		e.CreatedAt,
		e.LastTimestamp,
		e.SnoozedUntil,
		payloadJSON,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert: %w", err)
	}
	return nil
}

// GetByID returns an alert by its identifier.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alert.AlertEvent, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	row := r.conn.QueryRow(ctx, query, id)
	return r.scanAlert(row)
}

// ListByStudent returns the student's alerts, newest first.
func (r *AlertRepository) ListByStudent(ctx context.Context, studentID observation.StudentID, opts alert.ListOptions) ([]alert.AlertEvent, error) {
	if opts.Limit <= 0 {
		opts = alert.DefaultListOptions()
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE student_id = $1`
	args := []any{studentID.String()}

	if len(opts.Statuses) > 0 {
		statuses := make([]string, len(opts.Statuses))
		for i, s := range opts.Statuses {
			statuses[i] = string(s)
		}
		query += ` AND status = ANY($2)`
		args = append(args, statuses)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT %d OFFSET %d`, opts.Limit, opts.Offset)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	return r.collectAlerts(rows)
}

// ListSnoozedExpired returns snoozed alerts whose snooze has expired.
func (r *AlertRepository) ListSnoozedExpired(ctx context.Context, now time.Time) ([]alert.AlertEvent, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE status = 'snoozed' AND snoozed_until IS NOT NULL AND snoozed_until <= $1
		ORDER BY snoozed_until, id
	`

	rows, err := r.conn.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired snoozes: %w", err)
	}
	defer rows.Close()

	return r.collectAlerts(rows)
}

// Update updates an existing event (status transitions).
func (r *AlertRepository) Update(ctx context.Context, e *alert.AlertEvent) error {
	query := `
		UPDATE alerts SET
			status = $1,
			snoozed_until = $2,
			payload = $3,
			updated_at = $4
		WHERE id = $5
	`

	payloadJSON, err := json.Marshal(alertPayload{Sources: e.Sources, Metadata: e.Metadata})
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	result, err := r.conn.Exec(ctx, query,
		string(e.Status),
		e.SnoozedUntil,
		payloadJSON,
		time.Now().UTC(),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return alert.ErrAlertNotFound
	}
	return nil
}

// DeleteTerminalBefore removes resolved and dismissed alerts older than
// the cutoff. Returns the number of rows deleted.
func (r *AlertRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM alerts
		WHERE status IN ('resolved', 'dismissed') AND created_at < $1
	`

	result, err := r.conn.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal alerts: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *AlertRepository) scanAlert(row pgx.Row) (*alert.AlertEvent, error) {
	var (
		e           alert.AlertEvent
		studentID   string
		kind        string
		severity    string
		status      string
		payloadJSON []byte
	)

	err := row.Scan(
		&e.ID,
		&studentID,
		&kind,
		&e.Label,
		&severity,
		&e.Score,
		&e.Confidence,
		&status,
		&e.DedupeKey,
		&e.CreatedAt,
		&e.LastTimestamp,
		&e.SnoozedUntil,
		&payloadJSON,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, alert.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	var payload alertPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert payload: %w", err)
	}

	e.StudentID = observation.StudentID(studentID)
	e.Kind = alert.Kind(kind)
	e.Severity = alert.Severity(severity)
	e.Status = alert.Status(status)
	e.Sources = payload.Sources
	e.Metadata = payload.Metadata
	return &e, nil
}

func (r *AlertRepository) collectAlerts(rows pgx.Rows) ([]alert.AlertEvent, error) {
	var alerts []alert.AlertEvent
	for rows.Next() {
		e, err := r.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}
