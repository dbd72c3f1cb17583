// Package postgres implements the PostgreSQL persistence layer of Kreativium Insights Hub.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// BASELINE REPOSITORY IMPLEMENTATION
// One row per student; the whole record travels as a JSONB blob so the
// schema never lags behind the record shape.
// ══════════════════════════════════════════════════════════════════════════════

// BaselineRepository implements baseline.Repository for PostgreSQL.
type BaselineRepository struct {
	conn *Connection
}

// NewBaselineRepository creates a new BaselineRepository.
func NewBaselineRepository(conn *Connection) *BaselineRepository {
	return &BaselineRepository{conn: conn}
}

// Get returns the student's baseline record.
func (r *BaselineRepository) Get(ctx context.Context, studentID observation.StudentID) (*baseline.StudentBaseline, error) {
	query := `
		SELECT record
		FROM baselines
		WHERE student_id = $1
	`

	var recordJSON []byte
	err := r.conn.QueryRow(ctx, query, studentID.String()).Scan(&recordJSON)
	if err != nil {
		if IsNoRows(err) {
			return nil, baseline.ErrBaselineNotFound
		}
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}

	var b baseline.StudentBaseline
	if err := json.Unmarshal(recordJSON, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal baseline record: %w", err)
	}
	return &b, nil
}

// Save atomically replaces the student's baseline record.
func (r *BaselineRepository) Save(ctx context.Context, b *baseline.StudentBaseline) error {
	query := `
		INSERT INTO baselines (
			student_id, session_count, unique_days, sufficiency,
			computed_at, record, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id) DO UPDATE SET
			session_count = EXCLUDED.session_count,
			unique_days = EXCLUDED.unique_days,
			sufficiency = EXCLUDED.sufficiency,
			computed_at = EXCLUDED.computed_at,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at
	`

	recordJSON, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline record: %w", err)
	}

	_, err = r.conn.Exec(ctx, query,
		b.StudentID.String(),
		b.SessionCount,
		b.UniqueDays,
		b.SufficiencyFactor,
		b.ComputedAt,
		recordJSON,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}
