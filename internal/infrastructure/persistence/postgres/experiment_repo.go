// Package postgres implements the PostgreSQL persistence layer of Kreativium Insights Hub.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/experiment"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD OVERRIDE REPOSITORY IMPLEMENTATION
// One row per detector type, replaced whole on every learner step.
// ══════════════════════════════════════════════════════════════════════════════

// OverrideRepository implements experiment.OverrideRepository for PostgreSQL.
type OverrideRepository struct {
	conn *Connection
}

// NewOverrideRepository creates a new OverrideRepository.
func NewOverrideRepository(conn *Connection) *OverrideRepository {
	return &OverrideRepository{conn: conn}
}

// Get returns the override for a detector type.
func (r *OverrideRepository) Get(ctx context.Context, detectorType detection.Type) (*experiment.ThresholdOverride, error) {
	query := `
		SELECT detector_type, adjustment_value, confidence_level,
			   baseline_threshold, last_updated_at
		FROM threshold_overrides
		WHERE detector_type = $1
	`

	row := r.conn.QueryRow(ctx, query, string(detectorType))
	return r.scanOverride(row)
}

// GetAll returns all existing overrides.
func (r *OverrideRepository) GetAll(ctx context.Context) ([]experiment.ThresholdOverride, error) {
	query := `
		SELECT detector_type, adjustment_value, confidence_level,
			   baseline_threshold, last_updated_at
		FROM threshold_overrides
		ORDER BY detector_type
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list threshold overrides: %w", err)
	}
	defer rows.Close()

	var overrides []experiment.ThresholdOverride
	for rows.Next() {
		o, err := r.scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate threshold overrides: %w", err)
	}
	return overrides, nil
}

// Save atomically replaces the override row.
func (r *OverrideRepository) Save(ctx context.Context, override experiment.ThresholdOverride) error {
	query := `
		INSERT INTO threshold_overrides (
			detector_type, adjustment_value, confidence_level,
			baseline_threshold, last_updated_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (detector_type) DO UPDATE SET
			adjustment_value = EXCLUDED.adjustment_value,
			confidence_level = EXCLUDED.confidence_level,
			baseline_threshold = EXCLUDED.baseline_threshold,
			last_updated_at = EXCLUDED.last_updated_at
	`

	_, err := r.conn.Exec(ctx, query,
		string(override.DetectorType),
		override.AdjustmentValue,
		override.ConfidenceLevel,
		override.BaselineThreshold,
		override.LastUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save threshold override: %w", err)
	}
	return nil
}

func (r *OverrideRepository) scanOverride(row pgx.Row) (*experiment.ThresholdOverride, error) {
	var (
		o            experiment.ThresholdOverride
		detectorType string
	)

	err := row.Scan(
		&detectorType,
		&o.AdjustmentValue,
		&o.ConfidenceLevel,
		&o.BaselineThreshold,
		&o.LastUpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, experiment.ErrOverrideNotFound
		}
		return nil, fmt.Errorf("failed to scan threshold override: %w", err)
	}

	o.DetectorType = detection.Type(detectorType)
	return &o, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENT ASSIGNMENT REPOSITORY IMPLEMENTATION
// Sticky variants: one row per (experiment key, student), first write wins
// unless explicitly reassigned.
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentRepository implements experiment.AssignmentRepository for PostgreSQL.
type AssignmentRepository struct {
	conn *Connection
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(conn *Connection) *AssignmentRepository {
	return &AssignmentRepository{conn: conn}
}

// Get returns the assignment for the (key, student) pair.
func (r *AssignmentRepository) Get(ctx context.Context, experimentKey string, studentID observation.StudentID) (*experiment.ExperimentAssignment, error) {
	query := `
		SELECT experiment_key, student_id, variant, assigned_at
		FROM experiment_assignments
		WHERE experiment_key = $1 AND student_id = $2
	`

	var (
		a       experiment.ExperimentAssignment
		sid     string
		variant string
	)
	err := r.conn.QueryRow(ctx, query, experimentKey, studentID.String()).Scan(
		&a.ExperimentKey,
		&sid,
		&variant,
		&a.AssignedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, experiment.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to get experiment assignment: %w", err)
	}

	a.StudentID = observation.StudentID(sid)
	a.Variant = experiment.Variant(variant)
	return &a, nil
}

// Save stores the assignment (first assignment or explicit reassignment).
func (r *AssignmentRepository) Save(ctx context.Context, a experiment.ExperimentAssignment) error {
	query := `
		INSERT INTO experiment_assignments (experiment_key, student_id, variant, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (experiment_key, student_id) DO UPDATE SET
			variant = EXCLUDED.variant,
			assigned_at = EXCLUDED.assigned_at
	`

	_, err := r.conn.Exec(ctx, query,
		a.ExperimentKey,
		a.StudentID.String(),
		string(a.Variant),
		a.AssignedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save experiment assignment: %w", err)
	}
	return nil
}
