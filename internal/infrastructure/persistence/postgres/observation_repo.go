// Package postgres implements the PostgreSQL persistence layer of Kreativium Insights Hub.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVATION REPOSITORY IMPLEMENTATION
// Read-only: the recording service owns the writes, the pipeline only
// reads windows of history.
// ══════════════════════════════════════════════════════════════════════════════

// ObservationRepository implements observation.Repository for PostgreSQL.
type ObservationRepository struct {
	conn *Connection
}

// NewObservationRepository creates a new ObservationRepository.
func NewObservationRepository(conn *Connection) *ObservationRepository {
	return &ObservationRepository{conn: conn}
}

// GetEmotions returns the student's emotion observations since the given moment.
func (r *ObservationRepository) GetEmotions(ctx context.Context, studentID observation.StudentID, since time.Time) ([]observation.EmotionObservation, error) {
	query := `
		SELECT id, student_id, COALESCE(session_id, ''), category, intensity, environment, observed_at
		FROM emotion_observations
		WHERE student_id = $1 AND observed_at >= $2
		ORDER BY observed_at, id
	`

	rows, err := r.conn.Query(ctx, query, studentID.String(), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query emotion observations: %w", err)
	}
	defer rows.Close()

	var out []observation.EmotionObservation
	for rows.Next() {
		var (
			o        observation.EmotionObservation
			sid      string
			category string
			envJSON  []byte
		)
		if err := rows.Scan(&o.ID, &sid, &o.SessionID, &category, &o.Intensity, &envJSON, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan emotion observation: %w", err)
		}

		env := make(map[string]float64)
		if len(envJSON) > 0 {
			if err := json.Unmarshal(envJSON, &env); err != nil {
				return nil, fmt.Errorf("failed to unmarshal environment: %w", err)
			}
		}

		o.StudentID = observation.StudentID(sid)
		o.Category = observation.EmotionCategory(category)
		o.Environment = make(map[observation.EnvironmentalFactor]float64, len(env))
		for k, v := range env {
			o.Environment[observation.EnvironmentalFactor(k)] = v
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate emotion observations: %w", err)
	}
	return out, nil
}

// GetSensory returns the student's sensory observations since the given moment.
func (r *ObservationRepository) GetSensory(ctx context.Context, studentID observation.StudentID, since time.Time) ([]observation.SensoryObservation, error) {
	query := `
		SELECT id, student_id, COALESCE(session_id, ''), behavior, intensity, observed_at
		FROM sensory_observations
		WHERE student_id = $1 AND observed_at >= $2
		ORDER BY observed_at, id
	`

	rows, err := r.conn.Query(ctx, query, studentID.String(), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensory observations: %w", err)
	}
	defer rows.Close()

	var out []observation.SensoryObservation
	for rows.Next() {
		var (
			o        observation.SensoryObservation
			sid      string
			behavior string
		)
		if err := rows.Scan(&o.ID, &sid, &o.SessionID, &behavior, &o.Intensity, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan sensory observation: %w", err)
		}
		o.StudentID = observation.StudentID(sid)
		o.Behavior = observation.SensoryBehavior(behavior)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sensory observations: %w", err)
	}
	return out, nil
}

// GetSessions returns tracking sessions started since the given moment.
func (r *ObservationRepository) GetSessions(ctx context.Context, studentID observation.StudentID, since time.Time) ([]observation.TrackingSession, error) {
	query := `
		SELECT id, student_id, started_at, COALESCE(completed_at, '0001-01-01'::timestamptz)
		FROM tracking_sessions
		WHERE student_id = $1 AND started_at >= $2
		ORDER BY started_at, id
	`

	rows, err := r.conn.Query(ctx, query, studentID.String(), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracking sessions: %w", err)
	}
	defer rows.Close()

	var out []observation.TrackingSession
	for rows.Next() {
		var (
			s   observation.TrackingSession
			sid string
		)
		if err := rows.Scan(&s.ID, &sid, &s.StartedAt, &s.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tracking session: %w", err)
		}
		s.StudentID = observation.StudentID(sid)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracking sessions: %w", err)
	}
	return out, nil
}

// GetInterventions returns the student's interventions.
func (r *ObservationRepository) GetInterventions(ctx context.Context, studentID observation.StudentID) ([]observation.Intervention, error) {
	query := `
		SELECT id, student_id, COALESCE(goal_id, ''), name, started_at
		FROM interventions
		WHERE student_id = $1
		ORDER BY started_at, id
	`

	rows, err := r.conn.Query(ctx, query, studentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query interventions: %w", err)
	}
	defer rows.Close()

	var out []observation.Intervention
	for rows.Next() {
		var (
			iv  observation.Intervention
			sid string
		)
		if err := rows.Scan(&iv.ID, &sid, &iv.GoalID, &iv.Name, &iv.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan intervention: %w", err)
		}
		iv.StudentID = observation.StudentID(sid)
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interventions: %w", err)
	}
	return out, nil
}

// GetGoals returns the student's goals.
func (r *ObservationRepository) GetGoals(ctx context.Context, studentID observation.StudentID) ([]observation.Goal, error) {
	query := `
		SELECT id, student_id, title, metric_category
		FROM goals
		WHERE student_id = $1
		ORDER BY id
	`

	rows, err := r.conn.Query(ctx, query, studentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var out []observation.Goal
	for rows.Next() {
		var (
			g   observation.Goal
			sid string
		)
		if err := rows.Scan(&g.ID, &sid, &g.Title, &g.MetricCategory); err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		g.StudentID = observation.StudentID(sid)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate goals: %w", err)
	}
	return out, nil
}

// ListStudentIDs returns the IDs of students with observations since the
// given moment. Both observation kinds count.
func (r *ObservationRepository) ListStudentIDs(ctx context.Context, since time.Time) ([]observation.StudentID, error) {
	query := `
		SELECT student_id FROM emotion_observations WHERE observed_at >= $1
		UNION
		SELECT student_id FROM sensory_observations WHERE observed_at >= $1
		ORDER BY student_id
	`

	rows, err := r.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list student ids: %w", err)
	}
	defer rows.Close()

	var ids []observation.StudentID
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("failed to scan student id: %w", err)
		}
		ids = append(ids, observation.StudentID(sid))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate student ids: %w", err)
	}
	return ids, nil
}
