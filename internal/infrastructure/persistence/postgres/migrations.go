// Package postgres implements the PostgreSQL persistence layer of Kreativium Insights Hub.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE OBSERVATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create observation tables
-- Version: 001
-- These tables are written by the recording service; the detection
-- pipeline only reads them.

-- Emotion observations (intensity on the 0-10 scale)
CREATE TABLE IF NOT EXISTS emotion_observations (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    student_id VARCHAR(64) NOT NULL,
    session_id VARCHAR(64),
    category VARCHAR(50) NOT NULL,
    intensity DOUBLE PRECISION NOT NULL,
    environment JSONB NOT NULL DEFAULT '{}'::jsonb,
    observed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_emotion_intensity CHECK (intensity >= 0 AND intensity <= 10)
);

CREATE INDEX IF NOT EXISTS idx_emotion_obs_student ON emotion_observations(student_id);
CREATE INDEX IF NOT EXISTS idx_emotion_obs_student_at ON emotion_observations(student_id, observed_at DESC);
CREATE INDEX IF NOT EXISTS idx_emotion_obs_category ON emotion_observations(category);

-- Sensory observations
CREATE TABLE IF NOT EXISTS sensory_observations (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    student_id VARCHAR(64) NOT NULL,
    session_id VARCHAR(64),
    behavior VARCHAR(50) NOT NULL,
    intensity DOUBLE PRECISION NOT NULL,
    observed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_sensory_intensity CHECK (intensity >= 0 AND intensity <= 10)
);

CREATE INDEX IF NOT EXISTS idx_sensory_obs_student ON sensory_observations(student_id);
CREATE INDEX IF NOT EXISTS idx_sensory_obs_student_at ON sensory_observations(student_id, observed_at DESC);
CREATE INDEX IF NOT EXISTS idx_sensory_obs_behavior ON sensory_observations(behavior);

-- Tracking sessions group observations taken in one sitting
CREATE TABLE IF NOT EXISTS tracking_sessions (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tracking_sessions_student ON tracking_sessions(student_id);
CREATE INDEX IF NOT EXISTS idx_tracking_sessions_student_at ON tracking_sessions(student_id, started_at DESC);

-- Goals and the interventions measured against them
CREATE TABLE IF NOT EXISTS goals (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    title VARCHAR(255) NOT NULL,
    metric_category VARCHAR(50) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_goals_student ON goals(student_id);

CREATE TABLE IF NOT EXISTS interventions (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    goal_id VARCHAR(64) REFERENCES goals(id) ON DELETE SET NULL,
    name VARCHAR(255) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_interventions_student ON interventions(student_id);
CREATE INDEX IF NOT EXISTS idx_interventions_goal ON interventions(goal_id);
`

const migration001Down = `
DROP TABLE IF EXISTS interventions;
DROP TABLE IF EXISTS goals;
DROP TABLE IF EXISTS tracking_sessions;
DROP TABLE IF EXISTS sensory_observations;
DROP TABLE IF EXISTS emotion_observations;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE BASELINES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create baseline table
-- Version: 002
-- One row per student. The full rolling-baseline record is stored as a
-- JSONB blob; the columns next to it exist for filtering and monitoring.

CREATE TABLE IF NOT EXISTS baselines (
    student_id VARCHAR(64) PRIMARY KEY,
    session_count INTEGER NOT NULL DEFAULT 0,
    unique_days INTEGER NOT NULL DEFAULT 0,
    sufficiency DOUBLE PRECISION NOT NULL DEFAULT 0,
    computed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    record JSONB NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_sufficiency CHECK (sufficiency >= 0 AND sufficiency <= 1)
);

CREATE INDEX IF NOT EXISTS idx_baselines_computed_at ON baselines(computed_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS baselines;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE ALERTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create alerts table
-- Version: 003
-- Alert IDs are deterministic (UUIDv5 over the dedupe key), so re-running
-- detection over the same window upserts instead of duplicating.

CREATE TABLE IF NOT EXISTS alerts (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    kind VARCHAR(40) NOT NULL,
    label VARCHAR(100) NOT NULL,
    severity VARCHAR(20) NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'new',
    dedupe_key VARCHAR(255) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    last_timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
    snoozed_until TIMESTAMP WITH TIME ZONE,
    payload JSONB NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_alert_status CHECK (status IN ('new', 'acknowledged', 'in_progress', 'snoozed', 'resolved', 'dismissed')),
    CONSTRAINT valid_alert_severity CHECK (severity IN ('high', 'moderate', 'low', 'info')),
    CONSTRAINT valid_alert_score CHECK (score >= 0 AND score <= 1),
    CONSTRAINT valid_alert_confidence CHECK (confidence >= 0 AND confidence <= 1)
);

CREATE INDEX IF NOT EXISTS idx_alerts_student ON alerts(student_id);
CREATE INDEX IF NOT EXISTS idx_alerts_student_created ON alerts(student_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status) WHERE status NOT IN ('resolved', 'dismissed');
CREATE INDEX IF NOT EXISTS idx_alerts_snoozed ON alerts(snoozed_until) WHERE status = 'snoozed';
CREATE INDEX IF NOT EXISTS idx_alerts_dedupe ON alerts(dedupe_key);
`

const migration003Down = `
DROP TABLE IF EXISTS alerts;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CREATE EXPERIMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
-- Migration: Create experiment tables
-- Version: 004
-- Threshold overrides are the adaptive learner's state (one row per
-- detector type); assignments pin each student to an experiment variant.

CREATE TABLE IF NOT EXISTS threshold_overrides (
    detector_type VARCHAR(40) PRIMARY KEY,
    adjustment_value DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence_level DOUBLE PRECISION NOT NULL DEFAULT 0,
    baseline_threshold DOUBLE PRECISION,
    last_updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_adjustment CHECK (adjustment_value >= -0.5 AND adjustment_value <= 0.5),
    CONSTRAINT valid_confidence_level CHECK (confidence_level >= 0 AND confidence_level <= 1)
);

CREATE TABLE IF NOT EXISTS experiment_assignments (
    experiment_key VARCHAR(64) NOT NULL,
    student_id VARCHAR(64) NOT NULL,
    variant VARCHAR(30) NOT NULL,
    assigned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (experiment_key, student_id)
);

CREATE INDEX IF NOT EXISTS idx_experiment_assignments_student ON experiment_assignments(student_id);
`

const migration004Down = `
DROP TABLE IF EXISTS experiment_assignments;
DROP TABLE IF EXISTS threshold_overrides;
`
