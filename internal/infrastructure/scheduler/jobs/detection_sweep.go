package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/command"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DETECTION SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// DetectionSweepJob runs the detection pipeline for every student with
// recent observations. Deterministic alert ids make overlapping sweeps
// idempotent.
type DetectionSweepJob struct {
	handler *command.RunDetectionHandler
	logger  *logger.Logger
	config  DetectionSweepConfig
}

// DetectionSweepConfig contains configuration for the sweep job.
type DetectionSweepConfig struct {
	// Timeout is the maximum duration for the entire sweep.
	Timeout time.Duration
}

// DefaultDetectionSweepConfig returns sensible defaults.
func DefaultDetectionSweepConfig() DetectionSweepConfig {
	return DetectionSweepConfig{
		Timeout: 30 * time.Minute,
	}
}

// NewDetectionSweepJob creates a new sweep job.
func NewDetectionSweepJob(handler *command.RunDetectionHandler, log *logger.Logger, config DetectionSweepConfig) *DetectionSweepJob {
	if log == nil {
		log = logger.Default()
	}
	return &DetectionSweepJob{
		handler: handler,
		logger:  log.With(logger.String("job", "detection_sweep")),
		config:  config,
	}
}

// Name returns the job name.
func (j *DetectionSweepJob) Name() string {
	return "detection_sweep"
}

// Description returns a human-readable description.
func (j *DetectionSweepJob) Description() string {
	return "Runs the detection pipeline for all students with recent observations"
}

// Run executes the sweep.
func (j *DetectionSweepJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	startedAt := time.Now()
	students, alerts, failed, err := j.handler.HandleAll(ctx, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("detection_sweep: %w", err)
	}

	j.logger.Info("detection sweep completed",
		logger.Int("students", students),
		logger.Int("alerts", alerts),
		logger.Int("failed", failed),
		logger.Duration("duration", time.Since(startedAt)))

	if failed > 0 {
		return fmt.Errorf("detection_sweep: %d students failed", failed)
	}
	return nil
}
