// Package jobs contains implementations of scheduled jobs for Kreativium
// Insights Hub: the nightly baseline refresh, snooze expiry, detection
// sweeps and terminal alert cleanup.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/command"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH BASELINES JOB
// ══════════════════════════════════════════════════════════════════════════════

// RefreshBaselinesJob recomputes rolling baselines for every student with
// recent observations. Scheduled nightly so detectors always compare
// against a fresh reference.
type RefreshBaselinesJob struct {
	handler *command.UpdateBaselineHandler
	logger  *logger.Logger
	config  RefreshBaselinesConfig
}

// RefreshBaselinesConfig contains configuration for the refresh job.
type RefreshBaselinesConfig struct {
	// Timeout is the maximum duration for the entire refresh sweep.
	Timeout time.Duration
}

// DefaultRefreshBaselinesConfig returns sensible defaults.
func DefaultRefreshBaselinesConfig() RefreshBaselinesConfig {
	return RefreshBaselinesConfig{
		Timeout: 15 * time.Minute,
	}
}

// NewRefreshBaselinesJob creates a new refresh job.
func NewRefreshBaselinesJob(handler *command.UpdateBaselineHandler, log *logger.Logger, config RefreshBaselinesConfig) *RefreshBaselinesJob {
	if log == nil {
		log = logger.Default()
	}
	return &RefreshBaselinesJob{
		handler: handler,
		logger:  log.With(logger.String("job", "refresh_baselines")),
		config:  config,
	}
}

// Name returns the job name.
func (j *RefreshBaselinesJob) Name() string {
	return "refresh_baselines"
}

// Description returns a human-readable description.
func (j *RefreshBaselinesJob) Description() string {
	return "Recomputes rolling baselines for all students with recent observations"
}

// Run executes the refresh sweep.
func (j *RefreshBaselinesJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	startedAt := time.Now()
	updated, skipped, failed, err := j.handler.HandleAll(ctx, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("refresh_baselines: %w", err)
	}

	j.logger.Info("baseline refresh completed",
		logger.Int("updated", updated),
		logger.Int("skipped", skipped),
		logger.Int("failed", failed),
		logger.Duration("duration", time.Since(startedAt)))

	if failed > 0 {
		return fmt.Errorf("refresh_baselines: %d students failed", failed)
	}
	return nil
}
