package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLEANUP ALERTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// CleanupAlertsJob deletes resolved and dismissed alerts older than the
// retention window. Terminal alerts carry no pipeline state, so removing
// them only trims history.
type CleanupAlertsJob struct {
	alerts alert.Repository
	logger *logger.Logger
	config CleanupAlertsConfig
}

// CleanupAlertsConfig contains configuration for the cleanup job.
type CleanupAlertsConfig struct {
	// Retention is how long terminal alerts are kept before deletion.
	Retention time.Duration
}

// DefaultCleanupAlertsConfig returns sensible defaults.
func DefaultCleanupAlertsConfig() CleanupAlertsConfig {
	return CleanupAlertsConfig{
		Retention: 90 * 24 * time.Hour,
	}
}

// NewCleanupAlertsJob creates a new cleanup job.
func NewCleanupAlertsJob(alerts alert.Repository, log *logger.Logger, config CleanupAlertsConfig) *CleanupAlertsJob {
	if log == nil {
		log = logger.Default()
	}
	if config.Retention <= 0 {
		config = DefaultCleanupAlertsConfig()
	}
	return &CleanupAlertsJob{
		alerts: alerts,
		logger: log.With(logger.String("job", "cleanup_alerts")),
		config: config,
	}
}

// Name returns the job name.
func (j *CleanupAlertsJob) Name() string {
	return "cleanup_alerts"
}

// Description returns a human-readable description.
func (j *CleanupAlertsJob) Description() string {
	return "Deletes resolved and dismissed alerts older than the retention window"
}

// Run executes the cleanup.
func (j *CleanupAlertsJob) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-j.config.Retention)

	deleted, err := j.alerts.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup_alerts: %w", err)
	}

	if deleted > 0 {
		j.logger.Info("terminal alert cleanup completed",
			logger.Int("deleted", deleted),
			logger.String("cutoff", cutoff.Format(time.RFC3339)))
	}
	return nil
}
