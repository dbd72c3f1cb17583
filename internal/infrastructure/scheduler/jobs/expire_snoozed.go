package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE SNOOZED ALERTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ExpireSnoozedJob returns snoozed alerts whose snooze window has passed
// back to status New, so they resurface for consumers.
type ExpireSnoozedJob struct {
	alerts    alert.Repository
	publisher shared.EventPublisher
	logger    *logger.Logger
}

// NewExpireSnoozedJob creates a new snooze expiry job.
func NewExpireSnoozedJob(alerts alert.Repository, publisher shared.EventPublisher, log *logger.Logger) *ExpireSnoozedJob {
	if log == nil {
		log = logger.Default()
	}
	return &ExpireSnoozedJob{
		alerts:    alerts,
		publisher: publisher,
		logger:    log.With(logger.String("job", "expire_snoozed")),
	}
}

// Name returns the job name.
func (j *ExpireSnoozedJob) Name() string {
	return "expire_snoozed"
}

// Description returns a human-readable description.
func (j *ExpireSnoozedJob) Description() string {
	return "Returns expired snoozed alerts to status new"
}

// Run executes the expiry sweep.
func (j *ExpireSnoozedJob) Run(ctx context.Context) error {
	now := time.Now().UTC()

	expired, err := j.alerts.ListSnoozedExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("expire_snoozed: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	var woken, failed int
	for i := range expired {
		e := &expired[i]
		if !e.ExpireSnooze(now) {
			continue
		}
		if err := j.alerts.Update(ctx, e); err != nil {
			failed++
			j.logger.Error("failed to persist snooze expiry",
				logger.String("alert_id", e.ID),
				logger.Err(err))
			continue
		}
		woken++

		if j.publisher != nil {
			_ = j.publisher.Publish(shared.NewSnoozeExpiredEvent(e.ID, e.StudentID.String(), now))
		}
	}

	j.logger.Info("snooze expiry completed",
		logger.Int("woken", woken),
		logger.Int("failed", failed))

	if failed > 0 {
		return fmt.Errorf("expire_snoozed: %d alerts failed to update", failed)
	}
	return nil
}
