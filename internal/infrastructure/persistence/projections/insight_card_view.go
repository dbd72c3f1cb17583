// Package projections implements read models for CQRS pattern.
package projections

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// INSIGHT CARD VIEW - Denormalized Read Model for Student Detection State
// ══════════════════════════════════════════════════════════════════════════════

// InsightCardView represents the denormalized detection state of the
// student population. It folds baseline, detection, alert and feedback
// events into one card per student, so dashboard queries never touch
// the write-side repositories.
//
// The view is rebuilt from events on process start: it subscribes to
// the in-process bus and converges as runs and transitions happen.
type InsightCardView struct {
	mu sync.RWMutex

	// cards holds all insight cards indexed by student ID.
	cards map[string]*InsightCard

	// lastUpdated is the timestamp of the last update.
	lastUpdated time.Time

	// version is incremented on each update.
	version int64
}

// InsightCard is a compact view of one student's detection state.
type InsightCard struct {
	StudentID string `json:"student_id"`

	// ═══════════════════════════════════════════════════════════════════════════
	// ALERTS
	// ═══════════════════════════════════════════════════════════════════════════

	// Totals since process start / view rebuild.
	AlertsTotal int `json:"alerts_total"`

	// Open alerts (created minus terminal transitions observed).
	OpenAlerts int `json:"open_alerts"`

	// Alert counts by severity and by detector kind.
	AlertsBySeverity map[string]int `json:"alerts_by_severity,omitempty"`
	AlertsByKind     map[string]int `json:"alerts_by_kind,omitempty"`

	// Most recent alert.
	LastAlertID       string    `json:"last_alert_id,omitempty"`
	LastAlertKind     string    `json:"last_alert_kind,omitempty"`
	LastAlertSeverity string    `json:"last_alert_severity,omitempty"`
	LastAlertScore    float64   `json:"last_alert_score,omitempty"`
	LastAlertAt       time.Time `json:"last_alert_at,omitempty"`
	DaysSinceAlert    int       `json:"days_since_alert"`

	// Snoozed alerts currently waiting to wake.
	SnoozedAlerts int `json:"snoozed_alerts"`

	// ═══════════════════════════════════════════════════════════════════════════
	// FEEDBACK
	// ═══════════════════════════════════════════════════════════════════════════

	FeedbackConfirmed int `json:"feedback_confirmed"`
	FeedbackDismissed int `json:"feedback_dismissed"`

	// ═══════════════════════════════════════════════════════════════════════════
	// BASELINE
	// ═══════════════════════════════════════════════════════════════════════════

	BaselineSessions    int       `json:"baseline_sessions"`
	BaselineUniqueDays  int       `json:"baseline_unique_days"`
	BaselineSufficiency float64   `json:"baseline_sufficiency"`
	BaselineUpdatedAt   time.Time `json:"baseline_updated_at,omitempty"`
	BaselineSufficient  bool      `json:"baseline_sufficient"`

	// ═══════════════════════════════════════════════════════════════════════════
	// DETECTION RUNS
	// ═══════════════════════════════════════════════════════════════════════════

	LastRunAt         time.Time `json:"last_run_at,omitempty"`
	LastRunAlerts     int       `json:"last_run_alerts"`
	LastRunCandidates int       `json:"last_run_candidates"`
	RunsTotal         int       `json:"runs_total"`

	// ═══════════════════════════════════════════════════════════════════════════
	// METADATA
	// ═══════════════════════════════════════════════════════════════════════════

	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// NewInsightCardView creates a new empty insight card view.
func NewInsightCardView() *InsightCardView {
	return &InsightCardView{
		cards:       make(map[string]*InsightCard),
		lastUpdated: time.Now().UTC(),
		version:     1,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT FOLDING
// ══════════════════════════════════════════════════════════════════════════════

// Handler returns an event handler suitable for EventSubscriber.SubscribeAll.
func (iv *InsightCardView) Handler() shared.EventHandler {
	return func(event shared.Event) error {
		iv.Apply(event)
		return nil
	}
}

// Apply folds one domain event into the view. Unknown event types are
// ignored, so the view can share a bus subscription with other handlers.
func (iv *InsightCardView) Apply(event shared.Event) {
	switch e := event.(type) {
	case shared.AlertCreatedEvent:
		iv.applyAlertCreated(e)
	case shared.AlertTransitionedEvent:
		iv.applyAlertTransitioned(e)
	case shared.SnoozeExpiredEvent:
		iv.applySnoozeExpired(e)
	case shared.FeedbackRecordedEvent:
		iv.applyFeedbackRecorded(e)
	case shared.BaselineUpdatedEvent:
		iv.applyBaselineUpdated(e)
	case shared.BaselineInsufficientEvent:
		iv.applyBaselineInsufficient(e)
	case shared.DetectionCompletedEvent:
		iv.applyDetectionCompleted(e)
	}
}

func (iv *InsightCardView) applyAlertCreated(e shared.AlertCreatedEvent) {
	iv.mutate(e.StudentID, func(card *InsightCard) {
		card.AlertsTotal++
		card.OpenAlerts++
		if card.AlertsBySeverity == nil {
			card.AlertsBySeverity = make(map[string]int)
		}
		if card.AlertsByKind == nil {
			card.AlertsByKind = make(map[string]int)
		}
		card.AlertsBySeverity[e.Severity]++
		card.AlertsByKind[e.Kind]++

		if e.OccurredAt().After(card.LastAlertAt) {
			card.LastAlertID = e.AlertID
			card.LastAlertKind = e.Kind
			card.LastAlertSeverity = e.Severity
			card.LastAlertScore = e.Score
			card.LastAlertAt = e.OccurredAt()
			card.DaysSinceAlert = 0
		}
	})
}

func (iv *InsightCardView) applyAlertTransitioned(e shared.AlertTransitionedEvent) {
	iv.mutate(e.StudentID, func(card *InsightCard) {
		switch e.ToStatus {
		case "resolved", "dismissed":
			if card.OpenAlerts > 0 {
				card.OpenAlerts--
			}
			if e.FromStatus == "snoozed" && card.SnoozedAlerts > 0 {
				card.SnoozedAlerts--
			}
		case "snoozed":
			card.SnoozedAlerts++
		default:
			// acknowledged / reopened keep the alert open
			if e.FromStatus == "snoozed" && card.SnoozedAlerts > 0 {
				card.SnoozedAlerts--
			}
		}
	})
}

func (iv *InsightCardView) applySnoozeExpired(e shared.SnoozeExpiredEvent) {
	iv.mutate(e.StudentID, func(card *InsightCard) {
		if card.SnoozedAlerts > 0 {
			card.SnoozedAlerts--
		}
	})
}

func (iv *InsightCardView) applyFeedbackRecorded(e shared.FeedbackRecordedEvent) {
	iv.mutate(e.StudentID, func(card *InsightCard) {
		switch e.Outcome {
		case "confirmed":
			card.FeedbackConfirmed++
		case "dismissed":
			card.FeedbackDismissed++
		}
	})
}

func (iv *InsightCardView) applyBaselineUpdated(e shared.BaselineUpdatedEvent) {
	iv.mutate(e.StudentID, func(card *InsightCard) {
		card.BaselineSessions = e.SessionCount
		card.BaselineUniqueDays = e.UniqueDays
		card.BaselineSufficiency = e.SufficiencyScore
		card.BaselineUpdatedAt = e.ComputedAt
		card.BaselineSufficient = true
	})
}

func (iv *InsightCardView) applyBaselineInsufficient(e shared.BaselineInsufficientEvent) {
	iv.mutate(e.StudentID, func(card *InsightCard) {
		card.BaselineSessions = e.SessionCount
		card.BaselineUniqueDays = e.UniqueDays
		card.BaselineSufficient = false
	})
}

func (iv *InsightCardView) applyDetectionCompleted(e shared.DetectionCompletedEvent) {
	iv.mutate(e.StudentID, func(card *InsightCard) {
		card.RunsTotal++
		card.LastRunAt = e.RunAt
		card.LastRunAlerts = e.AlertCount
		card.LastRunCandidates = e.CandidateCount
	})
}

// mutate applies fn to the student's card, creating it on first sight.
func (iv *InsightCardView) mutate(studentID string, fn func(*InsightCard)) {
	if studentID == "" {
		return
	}

	iv.mu.Lock()
	defer iv.mu.Unlock()

	card, exists := iv.cards[studentID]
	if !exists {
		card = &InsightCard{StudentID: studentID}
		iv.cards[studentID] = card
	}

	fn(card)

	now := time.Now().UTC()
	card.UpdatedAt = now
	card.Version++
	if !card.LastAlertAt.IsZero() {
		card.DaysSinceAlert = timeutil.DaysSince(card.LastAlertAt, now)
	}

	iv.lastUpdated = now
	iv.version++
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetByStudentID returns an insight card by student ID.
func (iv *InsightCardView) GetByStudentID(ctx context.Context, studentID string) (*InsightCard, error) {
	iv.mu.RLock()
	defer iv.mu.RUnlock()

	if card, exists := iv.cards[studentID]; exists {
		return card.clone(), nil
	}

	return nil, fmt.Errorf("projections: insight card not found for student %s", studentID)
}

// GetAll returns all insight cards with pagination, most open alerts first.
func (iv *InsightCardView) GetAll(ctx context.Context, offset, limit int) ([]*InsightCard, error) {
	iv.mu.RLock()
	defer iv.mu.RUnlock()

	all := make([]*InsightCard, 0, len(iv.cards))
	for _, card := range iv.cards {
		all = append(all, card)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].OpenAlerts != all[j].OpenAlerts {
			return all[i].OpenAlerts > all[j].OpenAlerts
		}
		return all[i].StudentID < all[j].StudentID
	})

	if offset >= len(all) {
		return make([]*InsightCard, 0), nil
	}

	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}

	result := make([]*InsightCard, end-offset)
	for i := offset; i < end; i++ {
		result[i-offset] = all[i].clone()
	}

	return result, nil
}

// GetStale returns cards whose last detection run is older than maxAge,
// most stale first. Used to spot students the sweep keeps missing.
func (iv *InsightCardView) GetStale(ctx context.Context, maxAge time.Duration) ([]*InsightCard, error) {
	iv.mu.RLock()
	defer iv.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-maxAge)

	result := make([]*InsightCard, 0)
	for _, card := range iv.cards {
		if card.LastRunAt.Before(cutoff) {
			result = append(result, card.clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastRunAt.Before(result[j].LastRunAt)
	})

	return result, nil
}

// Count returns the total number of insight cards.
func (iv *InsightCardView) Count() int {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return len(iv.cards)
}

// GetVersion returns the current view version.
func (iv *InsightCardView) GetVersion() int64 {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.version
}

// GetLastUpdated returns when the view was last updated.
func (iv *InsightCardView) GetLastUpdated() time.Time {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.lastUpdated
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// clone creates a deep copy of an InsightCard.
func (c *InsightCard) clone() *InsightCard {
	if c == nil {
		return nil
	}

	cardCopy := *c

	if c.AlertsBySeverity != nil {
		cardCopy.AlertsBySeverity = make(map[string]int, len(c.AlertsBySeverity))
		for k, v := range c.AlertsBySeverity {
			cardCopy.AlertsBySeverity[k] = v
		}
	}

	if c.AlertsByKind != nil {
		cardCopy.AlertsByKind = make(map[string]int, len(c.AlertsByKind))
		for k, v := range c.AlertsByKind {
			cardCopy.AlertsByKind[k] = v
		}
	}

	return &cardCopy
}
