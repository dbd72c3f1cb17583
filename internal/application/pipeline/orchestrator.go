package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/experiment"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DETECTION ORCHESTRATOR
// Один запуск = один ученик. Запуск никогда не возвращает ошибку наружу:
// отказ зависимости или паника детектора деградируют результат, а не роняют
// вызов. Пустой идентификатор ученика даёт пустой список.
// ══════════════════════════════════════════════════════════════════════════════

// Config bundles the tunables of a detection run.
type Config struct {
	// Detectors - per-detector engine configurations.
	Detectors DetectorConfig

	// Aggregation - scoring weights, severity cuts, recency horizon.
	Aggregation AggregationConfig

	// ExperimentsEnabled turns sticky threshold experiments on.
	ExperimentsEnabled bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Detectors:          DefaultDetectorConfig(),
		Aggregation:        DefaultAggregationConfig(),
		ExperimentsEnabled: true,
	}
}

// DetectionInput carries everything a run needs. Observations are
// expected to be the student's recent window; the orchestrator groups,
// validates and truncates them itself.
type DetectionInput struct {
	// StudentID - owner of the observations. Empty yields an empty run.
	StudentID observation.StudentID

	// Emotions and Sensory are the two observation channels.
	Emotions []observation.EmotionObservation
	Sensory  []observation.SensoryObservation

	// Sessions are the composite tracking sessions of the window.
	Sessions []observation.TrackingSession

	// Interventions and Goals feed the intervention-outcome category.
	Interventions []observation.Intervention
	Goals         []observation.Goal

	// Baseline is an optional pre-loaded snapshot. When nil the
	// orchestrator loads it from the repository; a missing baseline
	// degrades detectors to self-derived references.
	Baseline *baseline.StudentBaseline

	// Now overrides the run clock (zero means time.Now).
	Now time.Time
}

// Service is the detection orchestrator.
type Service struct {
	baselines   baseline.Repository
	overrides   experiment.OverrideRepository
	experiments *ExperimentService
	effectSize  detection.EffectSizeFunc
	publisher   shared.EventPublisher
	logger      *logger.Logger
	cfg         Config
}

// NewService creates a detection orchestrator. Every dependency except
// the configuration may be nil; missing dependencies disable the
// corresponding capability instead of failing runs.
func NewService(
	baselines baseline.Repository,
	overrides experiment.OverrideRepository,
	experiments *ExperimentService,
	effectSize detection.EffectSizeFunc,
	publisher shared.EventPublisher,
	log *logger.Logger,
	cfg Config,
) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		baselines:   baselines,
		overrides:   overrides,
		experiments: experiments,
		effectSize:  effectSize,
		publisher:   publisher,
		logger:      log.With(logger.String("component", "detection_pipeline")),
		cfg:         cfg,
	}
}

// RunDetection executes the full pipeline for one student and returns
// finalized, deduplicated, deterministically ordered alert events in
// status New. It never returns an error: degraded dependencies shrink
// the result instead.
func (s *Service) RunDetection(ctx context.Context, in DetectionInput) []alert.AlertEvent {
	if !in.StudentID.IsValid() {
		return []alert.AlertEvent{}
	}

	runAt := in.Now
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}
	started := time.Now()

	bl := s.loadBaseline(ctx, in)
	overrides := s.loadOverrides(ctx)

	var arms map[detection.Type]ArmAssignment
	if s.cfg.ExperimentsEnabled && s.experiments != nil {
		arms = s.experiments.ResolveArms(ctx, in.StudentID)
	}

	gen := &generator{
		applier: newThresholdApplier(overrides, arms),
		cfg:     s.cfg.Detectors,
		effect:  s.effectSize,
		logger:  s.logger.With(logger.StudentID(in.StudentID.String())),
	}
	candidates := gen.generate(in, bl)

	agg := &aggregator{cfg: s.cfg.Aggregation}
	events := make([]alert.AlertEvent, 0, len(candidates))
	for _, c := range candidates {
		events = append(events, agg.finalize(c, in.StudentID, runAt))
	}

	events = alert.Govern(events)
	sortEvents(events)

	s.publishRun(in, events, len(candidates), time.Since(started), runAt)

	s.logger.Info("detection run completed",
		logger.StudentID(in.StudentID.String()),
		logger.Int("candidates", len(candidates)),
		logger.Int("alerts", len(events)),
		logger.Int("detector_panics", gen.panics),
		logger.Duration("duration", time.Since(started)))

	return events
}

// loadBaseline prefers the supplied snapshot, then the repository. A
// missing or failing baseline is not an error: detectors fall back to
// self-derived references.
func (s *Service) loadBaseline(ctx context.Context, in DetectionInput) *baseline.StudentBaseline {
	if in.Baseline != nil {
		return in.Baseline
	}
	if s.baselines == nil {
		return nil
	}
	bl, err := s.baselines.Get(ctx, in.StudentID)
	if err != nil {
		if !errors.Is(err, baseline.ErrBaselineNotFound) {
			s.logger.Warn("baseline load failed, running without reference",
				logger.StudentID(in.StudentID.String()),
				logger.Err(err))
		}
		return nil
	}
	return bl
}

// loadOverrides fetches learned threshold adjustments; a failing store
// degrades to engine defaults.
func (s *Service) loadOverrides(ctx context.Context) []experiment.ThresholdOverride {
	if s.overrides == nil {
		return nil
	}
	overrides, err := s.overrides.GetAll(ctx)
	if err != nil {
		s.logger.Warn("threshold override load failed, using engine defaults", logger.Err(err))
		return nil
	}
	return overrides
}

// publishRun emits the run summary and per-alert creation events.
func (s *Service) publishRun(in DetectionInput, events []alert.AlertEvent, candidates int, duration time.Duration, runAt time.Time) {
	if s.publisher == nil {
		return
	}
	for _, e := range events {
		_ = s.publisher.Publish(shared.NewAlertCreatedEvent(
			e.ID, e.StudentID.String(), string(e.Kind), e.Label, string(e.Severity), e.Score, e.Confidence))
	}
	_ = s.publisher.Publish(shared.NewDetectionCompletedEvent(
		in.StudentID.String(), len(events), candidates, duration, runAt))
}

// sortEvents orders alerts by severity, then score, then ID so that a
// run's output is stable across invocations.
func sortEvents(events []alert.AlertEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Severity.Rank() != events[j].Severity.Rank() {
			return events[i].Severity.Rank() > events[j].Severity.Rank()
		}
		if events[i].Score != events[j].Score {
			return events[i].Score > events[j].Score
		}
		return events[i].ID < events[j].ID
	})
}
