package pipeline

import (
	"sort"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CANDIDATE GENERATOR
// Пять категорий кандидатов. Категориальный вес (tier) отражает априорную
// значимость: согласие двух детекторов по эмоциональному ряду весит 1.0,
// одиночные детекторы - 0.85-0.9. Паника любого детектора изолируется и
// роняет только его результат, не запуск.
// ══════════════════════════════════════════════════════════════════════════════

const (
	tierEmotionAgreement = 1.0
	tierEmotionSingle    = 0.9
	tierRateShift        = 0.9
	tierAssociation      = 0.85
	tierBurst            = 0.9
	tierOutcome          = 0.9
)

// DetectorConfig bundles the per-detector engine configurations.
type DetectorConfig struct {
	Trend       detection.TrendConfig
	Shift       detection.ShiftConfig
	Rate        detection.RateConfig
	Association detection.AssociationConfig
	Burst       detection.BurstConfig
	Outcome     detection.OutcomeConfig
}

// DefaultDetectorConfig returns the engine defaults for every detector.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Trend:       detection.DefaultTrendConfig(),
		Shift:       detection.DefaultShiftConfig(),
		Rate:        detection.DefaultRateConfig(),
		Association: detection.DefaultAssociationConfig(),
		Burst:       detection.DefaultBurstConfig(),
		Outcome:     detection.DefaultOutcomeConfig(),
	}
}

// generator builds candidates for one run. It is transient state: a new
// generator is created per RunDetection call.
type generator struct {
	applier *thresholdApplier
	cfg     DetectorConfig
	effect  detection.EffectSizeFunc
	logger  *logger.Logger

	panics int
}

// safe runs one detector, converting a panic into an absent result.
func (g *generator) safe(name string, fn func() *detection.Result) (r *detection.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			g.panics++
			r = nil
			g.logger.Error("detector panicked",
				logger.String("detector", name),
				logger.Any("panic", rec))
		}
	}()
	return fn()
}

// generate produces all candidates for the input, with thresholds
// already applied. Iteration order is deterministic.
func (g *generator) generate(in DetectionInput, bl *baseline.StudentBaseline) []*alert.Candidate {
	emotions := validEmotions(in.Emotions)
	sensory := validSensory(in.Sensory)

	candidates := make([]*alert.Candidate, 0, 8)
	candidates = append(candidates, g.emotionCandidates(emotions, bl)...)
	candidates = append(candidates, g.rateCandidates(sensory, in.Sessions, bl)...)
	candidates = append(candidates, g.associationCandidates(emotions, bl)...)
	if c := g.burstCandidate(emotions, sensory); c != nil {
		candidates = append(candidates, c)
	}
	candidates = append(candidates, g.outcomeCandidates(in, emotions, sensory)...)
	return candidates
}

// ─── behavior_spike ───────────────────────────────────────────────────────────

// emotionCandidates runs the trend and shift detectors per emotion
// category. When both agree the candidate carries full tier weight.
func (g *generator) emotionCandidates(emotions []observation.EmotionObservation, bl *baseline.StudentBaseline) []*alert.Candidate {
	byCategory := make(map[observation.EmotionCategory][]observation.EmotionObservation)
	for _, e := range emotions {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	out := make([]*alert.Candidate, 0, len(byCategory))
	for _, category := range sortedEmotionKeys(byCategory) {
		group := byCategory[category]
		series := emotionSeries(group)
		sources := emotionIDs(group)

		var ref *baseline.RobustStats
		if s, ok := bl.EmotionStats(category); ok {
			ref = &s
		}

		trendResult := g.safe("trend", func() *detection.Result {
			return detection.DetectTrend(series, ref, g.cfg.Trend)
		})
		shiftResult := g.safe("shift", func() *detection.Result {
			return detection.DetectShift(series, ref, g.cfg.Shift)
		})
		attachSources(sources, trendResult, shiftResult)

		survived := g.applier.applyAll([]*detection.Result{trendResult, shiftResult})
		tier := tierEmotionSingle
		if len(survived) >= 2 {
			tier = tierEmotionAgreement
		}

		if c := alert.NewCandidate(alert.KindBehaviorSpike, string(category), tier, series, survived); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// ─── sensory_rate_shift ───────────────────────────────────────────────────────

// rateCandidates runs the Beta-Binomial frequency detector per sensory
// behavior. Trials are session-keyed when composite sessions exist,
// otherwise day-keyed; a trial succeeds when it contains at least one
// high-intensity record of the behavior.
func (g *generator) rateCandidates(
	sensory []observation.SensoryObservation,
	sessions []observation.TrackingSession,
	bl *baseline.StudentBaseline,
) []*alert.Candidate {
	byBehavior := make(map[observation.SensoryBehavior][]observation.SensoryObservation)
	for _, s := range sensory {
		byBehavior[s.Behavior] = append(byBehavior[s.Behavior], s)
	}

	out := make([]*alert.Candidate, 0, len(byBehavior))
	for _, behavior := range sortedBehaviorKeys(byBehavior) {
		group := byBehavior[behavior]
		successes, trials := behaviorTrials(group, sessions)

		var ref *baseline.BehaviorPosterior
		if p, ok := bl.BehaviorRate(behavior); ok {
			ref = &p
		}

		result := g.safe("rate", func() *detection.Result {
			return detection.DetectRate(detection.RateInput{
				Successes: successes,
				Trials:    trials,
				Baseline:  ref,
			}, g.cfg.Rate)
		})
		attachSources(sensoryIDs(group), result)

		survived := g.applier.applyAll([]*detection.Result{result})
		series := sensorySeries(group)
		if c := alert.NewCandidate(alert.KindSensoryRateShift, string(behavior), tierRateShift, series, survived); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// behaviorTrials counts trials and successes for one behavior. The key
// is the session id when present, otherwise the UTC calendar date.
func behaviorTrials(group []observation.SensoryObservation, sessions []observation.TrackingSession) (successes, trials int) {
	hit := make(map[string]bool)

	if len(sessions) > 0 {
		for _, s := range sessions {
			hit[s.ID] = false
		}
		for _, o := range group {
			if o.SessionID == "" {
				continue
			}
			if _, known := hit[o.SessionID]; !known {
				hit[o.SessionID] = false
			}
			if o.Intensity.IsHigh() {
				hit[o.SessionID] = true
			}
		}
	} else {
		for _, o := range group {
			key := o.Timestamp.UTC().Format("2006-01-02")
			if o.Intensity.IsHigh() {
				hit[key] = true
			} else if _, known := hit[key]; !known {
				hit[key] = false
			}
		}
	}

	for _, high := range hit {
		trials++
		if high {
			successes++
		}
	}
	return successes, trials
}

// ─── context_association ──────────────────────────────────────────────────────

// associationCandidates builds one 2x2 contingency table per
// environmental factor over the emotion records that measured it. The
// condition cut is the factor's baseline median when available,
// otherwise the median of the window itself.
func (g *generator) associationCandidates(emotions []observation.EmotionObservation, bl *baseline.StudentBaseline) []*alert.Candidate {
	type entry struct {
		value     float64
		intensity float64
		high      bool
		id        string
		ts        time.Time
	}
	byFactor := make(map[observation.EnvironmentalFactor][]entry)
	for _, e := range emotions {
		for factor, value := range e.Environment {
			byFactor[factor] = append(byFactor[factor], entry{
				value:     value,
				intensity: float64(e.Intensity),
				high:      e.Intensity.IsHigh(),
				id:        e.ID,
				ts:        e.Timestamp,
			})
		}
	}

	factors := make([]observation.EnvironmentalFactor, 0, len(byFactor))
	for f := range byFactor {
		factors = append(factors, f)
	}
	sort.Slice(factors, func(i, j int) bool { return factors[i] < factors[j] })

	out := make([]*alert.Candidate, 0, len(byFactor))
	for _, factor := range factors {
		entries := byFactor[factor]

		values := make([]float64, len(entries))
		intensities := make([]float64, len(entries))
		for i, e := range entries {
			values[i] = e.value
			intensities[i] = e.intensity
		}

		cut := stats.Median(values)
		if s, ok := bl.EnvironmentStats(factor); ok {
			cut = s.Median
		}

		var table detection.Contingency
		sources := make([]string, 0, len(entries))
		points := make([]observation.TrendPoint, 0, len(entries))
		for _, e := range entries {
			condition := e.value >= cut
			switch {
			case condition && e.high:
				table.A++
			case condition && !e.high:
				table.B++
			case !condition && e.high:
				table.C++
			default:
				table.D++
			}
			sources = append(sources, e.id)
			points = append(points, observation.TrendPoint{Timestamp: e.ts, Value: e.intensity})
		}

		result := g.safe("association", func() *detection.Result {
			return detection.DetectAssociation(detection.AssociationInput{
				Table:       table,
				FactorSerie: values,
				Intensities: intensities,
			}, g.cfg.Association)
		})
		attachSources(sources, result)

		survived := g.applier.applyAll([]*detection.Result{result})
		series := observation.NewSeries(points)
		if c := alert.NewCandidate(alert.KindContextAssociation, string(factor), tierAssociation, series, survived); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// ─── intensity_burst ──────────────────────────────────────────────────────────

// burstCandidate runs the clustered high-intensity detector over the
// merged emotion channel, pairing it with the sensory channel. The
// label is the dominant high-intensity emotion category.
func (g *generator) burstCandidate(emotions []observation.EmotionObservation, sensory []observation.SensoryObservation) *alert.Candidate {
	if len(emotions) == 0 {
		return nil
	}

	primary := emotionSeries(emotions)
	secondary := sensorySeries(sensory)

	result := g.safe("burst", func() *detection.Result {
		return detection.DetectBurst(primary, secondary, g.cfg.Burst)
	})
	if result == nil {
		return nil
	}

	sources := make([]string, 0, len(emotions))
	counts := make(map[observation.EmotionCategory]int)
	for _, e := range emotions {
		if e.Intensity.IsHigh() {
			sources = append(sources, e.ID)
			counts[e.Category]++
		}
	}
	attachSources(sources, result)

	label := "overall"
	best := 0
	for _, category := range sortedCountKeys(counts) {
		if counts[category] > best {
			best = counts[category]
			label = string(category)
		}
	}

	survived := g.applier.applyAll([]*detection.Result{result})
	return alert.NewCandidate(alert.KindIntensityBurst, label, tierBurst, primary, survived)
}

// ─── intervention_outcome ─────────────────────────────────────────────────────

// outcomeCandidates evaluates each intervention against its goal's
// metric series. Without an injected effect-size capability the
// category is never produced.
func (g *generator) outcomeCandidates(
	in DetectionInput,
	emotions []observation.EmotionObservation,
	sensory []observation.SensoryObservation,
) []*alert.Candidate {
	if g.effect == nil || len(in.Interventions) == 0 {
		return nil
	}

	goals := make(map[string]observation.Goal, len(in.Goals))
	for _, goal := range in.Goals {
		goals[goal.ID] = goal
	}

	out := make([]*alert.Candidate, 0, len(in.Interventions))
	for _, intervention := range in.Interventions {
		goal, ok := goals[intervention.GoalID]
		if !ok {
			continue
		}

		series := metricSeries(goal.MetricCategory, emotions, sensory)
		if len(series) == 0 {
			continue
		}

		iv := intervention
		result := g.safe("intervention_outcome", func() *detection.Result {
			return detection.DetectOutcome(iv, goal, series, g.effect, g.cfg.Outcome)
		})

		survived := g.applier.applyAll([]*detection.Result{result})
		if c := alert.NewCandidate(alert.KindInterventionOutcome, intervention.Name, tierOutcome, series, survived); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// metricSeries collects the points of a goal's metric category from
// either channel.
func metricSeries(metric string, emotions []observation.EmotionObservation, sensory []observation.SensoryObservation) observation.Series {
	points := make([]observation.TrendPoint, 0)
	for _, e := range emotions {
		if string(e.Category) == metric {
			points = append(points, observation.TrendPoint{Timestamp: e.Timestamp, Value: float64(e.Intensity)})
		}
	}
	for _, s := range sensory {
		if string(s.Behavior) == metric {
			points = append(points, observation.TrendPoint{Timestamp: s.Timestamp, Value: float64(s.Intensity)})
		}
	}
	return observation.NewSeries(points)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// validEmotions drops malformed records without failing the run.
func validEmotions(in []observation.EmotionObservation) []observation.EmotionObservation {
	out := make([]observation.EmotionObservation, 0, len(in))
	for _, o := range in {
		if observation.ValidateEmotion(o) == nil {
			out = append(out, o)
		}
	}
	return out
}

// validSensory drops malformed records without failing the run.
func validSensory(in []observation.SensoryObservation) []observation.SensoryObservation {
	out := make([]observation.SensoryObservation, 0, len(in))
	for _, o := range in {
		if observation.ValidateSensory(o) == nil {
			out = append(out, o)
		}
	}
	return out
}

func emotionSeries(group []observation.EmotionObservation) observation.Series {
	points := make([]observation.TrendPoint, len(group))
	for i, e := range group {
		points[i] = observation.TrendPoint{Timestamp: e.Timestamp, Value: float64(e.Intensity)}
	}
	return observation.NewSeries(points)
}

func sensorySeries(group []observation.SensoryObservation) observation.Series {
	points := make([]observation.TrendPoint, len(group))
	for i, s := range group {
		points[i] = observation.TrendPoint{Timestamp: s.Timestamp, Value: float64(s.Intensity)}
	}
	return observation.NewSeries(points)
}

func emotionIDs(group []observation.EmotionObservation) []string {
	ids := make([]string, len(group))
	for i, e := range group {
		ids[i] = e.ID
	}
	return ids
}

func sensoryIDs(group []observation.SensoryObservation) []string {
	ids := make([]string, len(group))
	for i, s := range group {
		ids[i] = s.ID
	}
	return ids
}

// attachSources fills in the contributing record ids on results that
// did not set their own.
func attachSources(ids []string, results ...*detection.Result) {
	for _, r := range results {
		if r != nil && len(r.Sources) == 0 {
			r.Sources = ids
		}
	}
}

func sortedEmotionKeys(m map[observation.EmotionCategory][]observation.EmotionObservation) []observation.EmotionCategory {
	keys := make([]observation.EmotionCategory, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedBehaviorKeys(m map[observation.SensoryBehavior][]observation.SensoryObservation) []observation.SensoryBehavior {
	keys := make([]observation.SensoryBehavior, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedCountKeys(m map[observation.EmotionCategory]int) []observation.EmotionCategory {
	keys := make([]observation.EmotionCategory, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
