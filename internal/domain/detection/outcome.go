package detection

import (
	"math"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// EffectSizeFunc computes a non-overlap effect size between the
// baseline phase A and the treatment phase B of an intervention. It is
// an injected capability: when the orchestrator has none, the
// intervention-outcome candidate category is simply never produced.
type EffectSizeFunc func(phaseA, phaseB []float64) float64

// OutcomeConfig configures the intervention-outcome detector.
type OutcomeConfig struct {
	// MinEffectSize below which findings are discarded.
	MinEffectSize float64

	// MinPhasePoints is the minimum length of each phase.
	MinPhasePoints int

	// FullConfidencePhase is the per-phase length mapped to full
	// confidence.
	FullConfidencePhase int
}

// DefaultOutcomeConfig returns the engine defaults.
func DefaultOutcomeConfig() OutcomeConfig {
	return OutcomeConfig{
		MinEffectSize:       0.2,
		MinPhasePoints:      3,
		FullConfidencePhase: 8,
	}
}

// DetectOutcome evaluates the effect of an intervention linked to a
// goal by comparing the metric series before and after its start.
// Effect sizes with |ES| < MinEffectSize are discarded.
func DetectOutcome(
	intervention observation.Intervention,
	goal observation.Goal,
	series observation.Series,
	effectSize EffectSizeFunc,
	cfg OutcomeConfig,
) *Result {
	if effectSize == nil {
		return nil
	}

	phaseA, phaseB := intervention.SplitPhases(series)
	if len(phaseA) < cfg.MinPhasePoints || len(phaseB) < cfg.MinPhasePoints {
		return nil
	}

	es := effectSize(phaseA.Values(), phaseB.Values())
	if math.Abs(es) < cfg.MinEffectSize {
		return nil
	}

	shorter := math.Min(float64(len(phaseA)), float64(len(phaseB)))
	confidence := stats.Clamp01(shorter / float64(cfg.FullConfidencePhase))

	// Lower intensity after the intervention start means improvement.
	impact := ImpactWorsening
	if es < 0 {
		impact = ImpactImproving
	}

	return &Result{
		Type:       TypeOutcome,
		Score:      stats.Clamp01(math.Abs(es)),
		Confidence: confidence,
		Impact:     impact,
		Sources:    []string{intervention.ID},
		Diagnostics: Diagnostics{Outcome: &OutcomeDiagnostics{
			EffectSize:     es,
			PhaseALength:   len(phaseA),
			PhaseBLength:   len(phaseB),
			InterventionID: intervention.ID,
			GoalID:         goal.ID,
		}},
	}
}
