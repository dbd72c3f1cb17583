package detection

import (
	"math"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// RateConfig configures the Beta-Binomial frequency detector.
type RateConfig struct {
	// MinTrials is the minimum number of trials in the observation
	// window.
	MinTrials int

	// DeltaLower and DeltaUpper bound the adaptive minimum meaningful
	// change in rate.
	DeltaLower float64
	DeltaUpper float64
}

// DefaultRateConfig returns the engine defaults.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		MinTrials:  3,
		DeltaLower: 0.05,
		DeltaUpper: 0.2,
	}
}

// RateInput carries the observed counts and the baseline prior for one
// behavior.
type RateInput struct {
	// Successes and Trials describe the observation window.
	Successes int
	Trials    int

	// Baseline is the behavior's baseline posterior; nil means no
	// informative prior (Jeffreys only).
	Baseline *baseline.BehaviorPosterior
}

// DetectRate measures the posterior shift of a behavior's frequency
// against its baseline rate. The minimum meaningful change delta is
// derived from the baseline uncertainty and bounded to
// [DeltaLower, DeltaUpper]. Returns nil when the shift is below delta.
func DetectRate(in RateInput, cfg RateConfig) *Result {
	if in.Trials < cfg.MinTrials {
		return nil
	}

	post := stats.NewJeffreysPosterior(in.Successes, in.Trials)
	postMean := post.Mean()
	postVar := post.Variance()

	baselineRate := 0.5
	baselineVar := 1.0 / 12 // variance of the uniform prior
	if in.Baseline != nil && !in.Baseline.InsufficientData {
		baselineRate = in.Baseline.Mean
		baselineVar = in.Baseline.Variance
	}

	// Adaptive delta: twice the baseline posterior deviation, bounded.
	delta := 2 * math.Sqrt(baselineVar)
	if delta < cfg.DeltaLower {
		delta = cfg.DeltaLower
	}
	if delta > cfg.DeltaUpper {
		delta = cfg.DeltaUpper
	}

	diff := postMean - baselineRate
	if math.Abs(diff) < delta {
		return nil
	}

	z := 0.0
	if sd := math.Sqrt(postVar + baselineVar); sd > 0 {
		z = diff / sd
	}

	score := stats.Clamp01(math.Abs(diff) / 0.5)
	confidence := stats.Clamp01(math.Abs(z) / 4)

	impact := ImpactIncreasing
	if diff < 0 {
		impact = ImpactDecreasing
	}

	return &Result{
		Type:       TypeRate,
		Score:      score,
		Confidence: confidence,
		Impact:     impact,
		Diagnostics: Diagnostics{Rate: &RateDiagnostics{
			PosteriorMean: postMean,
			BaselineRate:  baselineRate,
			Delta:         delta,
			Trials:        in.Trials,
			Successes:     in.Successes,
			ZScore:        z,
		}},
	}
}
