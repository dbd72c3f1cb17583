package detection

import (
	"math"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// ShiftConfig configures the CUSUM level-shift detector.
type ShiftConfig struct {
	// KFactor is the drift slack in sigma units (reference value k).
	KFactor float64

	// DecisionInterval is the decision threshold h in sigma units.
	DecisionInterval float64

	// MinPoints is the minimum series length.
	MinPoints int
}

// DefaultShiftConfig returns the engine defaults (k = 0.5σ, h = 5σ).
func DefaultShiftConfig() ShiftConfig {
	return ShiftConfig{
		KFactor:          0.5,
		DecisionInterval: 5.0,
		MinPoints:        4,
	}
}

// DetectShift runs a two-sided CUSUM over the series and flags an
// abrupt level shift. The reference level and sigma come from the
// baseline when available, otherwise from the series itself. Returns
// nil when the cumulative sums stay well below the decision interval.
func DetectShift(series observation.Series, ref *baseline.RobustStats, cfg ShiftConfig) *Result {
	values := series.Values()
	if len(values) < cfg.MinPoints {
		return nil
	}

	var center, sigma float64
	if ref != nil && !ref.InsufficientData {
		center = ref.Median
		sigma = ref.IQR / 1.349
	} else {
		center = stats.Median(values)
		sigma = stats.RobustSigma(stats.MAD(values))
	}
	if sigma <= 0 {
		// Degenerate spread (constant history): use the sample
		// deviation so step changes remain detectable.
		sigma = math.Sqrt(stats.SampleVariance(values))
	}
	if sigma <= 0 {
		return nil
	}

	k := cfg.KFactor * sigma
	h := cfg.DecisionInterval * sigma

	var sPos, sNeg, maxPos, maxNeg float64
	for _, v := range values {
		sPos = math.Max(0, sPos+v-center-k)
		sNeg = math.Max(0, sNeg+center-v-k)
		maxPos = math.Max(maxPos, sPos)
		maxNeg = math.Max(maxNeg, sNeg)
	}

	peak := math.Max(maxPos, maxNeg)
	if peak == 0 {
		return nil
	}

	// Crossing the decision interval maps to score 0.5; twice the
	// interval saturates at 1.0.
	score := stats.Clamp01(peak / (2 * h))
	confidence := stats.Clamp01(0.25 + 0.05*float64(len(values)))
	if peak >= h {
		confidence = stats.Clamp01(confidence + 0.2)
	}

	impact := ImpactIncreasing
	if maxNeg > maxPos {
		impact = ImpactDecreasing
	}

	return &Result{
		Type:       TypeShift,
		Score:      score,
		Confidence: confidence,
		Impact:     impact,
		Diagnostics: Diagnostics{Shift: &ShiftDiagnostics{
			CusumPositive:    maxPos,
			CusumNegative:    maxNeg,
			Sigma:            sigma,
			DecisionInterval: h,
			Reference:        center,
		}},
	}
}
