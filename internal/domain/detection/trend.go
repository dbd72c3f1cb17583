package detection

import (
	"math"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// TrendConfig configures the EWMA drift detector.
type TrendConfig struct {
	// Alpha is the EWMA smoothing factor in (0, 1].
	Alpha float64

	// MinPoints is the minimum series length.
	MinPoints int

	// FullScoreDrift is the band-relative drift mapped to score 1.0.
	FullScoreDrift float64
}

// DefaultTrendConfig returns the engine defaults.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		Alpha:          0.3,
		MinPoints:      3,
		FullScoreDrift: 3.0,
	}
}

// DetectTrend flags sustained drift of the exponentially weighted
// moving average away from a reference band. The band comes from the
// baseline median/IQR when available, otherwise it is self-derived
// from the series. Returns nil when nothing noteworthy is found.
func DetectTrend(series observation.Series, ref *baseline.RobustStats, cfg TrendConfig) *Result {
	values := series.Values()
	if len(values) < cfg.MinPoints {
		return nil
	}

	var center, halfWidth float64
	selfReference := ref == nil || ref.InsufficientData
	if !selfReference {
		center = ref.Median
		halfWidth = ref.IQR / 2
	} else {
		center = stats.Median(values)
		halfWidth = stats.IQRFromMAD(stats.MAD(values)) / 2
	}
	if halfWidth <= 0 {
		// Constant reference: fall back to the sample deviation so a
		// flat history followed by a jump still registers.
		if sd := math.Sqrt(stats.SampleVariance(values)); sd > 0 {
			halfWidth = sd
		} else {
			return nil
		}
	}

	smoothed := stats.EWMA(values, cfg.Alpha)
	last := smoothed[len(smoothed)-1]
	drift := (last - center) / halfWidth

	// Sustained run: trailing smoothed points outside the band.
	run := 0
	for i := len(smoothed) - 1; i >= 0; i-- {
		if math.Abs(smoothed[i]-center) <= halfWidth {
			break
		}
		run++
	}
	if run == 0 {
		return nil
	}

	score := stats.Clamp01(math.Abs(drift) / cfg.FullScoreDrift)
	confidence := stats.Clamp01(0.3 + 0.15*float64(run))

	impact := ImpactIncreasing
	if drift < 0 {
		impact = ImpactDecreasing
	}

	return &Result{
		Type:       TypeTrend,
		Score:      score,
		Confidence: confidence,
		Impact:     impact,
		Diagnostics: Diagnostics{Trend: &TrendDiagnostics{
			EWMA:          last,
			Center:        center,
			BandHalfWidth: halfWidth,
			Drift:         drift,
			SustainedRun:  run,
			SelfReference: selfReference,
		}},
	}
}
