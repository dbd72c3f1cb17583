package pipeline

import (
	"sort"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATION & FINALIZATION
// Итоговая оценка - взвешенная сумма четырёх компонент: максимальный вклад
// детектора (impact), максимальная уверенность, свежесть последней точки и
// категориальный вес кандидата. Разбор оценки целиком попадает в метаданные.
// ══════════════════════════════════════════════════════════════════════════════

// AggregationConfig configures scoring, severity and metadata assembly.
type AggregationConfig struct {
	// ImpactWeight, ConfidenceWeight, RecencyWeight and TierWeight are
	// the blend weights of the final score.
	ImpactWeight     float64
	ConfidenceWeight float64
	RecencyWeight    float64
	TierWeight       float64

	// RecencyHorizon is the age at which the recency component decays
	// to zero.
	RecencyHorizon time.Duration

	// SeverityCuts maps the final score onto a severity band.
	SeverityCuts alert.SeverityCuts

	// SeriesPreviewLength caps the series tail included in metadata.
	SeriesPreviewLength int
}

// DefaultAggregationConfig returns the engine defaults.
func DefaultAggregationConfig() AggregationConfig {
	return AggregationConfig{
		ImpactWeight:        0.40,
		ConfidenceWeight:    0.25,
		RecencyWeight:       0.20,
		TierWeight:          0.15,
		RecencyHorizon:      14 * 24 * time.Hour,
		SeverityCuts:        alert.DefaultSeverityCuts(),
		SeriesPreviewLength: 20,
	}
}

// aggregator finalizes candidates into alert events.
type aggregator struct {
	cfg AggregationConfig
}

// finalize turns one candidate into a ranked, deterministic alert event
// in status New.
func (a *aggregator) finalize(c *alert.Candidate, studentID observation.StudentID, runAt time.Time) alert.AlertEvent {
	impact := 0.0
	maxConfidence := 0.0
	for _, r := range c.Detectors {
		if r.Score > impact {
			impact = r.Score
		}
		if r.Confidence > maxConfidence {
			maxConfidence = r.Confidence
		}
	}

	recency := a.recency(c.LastTimestamp, runAt)

	score := stats.Clamp01(a.cfg.ImpactWeight*impact +
		a.cfg.ConfidenceWeight*maxConfidence +
		a.cfg.RecencyWeight*recency +
		a.cfg.TierWeight*c.Tier)

	sources := rankSources(c)

	metadata := map[string]any{
		"scoreBreakdown": map[string]any{
			"impact":     impact,
			"confidence": maxConfidence,
			"recency":    recency,
			"tier":       c.Tier,
			"weights": map[string]float64{
				"impact":     a.cfg.ImpactWeight,
				"confidence": a.cfg.ConfidenceWeight,
				"recency":    a.cfg.RecencyWeight,
				"tier":       a.cfg.TierWeight,
			},
		},
		"candidate":     c.Meta,
		"seriesPreview": seriesPreview(c.Series, a.cfg.SeriesPreviewLength),
	}
	if diag := detectorDiagnostics(c); len(diag) > 0 {
		metadata["detectors"] = diag
	}
	if key, variant := experimentStamp(c); key != "" {
		metadata["experiment"] = map[string]string{"key": key, "variant": variant}
	}

	return alert.AlertEvent{
		ID:            alert.ComputeID(studentID, c.Kind, c.Label, c.LastTimestamp),
		StudentID:     studentID,
		Kind:          c.Kind,
		Label:         c.Label,
		Severity:      a.cfg.SeverityCuts.SeverityFor(score),
		Score:         score,
		Confidence:    maxConfidence,
		CreatedAt:     runAt,
		LastTimestamp: c.LastTimestamp,
		Status:        alert.StatusNew,
		DedupeKey:     alert.ComputeDedupeKey(studentID, c.Kind, c.Label),
		Sources:       sources,
		Metadata:      metadata,
		Governance: &alert.Governance{
			Tier:    c.Tier,
			Recency: recency,
			RunAt:   runAt,
		},
	}
}

// recency maps the age of the last series point onto [0,1]: 1 for a
// fresh point, linearly decaying to 0 at the horizon.
func (a *aggregator) recency(last, runAt time.Time) float64 {
	if a.cfg.RecencyHorizon <= 0 {
		return 1
	}
	age := runAt.Sub(last)
	if age <= 0 {
		return 1
	}
	return stats.Clamp01(1 - age.Seconds()/a.cfg.RecencyHorizon.Seconds())
}

// rankSources orders detector contributions by score, then confidence,
// then type, and assigns 1-based ranks.
func rankSources(c *alert.Candidate) []alert.Source {
	sources := make([]alert.Source, len(c.Detectors))
	for i, r := range c.Detectors {
		sources[i] = alert.Source{
			Detector:   r.Type,
			Score:      r.Score,
			Confidence: r.Confidence,
			Impact:     r.Impact,
		}
	}
	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].Score != sources[j].Score {
			return sources[i].Score > sources[j].Score
		}
		if sources[i].Confidence != sources[j].Confidence {
			return sources[i].Confidence > sources[j].Confidence
		}
		return sources[i].Detector < sources[j].Detector
	})
	for i := range sources {
		sources[i].Rank = i + 1
	}
	return sources
}

// detectorDiagnostics collapses each detector's tagged diagnostics into
// the open metadata map, keyed by detector type.
func detectorDiagnostics(c *alert.Candidate) map[string]any {
	diag := make(map[string]any, len(c.Detectors))
	for _, r := range c.Detectors {
		entry := map[string]any{}
		switch {
		case r.Diagnostics.Trend != nil:
			entry["trend"] = r.Diagnostics.Trend
		case r.Diagnostics.Shift != nil:
			entry["shift"] = r.Diagnostics.Shift
		case r.Diagnostics.Rate != nil:
			entry["rate"] = r.Diagnostics.Rate
		case r.Diagnostics.Association != nil:
			entry["association"] = r.Diagnostics.Association
		case r.Diagnostics.Burst != nil:
			entry["burst"] = r.Diagnostics.Burst
		case r.Diagnostics.Outcome != nil:
			entry["outcome"] = r.Diagnostics.Outcome
		}
		if r.Trace != nil {
			entry["thresholdTrace"] = r.Trace
		}
		diag[string(r.Type)] = entry
	}
	return diag
}

// experimentStamp returns the experiment key/variant stamped on any of
// the candidate's detectors.
func experimentStamp(c *alert.Candidate) (key, variant string) {
	for _, r := range c.Detectors {
		if r.Diagnostics.ExperimentKey != "" {
			return r.Diagnostics.ExperimentKey, r.Diagnostics.Variant
		}
	}
	return "", ""
}

// seriesPreview summarizes the candidate's series for consumers: the
// tail values plus window statistics.
func seriesPreview(series observation.Series, maxLen int) map[string]any {
	values := series.Values()
	minV, maxV := stats.MinMax(values)

	tail := series.Truncate(maxLen)
	points := make([]map[string]any, len(tail))
	for i, p := range tail {
		points[i] = map[string]any{
			"timestamp": p.Timestamp.UTC().Format(time.RFC3339),
			"value":     p.Value,
		}
	}

	return map[string]any{
		"length":   len(series),
		"min":      minV,
		"max":      maxV,
		"mean":     stats.Mean(values),
		"variance": stats.SampleVariance(values),
		"tail":     points,
	}
}
