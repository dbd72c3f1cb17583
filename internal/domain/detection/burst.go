package detection

import (
	"math"
	"time"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// BurstConfig configures the clustered high-intensity burst detector.
type BurstConfig struct {
	// HighIntensity is the minimum value for an event to count.
	HighIntensity float64

	// ClusterGap is the maximum spacing between consecutive events of
	// one cluster.
	ClusterGap time.Duration

	// MinClusterSize is the minimum number of events per cluster.
	MinClusterSize int

	// PairTolerance is the window around a primary event in which a
	// secondary-channel point is considered paired.
	PairTolerance time.Duration

	// FullScoreSize is the cluster size mapped to score 1.0.
	FullScoreSize int
}

// DefaultBurstConfig returns the engine defaults.
func DefaultBurstConfig() BurstConfig {
	return BurstConfig{
		HighIntensity:  observation.HighIntensityThreshold,
		ClusterGap:     30 * time.Minute,
		MinClusterSize: 3,
		PairTolerance:  time.Minute,
		FullScoreSize:  6,
	}
}

// DetectBurst flags clusters of high-intensity events within short
// windows on the primary channel, pairing each event with nearby
// secondary-channel intensity (±PairTolerance) for a paired severity
// signal. Returns nil when no qualifying cluster exists.
func DetectBurst(primary, secondary observation.Series, cfg BurstConfig) *Result {
	events := make(observation.Series, 0, len(primary))
	for _, p := range primary {
		if p.Value >= cfg.HighIntensity {
			events = append(events, p)
		}
	}
	if len(events) < cfg.MinClusterSize {
		return nil
	}

	// Largest cluster of events spaced at most ClusterGap apart.
	bestStart, bestEnd := 0, 0
	start := 0
	for i := 1; i <= len(events); i++ {
		if i < len(events) && events[i].Timestamp.Sub(events[i-1].Timestamp) <= cfg.ClusterGap {
			continue
		}
		if i-start > bestEnd-bestStart {
			bestStart, bestEnd = start, i
		}
		start = i
	}
	cluster := events[bestStart:bestEnd]
	if len(cluster) < cfg.MinClusterSize {
		return nil
	}

	peak := 0.0
	for _, p := range cluster {
		peak = math.Max(peak, p.Value)
	}

	// Paired severity: secondary-channel intensity near cluster events.
	var pairedSum float64
	var pairedCount int
	for _, p := range cluster {
		for _, s := range secondary {
			d := s.Timestamp.Sub(p.Timestamp)
			if d < 0 {
				d = -d
			}
			if d <= cfg.PairTolerance {
				pairedSum += s.Value
				pairedCount++
			}
		}
	}
	pairedMean := 0.0
	if pairedCount > 0 {
		pairedMean = pairedSum / float64(pairedCount)
	}

	span := cluster[len(cluster)-1].Timestamp.Sub(cluster[0].Timestamp)

	score := stats.Clamp01(float64(len(cluster)) / float64(cfg.FullScoreSize))
	confidence := stats.Clamp01(0.4 + 0.05*float64(len(cluster)))
	if pairedCount > 0 {
		confidence = stats.Clamp01(confidence + 0.1*math.Min(1, pairedMean/10))
	}

	return &Result{
		Type:       TypeBurst,
		Score:      score,
		Confidence: confidence,
		Impact:     ImpactWorsening,
		Diagnostics: Diagnostics{Burst: &BurstDiagnostics{
			ClusterSize:     len(cluster),
			ClusterSpanSecs: span.Seconds(),
			PeakIntensity:   peak,
			PairedIntensity: pairedMean,
			PairedCount:     pairedCount,
		}},
	}
}
