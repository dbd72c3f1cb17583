// Package detection contains the pure statistical detectors of the
// pipeline. Every detector maps a numeric series (plus an optional
// baseline snapshot) to a bounded score/confidence result and never
// performs I/O. This is a pure domain layer with zero external
// dependencies.
package detection

// Type identifies a detector kind.
type Type string

const (
	// TypeTrend - EWMA drift detector.
	TypeTrend Type = "trend"

	// TypeShift - CUSUM level-shift detector.
	TypeShift Type = "shift"

	// TypeRate - Beta-Binomial behavior-frequency detector.
	TypeRate Type = "rate"

	// TypeAssociation - 2x2 contingency association detector.
	TypeAssociation Type = "association"

	// TypeBurst - clustered high-intensity burst detector.
	TypeBurst Type = "burst"

	// TypeOutcome - intervention-outcome (non-overlap) detector.
	TypeOutcome Type = "intervention_outcome"
)

// IsValid reports whether the type is a known detector kind.
func (t Type) IsValid() bool {
	switch t {
	case TypeTrend, TypeShift, TypeRate, TypeAssociation, TypeBurst, TypeOutcome:
		return true
	default:
		return false
	}
}

// AllTypes returns every known detector type.
func AllTypes() []Type {
	return []Type{TypeTrend, TypeShift, TypeRate, TypeAssociation, TypeBurst, TypeOutcome}
}

// DefaultThresholds returns the hardcoded per-type engine defaults used
// when neither an explicit override nor a learned adjustment exists.
func DefaultThresholds() map[Type]float64 {
	return map[Type]float64{
		TypeTrend:       0.30,
		TypeShift:       0.35,
		TypeRate:        0.40,
		TypeAssociation: 0.35,
		TypeBurst:       0.40,
		TypeOutcome:     0.30,
	}
}

// ThresholdTrace records how the applied threshold was derived.
type ThresholdTrace struct {
	// Adjustment is the signed learner fraction applied to the
	// baseline threshold (0 when no override exists).
	Adjustment float64 `json:"adjustment"`

	// AppliedThreshold is the final threshold after the experiment
	// mapping.
	AppliedThreshold float64 `json:"appliedThreshold"`

	// BaselineThreshold is the pre-adjustment threshold.
	BaselineThreshold float64 `json:"baselineThreshold"`
}

// Diagnostics is a tagged union of detector-specific payloads. Exactly
// one detector block is set per result; the union collapses to an open
// key-value map only at the alert metadata boundary.
type Diagnostics struct {
	Trend       *TrendDiagnostics       `json:"trend,omitempty"`
	Shift       *ShiftDiagnostics       `json:"shift,omitempty"`
	Rate        *RateDiagnostics        `json:"rate,omitempty"`
	Association *AssociationDiagnostics `json:"association,omitempty"`
	Burst       *BurstDiagnostics       `json:"burst,omitempty"`
	Outcome     *OutcomeDiagnostics     `json:"outcome,omitempty"`

	// ExperimentKey and Variant are stamped during threshold
	// application.
	ExperimentKey string `json:"experimentKey,omitempty"`
	Variant       string `json:"variant,omitempty"`
}

// TrendDiagnostics describes an EWMA drift finding.
type TrendDiagnostics struct {
	EWMA          float64 `json:"ewma"`
	Center        float64 `json:"center"`
	BandHalfWidth float64 `json:"bandHalfWidth"`
	Drift         float64 `json:"drift"`
	SustainedRun  int     `json:"sustainedRun"`
	SelfReference bool    `json:"selfReference"`
}

// ShiftDiagnostics describes a CUSUM level-shift finding.
type ShiftDiagnostics struct {
	CusumPositive    float64 `json:"cusumPositive"`
	CusumNegative    float64 `json:"cusumNegative"`
	Sigma            float64 `json:"sigma"`
	DecisionInterval float64 `json:"decisionInterval"`
	Reference        float64 `json:"reference"`
}

// RateDiagnostics describes a Beta-Binomial rate finding.
type RateDiagnostics struct {
	PosteriorMean float64 `json:"posteriorMean"`
	BaselineRate  float64 `json:"baselineRate"`
	Delta         float64 `json:"delta"`
	Trials        int     `json:"trials"`
	Successes     int     `json:"successes"`
	ZScore        float64 `json:"zScore"`
}

// AssociationDiagnostics describes a contingency association finding.
type AssociationDiagnostics struct {
	Phi         float64 `json:"phi"`
	Support     int     `json:"support"`
	Correlation float64 `json:"correlation"`
	A           int     `json:"a"`
	B           int     `json:"b"`
	C           int     `json:"c"`
	D           int     `json:"d"`
}

// BurstDiagnostics describes a clustered high-intensity finding.
type BurstDiagnostics struct {
	ClusterSize     int     `json:"clusterSize"`
	ClusterSpanSecs float64 `json:"clusterSpanSecs"`
	PeakIntensity   float64 `json:"peakIntensity"`
	PairedIntensity float64 `json:"pairedIntensity"`
	PairedCount     int     `json:"pairedCount"`
}

// OutcomeDiagnostics describes an intervention-outcome finding.
type OutcomeDiagnostics struct {
	EffectSize     float64 `json:"effectSize"`
	PhaseALength   int     `json:"phaseALength"`
	PhaseBLength   int     `json:"phaseBLength"`
	InterventionID string  `json:"interventionId"`
	GoalID         string  `json:"goalId,omitempty"`
}

// ImpactHint categorizes the direction of a finding for consumers.
type ImpactHint string

const (
	ImpactIncreasing ImpactHint = "increasing"
	ImpactDecreasing ImpactHint = "decreasing"
	ImpactImproving  ImpactHint = "improving"
	ImpactWorsening  ImpactHint = "worsening"
)

// Result is the bounded outcome of a single detector run.
type Result struct {
	// Type - which detector produced the result.
	Type Type

	// Score in [0, 1]; out-of-range results are treated as absent.
	Score float64

	// Confidence in [0, 1]; out-of-range results are treated as absent.
	Confidence float64

	// ThresholdApplied is the threshold the score was scaled against
	// (filled in during threshold application).
	ThresholdApplied float64

	// Impact is an optional direction hint.
	Impact ImpactHint

	// Diagnostics holds the detector-specific payload.
	Diagnostics Diagnostics

	// Sources lists the record ids contributing to the finding.
	Sources []string

	// Trace records threshold derivation (filled in during threshold
	// application).
	Trace *ThresholdTrace
}

// IsValid reports whether the result may participate in a candidate.
// A nil result or an out-of-range score/confidence silently drops the
// detector.
func (r *Result) IsValid() bool {
	if r == nil {
		return false
	}
	if r.Score < 0 || r.Score > 1 {
		return false
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return false
	}
	return r.Type.IsValid()
}
