// Package pipeline contains the detection orchestration layer: threshold
// application, candidate generation, aggregation and finalization. It
// wires the pure domain detectors into one deterministic run per student.
package pipeline

import (
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/experiment"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD APPLICATION
// Порядок применения фиксирован: явный базовый порог (или значение движка),
// затем обученная поправка ×(1+adjustment), затем отображение плеча
// эксперимента. Результат ниже применённого порога отбрасывается; выживший
// перенормируется относительно базового порога.
// ══════════════════════════════════════════════════════════════════════════════

// ArmAssignment is the per-run resolved experiment arm for one detector type.
type ArmAssignment struct {
	ExperimentKey string
	Variant       experiment.Variant
	Arm           experiment.Arm
}

// thresholdApplier holds the per-run threshold state: engine defaults,
// learned overrides and the student's resolved experiment arms. It is
// built once per RunDetection call and never shared between runs.
type thresholdApplier struct {
	defaults  map[detection.Type]float64
	overrides map[detection.Type]experiment.ThresholdOverride
	arms      map[detection.Type]ArmAssignment
}

func newThresholdApplier(
	overrides []experiment.ThresholdOverride,
	arms map[detection.Type]ArmAssignment,
) *thresholdApplier {
	byType := make(map[detection.Type]experiment.ThresholdOverride, len(overrides))
	for _, ov := range overrides {
		byType[ov.DetectorType] = ov
	}
	if arms == nil {
		arms = map[detection.Type]ArmAssignment{}
	}
	return &thresholdApplier{
		defaults:  detection.DefaultThresholds(),
		overrides: byType,
		arms:      arms,
	}
}

// apply resolves the effective threshold for the result's detector type,
// drops the result when its raw score falls below it, and rescales the
// surviving score against the baseline threshold so that a stricter
// threshold monotonically lowers the reported score. The derivation is
// recorded in the result's trace.
func (t *thresholdApplier) apply(r *detection.Result) *detection.Result {
	if r == nil {
		return nil
	}

	base := t.defaults[r.Type]
	adjustment := 0.0
	if ov, ok := t.overrides[r.Type]; ok {
		if ov.BaselineThreshold != nil && *ov.BaselineThreshold > 0 {
			base = *ov.BaselineThreshold
		}
		adjustment = ov.AdjustmentValue
	}

	applied := base * (1 + adjustment)
	if arm, ok := t.arms[r.Type]; ok {
		applied = arm.Arm.Map(applied)
		r.Diagnostics.ExperimentKey = arm.ExperimentKey
		r.Diagnostics.Variant = string(arm.Variant)
	}
	if applied <= 0 {
		applied = base
	}

	if r.Score < applied {
		return nil
	}

	if base > 0 && applied > 0 {
		r.Score = stats.Clamp01(r.Score * base / applied)
	}
	r.ThresholdApplied = applied
	r.Trace = &detection.ThresholdTrace{
		Adjustment:        adjustment,
		AppliedThreshold:  applied,
		BaselineThreshold: base,
	}
	return r
}

// applyAll maps apply over a batch, keeping only survivors.
func (t *thresholdApplier) applyAll(results []*detection.Result) []*detection.Result {
	out := make([]*detection.Result, 0, len(results))
	for _, r := range results {
		if survived := t.apply(r); survived != nil {
			out = append(out, survived)
		}
	}
	return out
}
