package experiment

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
)

func TestLearnFromScratch(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	// A dismissal raises the threshold adjustment.
	o := Learn(nil, detection.TypeTrend, FeedbackDismissed, at)
	assert.Equal(t, detection.TypeTrend, o.DetectorType)
	assert.InDelta(t, 0.05, o.AdjustmentValue, 1e-9)
	assert.InDelta(t, 0.05, o.ConfidenceLevel, 1e-9)
	assert.Equal(t, at, o.LastUpdatedAt)

	// A confirmation lowers it, with a smaller step.
	o = Learn(nil, detection.TypeTrend, FeedbackConfirmed, at)
	assert.InDelta(t, -0.025, o.AdjustmentValue, 1e-9)
}

func TestLearnDampensWithConfidence(t *testing.T) {
	at := time.Now()
	prev := &ThresholdOverride{
		DetectorType:    detection.TypeRate,
		AdjustmentValue: 0.1,
		ConfidenceLevel: 0.8,
	}
	o := Learn(prev, detection.TypeRate, FeedbackDismissed, at)
	// Step shrinks as confidence grows: 0.05 * (1 - 0.4) = 0.03.
	assert.InDelta(t, 0.13, o.AdjustmentValue, 1e-9)
	assert.InDelta(t, 0.85, o.ConfidenceLevel, 1e-9)
}

func TestLearnBounds(t *testing.T) {
	at := time.Now()

	// Repeated dismissals never push past +0.5.
	var o ThresholdOverride
	prev := (*ThresholdOverride)(nil)
	for i := 0; i < 100; i++ {
		o = Learn(prev, detection.TypeBurst, FeedbackDismissed, at)
		prev = &o
	}
	assert.LessOrEqual(t, o.AdjustmentValue, 0.5)
	assert.InDelta(t, 1.0, o.ConfidenceLevel, 1e-9)

	// And confirmations never push past -0.5.
	prev = nil
	for i := 0; i < 200; i++ {
		o = Learn(prev, detection.TypeBurst, FeedbackConfirmed, at)
		prev = &o
	}
	assert.GreaterOrEqual(t, o.AdjustmentValue, -0.5)
}

func TestLearnUnknownOutcomeIsNoop(t *testing.T) {
	prev := &ThresholdOverride{DetectorType: detection.TypeShift, AdjustmentValue: 0.2, ConfidenceLevel: 0.3}
	o := Learn(prev, detection.TypeShift, "shrug", time.Now())
	assert.Equal(t, *prev, o)
}

func TestArmMap(t *testing.T) {
	assert.InDelta(t, 0.3, Arm{Name: VariantControl, Scale: 1.0}.Map(0.3), 1e-9)
	assert.InDelta(t, 0.255, Arm{Name: VariantRelaxed, Scale: 0.85}.Map(0.3), 1e-9)
	assert.InDelta(t, 0.345, Arm{Name: VariantStrict, Scale: 1.15}.Map(0.3), 1e-9)

	fixed := 0.42
	assert.Equal(t, 0.42, Arm{Name: VariantStrict, Fixed: &fixed}.Map(0.3))

	// Non-positive scale passes the value through.
	assert.Equal(t, 0.3, Arm{Name: VariantControl}.Map(0.3))
}

func TestDefinitionArmLookup(t *testing.T) {
	d := DefaultDefinitions()[0]
	assert.Equal(t, VariantRelaxed, d.Arm(VariantRelaxed).Name)
	// Unknown variants fall back to the control arm.
	assert.Equal(t, VariantControl, d.Arm("mystery").Name)
}

func TestDefaultDefinitionsCoverAllDetectors(t *testing.T) {
	defs := DefaultDefinitions()
	require.Len(t, defs, len(detection.AllTypes()))

	seen := make(map[detection.Type]bool)
	for _, d := range defs {
		seen[d.DetectorType] = true
		require.NotEmpty(t, d.Arms)
		assert.Equal(t, VariantControl, d.Arms[0].Name)
	}
	for _, typ := range detection.AllTypes() {
		assert.True(t, seen[typ])
	}
}

func TestPickVariantDeterministic(t *testing.T) {
	d := DefaultDefinitions()[0]

	v1 := d.PickVariant("student-1")
	v2 := d.PickVariant("student-1")
	assert.Equal(t, v1, v2)

	// The hash spreads students across arms: with enough students all
	// arms appear.
	counts := make(map[Variant]int)
	for i := 0; i < 100; i++ {
		counts[d.PickVariant(observation.StudentID(fmt.Sprintf("student-%d", i)))]++
	}
	assert.Len(t, counts, len(d.Arms))
}
