package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/baseline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/experiment"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/observation"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeBaselineRepo struct {
	byStudent map[observation.StudentID]*baseline.StudentBaseline
	err       error
}

func (f *fakeBaselineRepo) Get(_ context.Context, id observation.StudentID) (*baseline.StudentBaseline, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.byStudent[id]; ok {
		return b, nil
	}
	return nil, baseline.ErrBaselineNotFound
}

func (f *fakeBaselineRepo) Save(_ context.Context, b *baseline.StudentBaseline) error {
	if f.byStudent == nil {
		f.byStudent = map[observation.StudentID]*baseline.StudentBaseline{}
	}
	f.byStudent[b.StudentID] = b
	return nil
}

type fakeOverrideRepo struct {
	overrides []experiment.ThresholdOverride
	err       error
}

func (f *fakeOverrideRepo) Get(_ context.Context, t detection.Type) (*experiment.ThresholdOverride, error) {
	for i := range f.overrides {
		if f.overrides[i].DetectorType == t {
			return &f.overrides[i], nil
		}
	}
	return nil, experiment.ErrOverrideNotFound
}

func (f *fakeOverrideRepo) GetAll(_ context.Context) ([]experiment.ThresholdOverride, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.overrides, nil
}

func (f *fakeOverrideRepo) Save(_ context.Context, o experiment.ThresholdOverride) error {
	f.overrides = append(f.overrides, o)
	return nil
}

type fakeAssignmentRepo struct {
	stored  map[string]experiment.ExperimentAssignment
	getErr  error
	saveErr error
	saves   int
}

func assignmentKey(key string, id observation.StudentID) string {
	return key + "|" + string(id)
}

func (f *fakeAssignmentRepo) Get(_ context.Context, key string, id observation.StudentID) (*experiment.ExperimentAssignment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if a, ok := f.stored[assignmentKey(key, id)]; ok {
		return &a, nil
	}
	return nil, experiment.ErrAssignmentNotFound
}

func (f *fakeAssignmentRepo) Save(_ context.Context, a experiment.ExperimentAssignment) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.stored == nil {
		f.stored = map[string]experiment.ExperimentAssignment{}
	}
	f.stored[assignmentKey(a.ExperimentKey, a.StudentID)] = a
	f.saves++
	return nil
}

type fakePublisher struct {
	events []shared.Event
}

func (f *fakePublisher) Publish(e shared.Event) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) typeCounts() map[shared.EventType]int {
	out := make(map[shared.EventType]int)
	for _, e := range f.events {
		out[e.EventType()]++
	}
	return out
}

// ─── fixtures ────────────────────────────────────────────────────────────────

var runAt = time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

// spikeInput produces a window where the anxious series jumps well above
// its baseline band, triggering the behavior-spike category.
func spikeInput() DetectionInput {
	in := DetectionInput{StudentID: "s1", Now: runAt}
	for d := 0; d < 6; d++ {
		in.Emotions = append(in.Emotions, observation.EmotionObservation{
			ID:        fmt.Sprintf("e%d", d),
			StudentID: "s1",
			Category:  "anxious",
			Intensity: observation.Intensity(8 + float64(d%2)),
			Timestamp: runAt.Add(-time.Duration(6-d) * time.Hour),
		})
	}
	in.Baseline = baselineWith("anxious", 3, 1.349)
	return in
}

func baselineWith(category observation.EmotionCategory, median, iqr float64) *baseline.StudentBaseline {
	return &baseline.StudentBaseline{
		StudentID:         "s1",
		Version:           baseline.RecordVersion,
		ComputedAt:        runAt.AddDate(0, 0, -1),
		SessionCount:      20,
		UniqueDays:        14,
		SufficiencyFactor: 1,
		Windows: map[int]baseline.WindowBaseline{
			30: {
				WindowDays: 30,
				Emotions: map[observation.EmotionCategory]baseline.RobustStats{
					category: {Median: median, IQR: iqr, SampleCount: 25},
				},
			},
		},
	}
}

func newTestService(pub shared.EventPublisher) *Service {
	return NewService(nil, nil, nil, stats.TauU, pub, nil, DefaultConfig())
}

// ─── threshold applier ───────────────────────────────────────────────────────

func TestThresholdApplierDropsBelowThreshold(t *testing.T) {
	a := newThresholdApplier(nil, nil)

	// Default trend threshold is 0.30.
	assert.Nil(t, a.apply(&detection.Result{Type: detection.TypeTrend, Score: 0.2, Confidence: 0.5}))
	assert.Nil(t, a.apply(nil))

	r := a.apply(&detection.Result{Type: detection.TypeTrend, Score: 0.6, Confidence: 0.5})
	require.NotNil(t, r)
	assert.Equal(t, 0.30, r.ThresholdApplied)
	require.NotNil(t, r.Trace)
	assert.Equal(t, 0.30, r.Trace.BaselineThreshold)
	assert.Equal(t, 0.0, r.Trace.Adjustment)
	// No adjustment: score passes through unscaled.
	assert.InDelta(t, 0.6, r.Score, 1e-9)
}

func TestThresholdApplierAdjustmentMonotonicity(t *testing.T) {
	// A positive learned adjustment raises the threshold and lowers the
	// surviving score.
	raised := newThresholdApplier([]experiment.ThresholdOverride{
		{DetectorType: detection.TypeTrend, AdjustmentValue: 0.5},
	}, nil)

	r := raised.apply(&detection.Result{Type: detection.TypeTrend, Score: 0.6, Confidence: 0.5})
	require.NotNil(t, r)
	assert.InDelta(t, 0.45, r.ThresholdApplied, 1e-9)
	assert.InDelta(t, 0.5, r.Trace.Adjustment, 1e-9)
	// Rescaled: 0.6 * 0.30/0.45 = 0.4 < raw score.
	assert.InDelta(t, 0.4, r.Score, 1e-9)

	// The same raw score below the raised threshold is dropped.
	assert.Nil(t, raised.apply(&detection.Result{Type: detection.TypeTrend, Score: 0.4, Confidence: 0.5}))
}

func TestThresholdApplierExplicitBaseline(t *testing.T) {
	base := 0.5
	a := newThresholdApplier([]experiment.ThresholdOverride{
		{DetectorType: detection.TypeRate, AdjustmentValue: 0, BaselineThreshold: &base},
	}, nil)

	assert.Nil(t, a.apply(&detection.Result{Type: detection.TypeRate, Score: 0.45, Confidence: 0.5}))

	r := a.apply(&detection.Result{Type: detection.TypeRate, Score: 0.8, Confidence: 0.5})
	require.NotNil(t, r)
	assert.Equal(t, 0.5, r.Trace.BaselineThreshold)
}

func TestThresholdApplierExperimentArm(t *testing.T) {
	arms := map[detection.Type]ArmAssignment{
		detection.TypeTrend: {
			ExperimentKey: "threshold-trend-v1",
			Variant:       experiment.VariantStrict,
			Arm:           experiment.Arm{Name: experiment.VariantStrict, Scale: 1.15},
		},
	}
	a := newThresholdApplier(nil, arms)

	r := a.apply(&detection.Result{Type: detection.TypeTrend, Score: 0.6, Confidence: 0.5})
	require.NotNil(t, r)
	assert.InDelta(t, 0.345, r.ThresholdApplied, 1e-9)
	assert.Equal(t, "threshold-trend-v1", r.Diagnostics.ExperimentKey)
	assert.Equal(t, "strict", r.Diagnostics.Variant)
}

// ─── aggregator ──────────────────────────────────────────────────────────────

func TestAggregatorFinalize(t *testing.T) {
	series := observation.NewSeries([]observation.TrendPoint{
		{Timestamp: runAt.Add(-2 * time.Hour), Value: 5},
		{Timestamp: runAt.Add(-time.Hour), Value: 9},
	})
	c := alert.NewCandidate(alert.KindBehaviorSpike, "anxious", 1.0, series, []*detection.Result{
		{Type: detection.TypeTrend, Score: 0.9, Confidence: 0.8, Impact: detection.ImpactIncreasing},
		{Type: detection.TypeShift, Score: 0.7, Confidence: 0.9, Impact: detection.ImpactIncreasing},
	})
	require.NotNil(t, c)

	agg := &aggregator{cfg: DefaultAggregationConfig()}
	e := agg.finalize(c, "s1", runAt)

	assert.Equal(t, alert.StatusNew, e.Status)
	assert.Equal(t, alert.KindBehaviorSpike, e.Kind)
	assert.Equal(t, "anxious", e.Label)
	assert.GreaterOrEqual(t, e.Score, 0.0)
	assert.LessOrEqual(t, e.Score, 1.0)
	assert.Equal(t, 0.9, e.Confidence)
	assert.Equal(t, e.Severity, DefaultAggregationConfig().SeverityCuts.SeverityFor(e.Score))

	// Deterministic identity.
	assert.Equal(t, alert.ComputeID("s1", alert.KindBehaviorSpike, "anxious", e.LastTimestamp), e.ID)
	assert.Equal(t, "s1|behavior_spike|anxious", e.DedupeKey)

	// Sources ranked by score descending.
	require.Len(t, e.Sources, 2)
	assert.Equal(t, detection.TypeTrend, e.Sources[0].Detector)
	assert.Equal(t, 1, e.Sources[0].Rank)
	assert.Equal(t, detection.TypeShift, e.Sources[1].Detector)
	assert.Equal(t, 2, e.Sources[1].Rank)

	// Score breakdown and series preview land in metadata; governance
	// is attached for policies to strip.
	assert.Contains(t, e.Metadata, "scoreBreakdown")
	assert.Contains(t, e.Metadata, "seriesPreview")
	require.NotNil(t, e.Governance)
	assert.Equal(t, 1.0, e.Governance.Tier)
	assert.Equal(t, runAt, e.Governance.RunAt)
}

func TestAggregatorBlendsStrongestConfidence(t *testing.T) {
	series := observation.NewSeries([]observation.TrendPoint{
		{Timestamp: runAt.Add(-time.Hour), Value: 5},
		{Timestamp: runAt, Value: 9},
	})
	c := alert.NewCandidate(alert.KindBehaviorSpike, "anxious", 1.0, series, []*detection.Result{
		{Type: detection.TypeTrend, Score: 0.5, Confidence: 0.1, Impact: detection.ImpactIncreasing},
		{Type: detection.TypeShift, Score: 0.3, Confidence: 0.9, Impact: detection.ImpactIncreasing},
	})
	require.NotNil(t, c)

	agg := &aggregator{cfg: DefaultAggregationConfig()}
	e := agg.finalize(c, "s1", runAt)

	// 0.4·0.5 + 0.25·0.9 + 0.2·1 + 0.15·1: the confidence component is
	// the strongest detector's, not an average across detectors.
	assert.InDelta(t, 0.775, e.Score, 1e-9)
	assert.Equal(t, 0.9, e.Confidence)

	breakdown, ok := e.Metadata["scoreBreakdown"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.9, breakdown["confidence"])
}

func TestAggregatorRecency(t *testing.T) {
	agg := &aggregator{cfg: DefaultAggregationConfig()}

	// Fresh points score 1.
	assert.Equal(t, 1.0, agg.recency(runAt, runAt))
	assert.Equal(t, 1.0, agg.recency(runAt.Add(time.Hour), runAt))

	// Half the horizon decays to 0.5.
	assert.InDelta(t, 0.5, agg.recency(runAt.Add(-7*24*time.Hour), runAt), 1e-9)

	// Beyond the horizon clamps at 0.
	assert.Equal(t, 0.0, agg.recency(runAt.Add(-30*24*time.Hour), runAt))
}

// ─── experiment service ──────────────────────────────────────────────────────

func TestExperimentServiceStickyAssignment(t *testing.T) {
	repo := &fakeAssignmentRepo{}
	svc := NewExperimentService(repo, nil, nil, nil)
	ctx := context.Background()

	arms := svc.ResolveArms(ctx, "s1")
	require.Len(t, arms, len(detection.AllTypes()))
	assert.Equal(t, len(arms), repo.saves)

	// Second resolution reads the stored assignments, no new saves.
	again := svc.ResolveArms(ctx, "s1")
	assert.Equal(t, len(arms), repo.saves)
	for typ, arm := range arms {
		assert.Equal(t, arm.Variant, again[typ].Variant)
	}
}

func TestExperimentServiceStoredAssignmentWins(t *testing.T) {
	repo := &fakeAssignmentRepo{stored: map[string]experiment.ExperimentAssignment{
		assignmentKey("threshold-trend-v1", "s1"): {
			ExperimentKey: "threshold-trend-v1",
			StudentID:     "s1",
			Variant:       experiment.VariantStrict,
		},
	}}
	svc := NewExperimentService(repo, nil, nil, nil)

	arms := svc.ResolveArms(context.Background(), "s1")
	assert.Equal(t, experiment.VariantStrict, arms[detection.TypeTrend].Variant)
}

func TestExperimentServiceDegradesToControl(t *testing.T) {
	repo := &fakeAssignmentRepo{getErr: errors.New("store down")}
	svc := NewExperimentService(repo, nil, nil, nil)

	arms := svc.ResolveArms(context.Background(), "s1")
	for _, arm := range arms {
		assert.Equal(t, experiment.VariantControl, arm.Variant)
	}

	repo = &fakeAssignmentRepo{saveErr: errors.New("store down")}
	svc = NewExperimentService(repo, nil, nil, nil)
	for _, arm := range svc.ResolveArms(context.Background(), "s1") {
		assert.Equal(t, experiment.VariantControl, arm.Variant)
	}
}

func TestExperimentServicePublishesAssignment(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewExperimentService(&fakeAssignmentRepo{}, nil, pub, nil)

	svc.ResolveArms(context.Background(), "s1")
	assert.Equal(t, len(detection.AllTypes()), pub.typeCounts()[shared.EventVariantAssigned])
}

// ─── orchestrator ────────────────────────────────────────────────────────────

func TestRunDetectionEmptyStudent(t *testing.T) {
	svc := newTestService(nil)
	out := svc.RunDetection(context.Background(), DetectionInput{})
	assert.Empty(t, out)
}

func TestRunDetectionEmitsSpikeAlert(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestService(pub)

	events := svc.RunDetection(context.Background(), spikeInput())
	require.NotEmpty(t, events)

	e := events[0]
	assert.Equal(t, alert.KindBehaviorSpike, e.Kind)
	assert.Equal(t, "anxious", e.Label)
	assert.Equal(t, alert.StatusNew, e.Status)
	assert.Nil(t, e.Governance, "governance must be stripped before emission")

	counts := pub.typeCounts()
	assert.Equal(t, len(events), counts[shared.EventAlertCreated])
	assert.Equal(t, 1, counts[shared.EventDetectionCompleted])
}

func TestRunDetectionDeterministic(t *testing.T) {
	svc := newTestService(nil)
	in := spikeInput()

	first := svc.RunDetection(context.Background(), in)
	second := svc.RunDetection(context.Background(), in)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Score, second[i].Score)
		assert.Equal(t, first[i].Severity, second[i].Severity)
	}
}

func TestRunDetectionLastTimestampTracksFinalPoint(t *testing.T) {
	// A flat stretch followed by a jump, with no stored baseline: the
	// pipeline derives its references from the window itself, and the
	// emitted alert is anchored on the final observation.
	values := []float64{2, 2, 2, 2, 2, 9, 9, 9}
	in := DetectionInput{StudentID: "s1", Now: runAt}
	for i, v := range values {
		in.Emotions = append(in.Emotions, observation.EmotionObservation{
			ID:        fmt.Sprintf("e%d", i),
			StudentID: "s1",
			Category:  "anxious",
			Intensity: observation.Intensity(v),
			Timestamp: runAt.Add(-time.Duration(len(values)-i) * time.Hour),
		})
	}
	final := in.Emotions[len(in.Emotions)-1].Timestamp

	events := newTestService(nil).RunDetection(context.Background(), in)

	var spike *alert.AlertEvent
	for i := range events {
		if events[i].Kind == alert.KindBehaviorSpike {
			spike = &events[i]
		}
	}
	require.NotNil(t, spike, "expected a behavior spike alert")
	assert.Equal(t, final, spike.LastTimestamp)
	assert.Equal(t, alert.ComputeID("s1", spike.Kind, spike.Label, final), spike.ID)
}

func TestRunDetectionIdentityStableAcrossCloseRuns(t *testing.T) {
	first := newTestService(nil).RunDetection(context.Background(), spikeInput())
	require.NotEmpty(t, first)

	// A run a millisecond later over the same observations must emit
	// the same identities: ids and dedupe keys anchor on the series,
	// never on the run clock.
	shifted := spikeInput()
	shifted.Now = runAt.Add(time.Millisecond)
	second := newTestService(nil).RunDetection(context.Background(), shifted)
	require.Equal(t, len(first), len(second))

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].DedupeKey, second[i].DedupeKey)
	}
}

func TestRunDetectionDeduplicated(t *testing.T) {
	svc := newTestService(nil)
	events := svc.RunDetection(context.Background(), spikeInput())

	seen := make(map[string]bool)
	for _, e := range events {
		assert.False(t, seen[e.DedupeKey], "duplicate dedupe key %s", e.DedupeKey)
		seen[e.DedupeKey] = true
	}
}

func TestRunDetectionQuietWindow(t *testing.T) {
	svc := newTestService(nil)
	in := DetectionInput{StudentID: "s1", Now: runAt}
	for d := 0; d < 6; d++ {
		in.Emotions = append(in.Emotions, observation.EmotionObservation{
			ID:        fmt.Sprintf("e%d", d),
			StudentID: "s1",
			Category:  "happy",
			Intensity: 5,
			Timestamp: runAt.Add(-time.Duration(d) * time.Hour),
		})
	}
	in.Baseline = baselineWith("happy", 5, 2)

	assert.Empty(t, svc.RunDetection(context.Background(), in))
}

func TestRunDetectionBaselineRepoFallback(t *testing.T) {
	// A failing baseline store degrades to self-derived references
	// instead of failing the run.
	repo := &fakeBaselineRepo{err: errors.New("db down")}
	svc := NewService(repo, nil, nil, stats.TauU, nil, nil, DefaultConfig())

	in := spikeInput()
	in.Baseline = nil
	assert.NotPanics(t, func() {
		svc.RunDetection(context.Background(), in)
	})
}

func TestRunDetectionOverrideRaisesThreshold(t *testing.T) {
	in := spikeInput()

	base := newTestService(nil)
	baseEvents := base.RunDetection(context.Background(), in)
	require.NotEmpty(t, baseEvents)

	// Max positive adjustment on both emotion detectors.
	overrides := &fakeOverrideRepo{overrides: []experiment.ThresholdOverride{
		{DetectorType: detection.TypeTrend, AdjustmentValue: 0.5},
		{DetectorType: detection.TypeShift, AdjustmentValue: 0.5},
	}}
	strict := NewService(nil, overrides, nil, stats.TauU, nil, nil, DefaultConfig())
	strictEvents := strict.RunDetection(context.Background(), in)

	// Stricter thresholds never yield a higher score for the same input.
	if len(strictEvents) > 0 {
		assert.LessOrEqual(t, strictEvents[0].Score, baseEvents[0].Score)
	}
}

func TestRunDetectionOutcomeCategory(t *testing.T) {
	start := runAt.AddDate(0, 0, -5)
	in := DetectionInput{
		StudentID: "s1",
		Now:       runAt,
		Goals:     []observation.Goal{{ID: "g1", StudentID: "s1", MetricCategory: "anxious"}},
		Interventions: []observation.Intervention{
			{ID: "iv1", StudentID: "s1", GoalID: "g1", Name: "quiet corner", StartedAt: start},
		},
	}
	for d := 0; d < 10; d++ {
		value := 8.0
		if d >= 5 {
			value = 2.0
		}
		in.Emotions = append(in.Emotions, observation.EmotionObservation{
			ID:        fmt.Sprintf("e%d", d),
			StudentID: "s1",
			Category:  "anxious",
			Intensity: observation.Intensity(value),
			Timestamp: runAt.AddDate(0, 0, d-10),
		})
	}

	svc := newTestService(nil)
	events := svc.RunDetection(context.Background(), in)

	var outcome *alert.AlertEvent
	for i := range events {
		if events[i].Kind == alert.KindInterventionOutcome {
			outcome = &events[i]
		}
	}
	require.NotNil(t, outcome, "expected an intervention outcome alert")
	assert.Equal(t, "quiet corner", outcome.Label)

	// Without the capability the category disappears.
	noEffect := NewService(nil, nil, nil, nil, nil, nil, DefaultConfig())
	for _, e := range noEffect.RunDetection(context.Background(), in) {
		assert.NotEqual(t, alert.KindInterventionOutcome, e.Kind)
	}
}

func TestRunDetectionOrderingStable(t *testing.T) {
	svc := newTestService(nil)
	events := svc.RunDetection(context.Background(), spikeInput())

	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if prev.Severity.Rank() == cur.Severity.Rank() {
			assert.GreaterOrEqual(t, prev.Score, cur.Score)
		} else {
			assert.Greater(t, prev.Severity.Rank(), cur.Severity.Rank())
		}
	}
}
