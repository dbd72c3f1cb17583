package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlagDefaults(t *testing.T) {
	ff := LoadFeatureFlags()

	// Detector categories ship enabled for everyone.
	assert.True(t, ff.IsEnabled(FeatureDetectTrend, nil))
	assert.True(t, ff.IsEnabled(FeatureDetectBurst, nil))

	// Infrastructure-gated features ship off.
	assert.False(t, ff.IsEnabled(FeaturePipelineTauURemote, nil))
	assert.False(t, ff.IsEnabled(FeaturePipelineKafkaExport, nil))

	// Unknown features are never enabled.
	assert.False(t, ff.IsEnabled("detect.nonexistent", nil))
}

func TestFeatureFlagEnvironmentOverrides(t *testing.T) {
	t.Setenv("FEATURE_DETECT_BURST", "false")
	t.Setenv("FEATURE_PIPELINE_KAFKA_EXPORT", "true")
	t.Setenv("FEATURE_PIPELINE_ADAPTIVE", "25")

	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureDetectBurst, nil))
	assert.True(t, ff.IsEnabled(FeaturePipelineKafkaExport, nil))

	adaptive := ff.GetAllFeatures()[FeaturePipelineAdaptive]
	require.NotNil(t, adaptive)
	assert.True(t, adaptive.Enabled)
	assert.Equal(t, 25, adaptive.RolloutPercent)
}

func TestFeatureNameToEnvKey(t *testing.T) {
	assert.Equal(t, "FEATURE_DETECT_BURST", featureNameToEnvKey("detect.burst"))
	assert.Equal(t, "FEATURE_PIPELINE_TAUU_REMOTE", featureNameToEnvKey("pipeline.tauu_remote"))
}

func TestRolloutPercentBoundaries(t *testing.T) {
	ff := LoadFeatureFlags()

	require.NoError(t, ff.SetRolloutPercent(FeatureDetectTrend, 0))
	assert.False(t, ff.IsEnabled(FeatureDetectTrend, &FeatureContext{StudentID: "s1"}))

	require.NoError(t, ff.SetRolloutPercent(FeatureDetectTrend, 100))
	assert.True(t, ff.IsEnabled(FeatureDetectTrend, &FeatureContext{StudentID: "s1"}))
}

func TestRolloutBucketingIsConsistent(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureDetectTrend, 50))

	// Same student always lands in the same bucket.
	first := ff.IsEnabled(FeatureDetectTrend, &FeatureContext{StudentID: "s1"})
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureDetectTrend, &FeatureContext{StudentID: "s1"}))
	}

	// A 50% rollout splits a large cohort; both buckets must be populated.
	in := 0
	for i := 0; i < 200; i++ {
		if ff.IsEnabled(FeatureDetectTrend, &FeatureContext{StudentID: string(rune('a'+i%26)) + string(rune('0'+i/26))}) {
			in++
		}
	}
	assert.Greater(t, in, 0)
	assert.Less(t, in, 200)
}

func TestStudentOverridesWinOverRollout(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureDetectTrend, 0))

	ff.SetStudentOverride("s1", FeatureDetectTrend, true)
	assert.True(t, ff.IsEnabled(FeatureDetectTrend, &FeatureContext{StudentID: "s1"}))
	assert.False(t, ff.IsEnabled(FeatureDetectTrend, &FeatureContext{StudentID: "s2"}))

	// Override can also force a feature off.
	ff.SetStudentOverride("s2", FeatureDetectBurst, false)
	assert.False(t, ff.IsEnabled(FeatureDetectBurst, &FeatureContext{StudentID: "s2"}))

	ff.ClearStudentOverrides("s1")
	assert.False(t, ff.IsEnabled(FeatureDetectTrend, &FeatureContext{StudentID: "s1"}))
}

func TestCohortTargeting(t *testing.T) {
	ff := LoadFeatureFlags()
	feature := ff.features[FeatureDetectAssociation]
	feature.TargetCohorts = []string{"pilot-school"}

	assert.True(t, ff.IsEnabled(FeatureDetectAssociation, &FeatureContext{StudentID: "s1", Cohort: "pilot-school"}))
	assert.False(t, ff.IsEnabled(FeatureDetectAssociation, &FeatureContext{StudentID: "s1", Cohort: "other-school"}))
}

func TestTimeBasedActivation(t *testing.T) {
	ff := LoadFeatureFlags()
	future := time.Now().Add(24 * time.Hour)
	past := time.Now().Add(-24 * time.Hour)

	ff.features[FeatureDetectRate].EnabledFrom = &future
	assert.False(t, ff.IsEnabled(FeatureDetectRate, nil))

	ff.features[FeatureDetectRate].EnabledFrom = nil
	ff.features[FeatureDetectRate].EnabledUntil = &past
	assert.False(t, ff.IsEnabled(FeatureDetectRate, nil))
}

func TestSetRolloutPercentValidation(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.ErrorIs(t, ff.SetRolloutPercent("detect.nonexistent", 50), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureDetectTrend, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureDetectTrend, -1), ErrInvalidRolloutPercent)
}

func TestEnableDisableFeature(t *testing.T) {
	ff := LoadFeatureFlags()

	require.NoError(t, ff.DisableFeature(FeatureDetectShift))
	assert.False(t, ff.IsEnabled(FeatureDetectShift, nil))

	require.NoError(t, ff.EnableFeature(FeatureDetectShift))
	assert.True(t, ff.IsEnabled(FeatureDetectShift, nil))
}

func TestEnabledDetectors(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.DisableFeature(FeatureDetectBurst))
	require.NoError(t, ff.DisableFeature(FeatureDetectOutcome))

	detectors := ff.EnabledDetectors(&FeatureContext{StudentID: "s1"})
	assert.ElementsMatch(t, []string{
		FeatureDetectTrend,
		FeatureDetectShift,
		FeatureDetectRate,
		FeatureDetectAssociation,
	}, detectors)
}

func TestGetAllFeaturesReturnsCopies(t *testing.T) {
	ff := LoadFeatureFlags()

	snapshot := ff.GetAllFeatures()
	snapshot[FeatureDetectTrend].Enabled = false
	snapshot[FeatureDetectTrend].RolloutPercent = 0

	// Mutating the snapshot never affects live flags.
	assert.True(t, ff.IsEnabled(FeatureDetectTrend, nil))
}
