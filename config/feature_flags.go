package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles for the detection pipeline.
// Supports gradual rollout by student cohort, so new detector categories
// and threshold changes can be validated on a fraction of the population
// before going live for everyone.
type FeatureFlags struct {
	mu sync.RWMutex

	// Core features
	features map[string]*Feature

	// Override rules (for testing/debugging)
	studentOverrides map[string]map[string]bool // studentID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Students are assigned based on hash of their ID
	RolloutPercent int

	// Cohort targeting (e.g., "pilot-school", "2026-spring")
	// Empty means all cohorts
	TargetCohorts []string

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	StudentID string // Student identifier
	Cohort    string // Student cohort (e.g., "pilot-school")
}

// Predefined feature flag names.
const (
	// === Detector Categories ===
	FeatureDetectTrend       = "detect.trend"                // Emotion trend slope analysis
	FeatureDetectShift       = "detect.shift"                // Baseline deviation shifts
	FeatureDetectRate        = "detect.rate"                 // Negative-session rate changes
	FeatureDetectAssociation = "detect.association"          // Sensory-emotion associations
	FeatureDetectBurst       = "detect.burst"                // Observation burst spikes
	FeatureDetectOutcome     = "detect.intervention_outcome" // Intervention effect sizes

	// === Pipeline Features ===
	FeaturePipelineExperiments = "pipeline.experiments"  // Sticky threshold A/B arms
	FeaturePipelineAdaptive    = "pipeline.adaptive"     // Feedback-driven threshold learning
	FeaturePipelineTauURemote  = "pipeline.tauu_remote"  // Remote Tau-U effect-size service
	FeaturePipelineKafkaExport = "pipeline.kafka_export" // Publish alert events to Kafka
	FeaturePipelineAutoTrigger = "pipeline.auto_trigger" // Detection run after baseline rebuild
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[string]map[string]bool),
	}

	// Initialize all features with defaults
	ff.initializeDefaults()

	// Load overrides from environment
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	// Detector categories - all enabled by default, individually killable
	ff.features[FeatureDetectTrend] = &Feature{
		Name:           FeatureDetectTrend,
		Description:    "Emotion intensity trend detection",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDetectShift] = &Feature{
		Name:           FeatureDetectShift,
		Description:    "Baseline deviation shift detection",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDetectRate] = &Feature{
		Name:           FeatureDetectRate,
		Description:    "Negative-session rate change detection",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDetectAssociation] = &Feature{
		Name:           FeatureDetectAssociation,
		Description:    "Sensory-emotion association detection",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDetectBurst] = &Feature{
		Name:           FeatureDetectBurst,
		Description:    "Observation burst detection",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDetectOutcome] = &Feature{
		Name:           FeatureDetectOutcome,
		Description:    "Intervention outcome effect-size detection",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Pipeline features
	ff.features[FeaturePipelineExperiments] = &Feature{
		Name:           FeaturePipelineExperiments,
		Description:    "Sticky threshold experiment arms",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeaturePipelineAdaptive] = &Feature{
		Name:           FeaturePipelineAdaptive,
		Description:    "Feedback-driven threshold learning",
		Enabled:        true,
		RolloutPercent: 50, // Gradual rollout
	}

	ff.features[FeaturePipelineTauURemote] = &Feature{
		Name:           FeaturePipelineTauURemote,
		Description:    "Remote Tau-U effect-size service",
		Enabled:        false, // Requires TAUU_ENABLED and a reachable service
		RolloutPercent: 0,
	}

	ff.features[FeaturePipelineKafkaExport] = &Feature{
		Name:           FeaturePipelineKafkaExport,
		Description:    "Publish alert events to Kafka",
		Enabled:        false, // Requires KAFKA_ENABLED
		RolloutPercent: 0,
	}

	ff.features[FeaturePipelineAutoTrigger] = &Feature{
		Name:           FeaturePipelineAutoTrigger,
		Description:    "Run detection after each baseline rebuild",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_DETECT_BURST=false
// Example: FEATURE_PIPELINE_ADAPTIVE=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "detect.burst" -> "FEATURE_DETECT_BURST"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	return ff.isEnabledLocked(featureName, ctx)
}

func (ff *FeatureFlags) isEnabledLocked(featureName string, ctx *FeatureContext) bool {
	// Check student overrides first
	if ctx != nil && ctx.StudentID != "" {
		if overrides, ok := ff.studentOverrides[ctx.StudentID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Check if feature is enabled at all
	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check cohort targeting
	if len(feature.TargetCohorts) > 0 && ctx != nil && ctx.Cohort != "" {
		cohortMatch := false
		for _, c := range feature.TargetCohorts {
			if c == ctx.Cohort {
				cohortMatch = true
				break
			}
		}
		if !cohortMatch {
			return false
		}
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.StudentID != "" {
		return isInRollout(ctx.StudentID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a student is in the rollout percentage.
// Uses consistent hashing so students stay in their bucket.
func isInRollout(studentID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(studentID))
	hash := h.Sum32()

	// Map to 0-99 range
	bucket := int(hash % 100)

	return bucket < percent
}

// SetStudentOverride sets a feature override for a specific student.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetStudentOverride(studentID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.studentOverrides[studentID]; !ok {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// ClearStudentOverrides removes all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(studentID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, studentID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		// Return a copy
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Convenience methods for common checks ---

// EnabledDetectors returns the detector category flags enabled for a student.
func (ff *FeatureFlags) EnabledDetectors(ctx *FeatureContext) []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	all := []string{
		FeatureDetectTrend,
		FeatureDetectShift,
		FeatureDetectRate,
		FeatureDetectAssociation,
		FeatureDetectBurst,
		FeatureDetectOutcome,
	}

	enabled := make([]string, 0, len(all))
	for _, name := range all {
		if ff.isEnabledLocked(name, ctx) {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
