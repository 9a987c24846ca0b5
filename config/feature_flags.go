package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages runtime toggles. A flag can be switched off
// entirely or rolled out to a percentage of subjects, where the subject is
// usually a teacher or schedule ID.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// overrides pin a flag for one subject regardless of rollout.
	overrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent assigns subjects by a hash of their ID (0-100).
	RolloutPercent int
}

// Predefined feature flag names.
const (
	// Teacher also receives the low-balance notice.
	FeatureNotifyTeacherLowBalance = "notify.teacher_low_balance"

	// Occurrence cancel and restore notices to enrolled students.
	FeatureNotifyOccurrenceChange = "notify.occurrence_change"

	// Payout notices to the teacher.
	FeatureNotifyPayout = "notify.payout"

	// Deduplicate webhook deliveries before recording them.
	FeatureWebhookDedup = "webhook.dedup"

	// Periodic retry of failed payout releases.
	FeaturePayoutReconciliation = "jobs.payout_reconciliation"

	// Periodic retry of failed notification deliveries.
	FeatureNotificationRetry = "jobs.notification_retry"
)

// LoadFeatureFlags loads feature flags from environment variables.
// FEATURE_NOTIFY_PAYOUT=false disables a flag; FEATURE_NOTIFY_PAYOUT=25
// rolls it out to a quarter of subjects.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:  make(map[string]*Feature),
		overrides: make(map[string]map[string]bool),
	}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	for _, f := range []Feature{
		{Name: FeatureNotifyTeacherLowBalance, Description: "Tell the teacher when a student's balance runs out", Enabled: true},
		{Name: FeatureNotifyOccurrenceChange, Description: "Tell students about cancelled and restored sessions", Enabled: true},
		{Name: FeatureNotifyPayout, Description: "Tell teachers about released payouts", Enabled: false},
		{Name: FeatureWebhookDedup, Description: "Drop repeated meeting webhook deliveries", Enabled: true},
		{Name: FeaturePayoutReconciliation, Description: "Retry failed payout releases", Enabled: true},
		{Name: FeatureNotificationRetry, Description: "Retry failed notification deliveries", Enabled: true},
	} {
		f := f
		if f.Enabled {
			f.RolloutPercent = 100
		}
		ff.features[f.Name] = &f
	}
}

func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "notify.payout" -> "FEATURE_NOTIFY_PAYOUT"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// Enabled reports whether a flag is on globally, ignoring rollout.
func (ff *FeatureFlags) Enabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[featureName]
	return ok && f.Enabled && f.RolloutPercent > 0
}

// IsEnabledFor checks a flag for one subject. An empty subject only
// passes at full rollout.
func (ff *FeatureFlags) IsEnabledFor(featureName, subject string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if subject != "" {
		if o, ok := ff.overrides[subject]; ok {
			if enabled, ok := o[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent >= 100 {
		return true
	}
	if subject == "" {
		return false
	}
	return inRollout(subject, featureName, feature.RolloutPercent)
}

// inRollout hashes subject and flag so a subject stays in its bucket.
func inRollout(subject, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(subject))
	return int(h.Sum32()%100) < percent
}

// SetOverride pins a flag for one subject.
func (ff *FeatureFlags) SetOverride(subject, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if _, ok := ff.overrides[subject]; !ok {
		ff.overrides[subject] = make(map[string]bool)
	}
	ff.overrides[subject][featureName] = enabled
}

// ClearOverrides removes all overrides for a subject.
func (ff *FeatureFlags) ClearOverrides(subject string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.overrides, subject)
}

// SetRolloutPercent updates the rollout percentage for a feature.
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

// All returns copies of all flags ordered by name.
func (ff *FeatureFlags) All() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make([]Feature, 0, len(ff.features))
	for _, v := range ff.features {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
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
