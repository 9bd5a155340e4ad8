package statistical

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mikey/mail-classifier/internal/core"
)

// SchemaVersion is bumped whenever ModelState changes incompatibly
const SchemaVersion = 1

// PreservedLabel is the distribution key for preserved messages
const PreservedLabel = "PRESERVED"

// ModelState is a complete trained model as swapped in for inference and
// persisted to disk
type ModelState struct {
	SchemaVersion int                `msgpack:"schema_version"`
	Version       string             `msgpack:"version"`
	TrainedAt     time.Time          `msgpack:"trained_at"`
	FeatureWidth  int                `msgpack:"feature_width"`
	Scaler        *Scaler            `msgpack:"scaler"`
	Binary        *Logistic          `msgpack:"binary"`
	Category      *Softmax           `msgpack:"category,omitempty"`
	Encoder       *LabelEncoder      `msgpack:"encoder"`
	Consolidation map[string]string  `msgpack:"consolidation"`
	Distribution  map[string]float64 `msgpack:"distribution"`
	Report        TrainingReport     `msgpack:"report"`
}

// Validate checks a model is safe to serve
func (s *ModelState) Validate() error {
	switch {
	case s == nil:
		return errors.New("nil model")
	case s.SchemaVersion != SchemaVersion:
		return fmt.Errorf("model schema %d, want %d", s.SchemaVersion, SchemaVersion)
	case s.Scaler == nil || s.Binary == nil || s.Encoder == nil:
		return errors.New("model is missing a component")
	case s.FeatureWidth <= 0:
		return fmt.Errorf("invalid feature width %d", s.FeatureWidth)
	case len(s.Scaler.Mean) != s.FeatureWidth || len(s.Scaler.Std) != s.FeatureWidth:
		return fmt.Errorf("scaler width %d, want %d", len(s.Scaler.Mean), s.FeatureWidth)
	case len(s.Binary.Weights) != s.FeatureWidth:
		return fmt.Errorf("binary model width %d, want %d", len(s.Binary.Weights), s.FeatureWidth)
	case !finite(s.Scaler.Mean, s.Scaler.Std, s.Binary.Weights, []float64{s.Binary.Bias}):
		return errors.New("binary model has non-finite weights")
	case s.Report.Binary.Support > 0 && s.Report.Binary.Accuracy < 0.5:
		return fmt.Errorf("binary held-out accuracy %.2f below 0.5", s.Report.Binary.Accuracy)
	}
	if s.Category != nil {
		if len(s.Category.Weights) != len(s.Encoder.Classes) {
			return fmt.Errorf("category model has %d classes, encoder %d", len(s.Category.Weights), len(s.Encoder.Classes))
		}
		for _, w := range s.Category.Weights {
			if len(w) != s.FeatureWidth || !finite(w) {
				return errors.New("category model has invalid weights")
			}
		}
		if !finite(s.Category.Bias) {
			return errors.New("category model has non-finite bias")
		}
	}
	return nil
}

// TrainingReport summarizes a training run
type TrainingReport struct {
	Version         string             `msgpack:"version" json:"version"`
	Samples         int                `msgpack:"samples" json:"samples"`
	Deleted         int                `msgpack:"deleted" json:"deleted"`
	Preserved       int                `msgpack:"preserved" json:"preserved"`
	FeedbackApplied int                `msgpack:"feedback_applied" json:"feedback_applied"`
	Categories      map[string]int     `msgpack:"categories" json:"categories"`
	Dropped         map[string]int     `msgpack:"dropped" json:"dropped"`
	Binary          BinaryMetrics      `msgpack:"binary" json:"binary"`
	Category        *MulticlassMetrics `msgpack:"category,omitempty" json:"category,omitempty"`
	Clusters        int                `msgpack:"clusters" json:"clusters"`
	ClusterPurity   float64            `msgpack:"cluster_purity" json:"cluster_purity"`
	Duration        time.Duration      `msgpack:"duration" json:"duration"`
}

// ModelStore persists models as msgpack
type ModelStore struct {
	path string
}

// NewModelStore creates a store writing to path
func NewModelStore(path string) *ModelStore {
	return &ModelStore{path: path}
}

// Path returns the model file location
func (s *ModelStore) Path() string { return s.path }

// Save writes the model atomically by renaming a temporary file over the target
func (s *ModelStore) Save(state *ModelState) error {
	data, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to install model: %w", err)
	}
	return nil
}

// Load reads the model. A missing file is ErrModelNotTrained.
func (s *ModelStore) Load() (*ModelState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, core.ErrModelNotTrained
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	var state ModelState
	if err := msgpack.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", s.path, err)
	}
	return &state, nil
}

// DriftReport compares a live label distribution with the trained one
type DriftReport struct {
	Distance        float64
	NeedsRetraining bool
}

// Drift returns the total variation distance between the trained
// distribution and current, which maps labels to counts
func (s *ModelState) Drift(current map[string]float64, threshold float64) DriftReport {
	total := 0.0
	for _, v := range current {
		total += v
	}
	if total == 0 {
		return DriftReport{}
	}
	keys := make(map[string]bool)
	for k := range s.Distribution {
		keys[k] = true
	}
	for k := range current {
		keys[k] = true
	}
	dist := 0.0
	for k := range keys {
		dist += math.Abs(s.Distribution[k] - current[k]/total)
	}
	dist /= 2
	return DriftReport{Distance: dist, NeedsRetraining: dist > threshold}
}
