package statistical

import (
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/core"
)

// DefaultCategoryGate is the spam probability above which a category is predicted
const DefaultCategoryGate = 0.6

const maxAlternatives = 3

// Classifier serves predictions from the current model. Models are replaced
// atomically so predictions in flight keep using the version they started with.
type Classifier struct {
	state     atomic.Pointer[ModelState]
	extractor *FeatureExtractor
	gate      float64
	logger    *zap.Logger
}

// NewClassifier creates a classifier with no model loaded
func NewClassifier(extractor *FeatureExtractor, gate float64, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gate <= 0 || gate >= 1 {
		gate = DefaultCategoryGate
	}
	return &Classifier{extractor: extractor, gate: gate, logger: logger}
}

// Swap installs a validated model
func (c *Classifier) Swap(state *ModelState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to swap in model: %w", err)
	}
	prev := c.state.Swap(state)
	fields := []zap.Field{zap.String("version", state.Version), zap.Int("features", state.FeatureWidth)}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.Version))
	}
	c.logger.Info("Installed statistical model", fields...)
	return nil
}

// Current returns the served model or nil
func (c *Classifier) Current() *ModelState {
	return c.state.Load()
}

// Predict scores a message. It returns core.ErrModelNotTrained when no model
// has been installed.
func (c *Classifier) Predict(in core.PredictInput) (*core.Prediction, error) {
	state := c.state.Load()
	if state == nil {
		return nil, core.ErrModelNotTrained
	}

	x := c.extractor.Extract(in)
	if len(x) != state.FeatureWidth {
		c.logger.Warn("Feature width differs from trained model, padding or truncating",
			zap.Int("expected", state.FeatureWidth),
			zap.Int("actual", len(x)))
		x = fitWidth(x, state.FeatureWidth)
	}
	x = state.Scaler.Transform(x)

	p := state.Binary.Prob(x)
	pred := &core.Prediction{
		IsSpam:          p >= 0.5,
		SpamProbability: p,
		ModelVersion:    state.Version,
	}
	if p <= c.gate {
		return pred, nil
	}

	switch {
	case state.Category != nil:
		probs := state.Category.Probs(x)
		ranked := make([]core.CategoryScore, len(probs))
		for i, prob := range probs {
			ranked[i] = core.CategoryScore{Category: state.Encoder.Decode(i), Probability: prob}
		}
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Probability > ranked[j].Probability })
		pred.Category = ranked[0].Category
		pred.CategoryConfidence = ranked[0].Probability
		pred.CategoryAvailable = true
		if n := len(ranked); n > 1 {
			pred.Alternatives = ranked[1:min(n, maxAlternatives+1)]
		}
	case len(state.Encoder.Classes) == 1:
		pred.Category = state.Encoder.Classes[0]
		pred.CategoryConfidence = 1
		pred.CategoryAvailable = true
	}
	return pred, nil
}

// DriftCheck compares current label counts with the served model's training
// distribution
func (c *Classifier) DriftCheck(current map[string]float64, threshold float64) (DriftReport, error) {
	state := c.state.Load()
	if state == nil {
		return DriftReport{}, core.ErrModelNotTrained
	}
	return state.Drift(current, threshold), nil
}
