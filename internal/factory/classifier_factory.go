package factory

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/config"
	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/patterns"
	"github.com/mikey/mail-classifier/internal/statistical"
	"github.com/mikey/mail-classifier/internal/subcategory"
	"github.com/mikey/mail-classifier/internal/vendor"
)

// ClassifierFactory creates the pattern-driven classifiers
type ClassifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreatePatternHolder compiles the configured pattern library
func (f *ClassifierFactory) CreatePatternHolder() (*patterns.Holder, error) {
	patternsCfg, err := f.cfg.GetPatterns()
	if err != nil {
		return nil, fmt.Errorf("invalid patterns configuration: %w", err)
	}
	compiled, err := patterns.Load(patternsCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern library: %w", err)
	}

	source := "embedded"
	if patternsCfg.Path != "" {
		source = patternsCfg.Path
	}
	f.logger.Info("Loaded pattern library",
		zap.String("source", source),
		zap.String("version", compiled.Version))
	return patterns.NewHolder(compiled, patternsCfg.Path, f.logger), nil
}

// CreateVendorClassifier creates the vendor intent classifier with user preferences
func (f *ClassifierFactory) CreateVendorClassifier(src patterns.Source) (*vendor.Classifier, error) {
	vendorCfg := f.cfg.GetVendor()
	prefs, err := vendor.LoadPreferences(vendorCfg.PreferencesPath)
	if err != nil {
		return nil, err
	}
	return vendor.NewClassifier(src, prefs, vendor.Config{
		TieGap:         vendorCfg.TieGap,
		ContentBoost:   vendorCfg.ContentBoost,
		MarketingBoost: vendorCfg.MarketingBoost,
	}, f.logger), nil
}

// CreateRecorder starts the pattern hit writer. It returns nil when hit
// recording is disabled.
func (f *ClassifierFactory) CreateRecorder(counter core.PatternCounter) (*subcategory.Recorder, error) {
	subCfg, err := f.cfg.GetSubcategory()
	if err != nil {
		return nil, fmt.Errorf("invalid subcategory configuration: %w", err)
	}
	if !subCfg.RecordHits {
		return nil, nil
	}
	cfg := subcategory.DefaultRecorderConfig()
	cfg.FlushInterval = subCfg.FlushInterval
	return subcategory.NewRecorder(counter, cfg, f.logger), nil
}

// CreateStatisticalClassifier creates the trained classifier and installs the
// persisted model when one exists
func (f *ClassifierFactory) CreateStatisticalClassifier(extractor *statistical.FeatureExtractor) (*statistical.Classifier, error) {
	statCfg := f.cfg.GetStatistical()
	classifier := statistical.NewClassifier(extractor, statCfg.CategoryGate, f.logger)

	state, err := statistical.NewModelStore(statCfg.ModelPath).Load()
	switch {
	case errors.Is(err, core.ErrModelNotTrained):
		f.logger.Info("No statistical model found", zap.String("path", statCfg.ModelPath))
	case err != nil:
		// keep serving rule verdicts rather than refuse to start
		f.logger.Warn("Failed to load statistical model", zap.String("path", statCfg.ModelPath), zap.Error(err))
	default:
		if err := classifier.Swap(state); err != nil {
			f.logger.Warn("Persisted statistical model rejected", zap.Error(err))
		}
	}
	return classifier, nil
}

// CreateTrainer creates the trainer writing to the configured model path
func (f *ClassifierFactory) CreateTrainer(source core.TrainingSource, feedback core.FeedbackSource, extractor *statistical.FeatureExtractor,
	src patterns.Source, classifier *statistical.Classifier) *statistical.Trainer {
	statCfg := f.cfg.GetStatistical()
	cfg := statistical.DefaultTrainerConfig()
	cfg.Fit = statistical.FitConfig{
		Epochs:       statCfg.Epochs,
		LearningRate: statCfg.LearningRate,
		L2:           statCfg.L2,
	}
	return statistical.NewTrainer(source, feedback, extractor, src, classifier,
		statistical.NewModelStore(statCfg.ModelPath), cfg, f.logger)
}
