package statistical

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/metrics"
	"github.com/mikey/mail-classifier/internal/patterns"
)

// TrainerConfig tunes training runs
type TrainerConfig struct {
	Fit          FitConfig
	Seed         uint64
	TestFraction float64
}

// DefaultTrainerConfig returns the training defaults
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{Fit: DefaultFitConfig(), Seed: 42, TestFraction: 0.2}
}

// Trainer builds models from action-labeled history
type Trainer struct {
	source     core.TrainingSource
	feedback   core.FeedbackSource
	extractor  *FeatureExtractor
	patterns   patterns.Source
	classifier *Classifier
	store      *ModelStore
	cfg        TrainerConfig
	logger     *zap.Logger
}

// NewTrainer creates a trainer. feedback, classifier and store may be nil;
// a trained model is swapped into classifier and saved to store when given.
func NewTrainer(source core.TrainingSource, feedback core.FeedbackSource, extractor *FeatureExtractor,
	src patterns.Source, classifier *Classifier, store *ModelStore, cfg TrainerConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultTrainerConfig()
	if cfg.Fit.Epochs <= 0 {
		cfg.Fit.Epochs = def.Fit.Epochs
	}
	if cfg.Fit.LearningRate <= 0 {
		cfg.Fit.LearningRate = def.Fit.LearningRate
	}
	if cfg.Fit.L2 < 0 {
		cfg.Fit.L2 = def.Fit.L2
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = def.TestFraction
	}
	return &Trainer{
		source:     source,
		feedback:   feedback,
		extractor:  extractor,
		patterns:   src,
		classifier: classifier,
		store:      store,
		cfg:        cfg,
		logger:     logger,
	}
}

type sample struct {
	x        []float64
	spam     bool
	category core.Category
	class    int
}

// Train runs a full training cycle. Queued feedback relabels matching history
// before training and is marked consumed once the new model is installed.
func (t *Trainer) Train(ctx context.Context, minSamples int) (*TrainingReport, error) {
	start := time.Now()
	state, feedbackIDs, err := t.build(ctx, minSamples)
	if err != nil {
		metrics.IncrementTrainingRun("failed")
		return nil, err
	}
	state.Report.Duration = time.Since(start)

	if err := state.Validate(); err != nil {
		metrics.IncrementTrainingRun("rejected")
		return &state.Report, fmt.Errorf("trained model failed validation: %w", err)
	}
	if t.classifier != nil {
		if err := t.classifier.Swap(state); err != nil {
			metrics.IncrementTrainingRun("rejected")
			return &state.Report, err
		}
	}
	if t.store != nil {
		if err := t.store.Save(state); err != nil {
			metrics.IncrementTrainingRun("failed")
			return &state.Report, err
		}
	}
	if t.feedback != nil && len(feedbackIDs) > 0 {
		if err := t.feedback.MarkFeedbackConsumed(ctx, feedbackIDs); err != nil {
			t.logger.Error("Failed to mark feedback consumed", zap.Error(err))
		}
	}

	metrics.IncrementTrainingRun("ok")
	t.logger.Info("Training complete",
		zap.String("version", state.Version),
		zap.Int("samples", state.Report.Samples),
		zap.Float64("accuracy", state.Report.Binary.Accuracy),
		zap.Float64("auc", state.Report.Binary.AUC),
		zap.Float64("cluster_purity", state.Report.ClusterPurity),
		zap.Duration("duration", state.Report.Duration))
	return &state.Report, nil
}

func (t *Trainer) build(ctx context.Context, minSamples int) (*ModelState, []string, error) {
	if minSamples < 1 {
		minSamples = 1
	}
	lib := t.patterns.Current()

	records, err := t.source.LabeledRecords(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load training records: %w", err)
	}
	records, applied, feedbackIDs, err := t.applyFeedback(ctx, records)
	if err != nil {
		return nil, nil, err
	}

	report := TrainingReport{
		FeedbackApplied: applied,
		Categories:      make(map[string]int),
		Dropped:         make(map[string]int),
	}

	usable := records[:0:0]
	for _, r := range records {
		if r.Action == core.ActionDeleted || r.Action == core.ActionPreserved {
			usable = append(usable, r)
		}
	}
	records = usable

	// consolidate raw labels and count the canonical categories of deleted mail
	labels := make([]core.Category, len(records))
	known := make([]bool, len(records))
	counts := make(map[core.Category]int)
	for i, r := range records {
		if r.Action != core.ActionDeleted {
			report.Preserved++
			continue
		}
		report.Deleted++
		if cat, ok := lib.Consolidate(r.Category); ok {
			labels[i], known[i] = cat, true
			counts[cat]++
		} else {
			report.Dropped[strings.ToLower(strings.TrimSpace(r.Category))]++
		}
	}
	report.Samples = len(records)
	if report.Deleted < minSamples || report.Preserved < minSamples {
		return nil, nil, fmt.Errorf("%w: %d deleted and %d preserved messages, need %d of each",
			core.ErrInsufficientData, report.Deleted, report.Preserved, minSamples)
	}

	var kept []core.Category
	for cat, n := range counts {
		if n < minSamples {
			report.Dropped[string(cat)] += n
			continue
		}
		report.Categories[string(cat)] = n
		kept = append(kept, cat)
	}
	enc := NewLabelEncoder(kept)

	samples := make([]sample, len(records))
	for i, r := range records {
		samples[i] = sample{
			x:     t.extractor.Extract(core.PredictInput{Sender: r.Sender, Subject: r.Subject, Domain: r.Domain, Headers: r.AuthResults}),
			spam:  r.Action == core.ActionDeleted,
			class: -1,
		}
		if known[i] {
			if c, ok := enc.Encode(labels[i]); ok {
				samples[i].category = labels[i]
				samples[i].class = c
			}
		}
	}

	rng := rand.New(rand.NewPCG(t.cfg.Seed, t.cfg.Seed+1))
	binaryStrata := make([]int, len(samples))
	for i, s := range samples {
		if s.spam {
			binaryStrata[i] = 1
		}
	}
	trainIdx, testIdx := stratifiedSplit(binaryStrata, t.cfg.TestFraction, rng)

	trainX := make([][]float64, len(trainIdx))
	for i, idx := range trainIdx {
		trainX[i] = samples[idx].x
	}
	scaler, err := FitScaler(trainX)
	if err != nil {
		return nil, nil, err
	}
	scaled := make([][]float64, len(samples))
	for i, s := range samples {
		scaled[i] = scaler.Transform(s.x)
	}

	var catRows []int
	for i, s := range samples {
		if s.class >= 0 {
			catRows = append(catRows, i)
		}
	}
	catStrata := make([]int, len(catRows))
	for i, idx := range catRows {
		catStrata[i] = samples[idx].class
	}
	catTrain, catTest := stratifiedSplit(catStrata, t.cfg.TestFraction, rng)
	clusterSeed := rng.Uint64()

	state := &ModelState{
		SchemaVersion: SchemaVersion,
		TrainedAt:     time.Now().UTC(),
		FeatureWidth:  FeatureWidth,
		Scaler:        scaler,
		Encoder:       enc,
		Consolidation: make(map[string]string),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		X := make([][]float64, len(trainIdx))
		y := make([]float64, len(trainIdx))
		for i, idx := range trainIdx {
			X[i] = scaled[idx]
			y[i] = boolf(samples[idx].spam)
		}
		model, err := FitLogistic(gctx, X, y, t.cfg.Fit)
		if err != nil {
			return err
		}
		truth := make([]bool, len(testIdx))
		probs := make([]float64, len(testIdx))
		for i, idx := range testIdx {
			truth[i] = samples[idx].spam
			probs[i] = model.Prob(scaled[idx])
		}
		state.Binary = model
		state.Report.Binary = EvaluateBinary(truth, probs)
		return nil
	})
	if len(enc.Classes) >= 2 {
		g.Go(func() error {
			X := make([][]float64, len(catTrain))
			y := make([]int, len(catTrain))
			for i, j := range catTrain {
				X[i] = scaled[catRows[j]]
				y[i] = samples[catRows[j]].class
			}
			model, err := FitSoftmax(gctx, X, y, len(enc.Classes), t.cfg.Fit)
			if err != nil {
				return err
			}
			truth := make([]int, len(catTest))
			predicted := make([]int, len(catTest))
			for i, j := range catTest {
				truth[i] = samples[catRows[j]].class
				predicted[i] = model.Predict(scaled[catRows[j]])
			}
			m := EvaluateMulticlass(truth, predicted, enc)
			state.Category = model
			state.Report.Category = &m
			return nil
		})
		g.Go(func() error {
			// diagnostic only: do discovered clusters line up with the categories
			X := make([][]float64, len(catRows))
			y := make([]int, len(catRows))
			for i, idx := range catRows {
				X[i] = scaled[idx]
				y[i] = samples[idx].class
			}
			assign := KMeans(X, len(enc.Classes), clusterSeed, 100)
			state.Report.Clusters = len(enc.Classes)
			state.Report.ClusterPurity = Purity(assign, y)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("training aborted: %w", err)
	}

	for raw, cat := range lib.ConsolidationTable() {
		state.Consolidation[raw] = string(cat)
	}
	state.Distribution = labelDistribution(samples)
	state.Version = fmt.Sprintf("%s-%s", state.TrainedAt.Format("20060102T150405Z"), uuid.NewString()[:8])
	report.Binary = state.Report.Binary
	report.Category = state.Report.Category
	report.Clusters = state.Report.Clusters
	report.ClusterPurity = state.Report.ClusterPurity
	report.Version = state.Version
	state.Report = report

	if report.Category != nil && report.ClusterPurity < 0.5 {
		t.logger.Warn("Clusters align poorly with consolidated categories",
			zap.Float64("purity", report.ClusterPurity),
			zap.Int("clusters", report.Clusters))
	}
	return state, feedbackIDs, nil
}

// applyFeedback relabels records that match a queued correction and turns
// unmatched corrections into extra samples
func (t *Trainer) applyFeedback(ctx context.Context, records []core.ClassificationRecord) ([]core.ClassificationRecord, int, []string, error) {
	if t.feedback == nil {
		return records, 0, nil, nil
	}
	pending, err := t.feedback.PendingFeedback(ctx)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to load pending feedback: %w", err)
	}
	if len(pending) == 0 {
		return records, 0, nil, nil
	}

	byKey := make(map[string]*core.Feedback, len(pending))
	ids := make([]string, 0, len(pending))
	for i := range pending {
		fb := &pending[i]
		ids = append(ids, fb.ID)
		byKey[feedbackKey(fb.Sender, fb.Subject)] = fb
	}

	out := make([]core.ClassificationRecord, len(records))
	copy(out, records)
	matched := make(map[string]bool)
	applied := 0
	for i := range out {
		fb, ok := byKey[feedbackKey(out[i].Sender, out[i].Subject)]
		if !ok {
			continue
		}
		out[i].Category = fb.CorrectCategory
		matched[fb.ID] = true
		applied++
	}
	for _, fb := range pending {
		if matched[fb.ID] {
			continue
		}
		cat, ok := core.ParseCategory(fb.CorrectCategory)
		if !ok {
			continue
		}
		action := core.ActionPreserved
		if cat.IsSpam() {
			action = core.ActionDeleted
		}
		out = append(out, core.ClassificationRecord{
			ID:        fb.ID,
			Sender:    fb.Sender,
			Subject:   fb.Subject,
			Category:  string(cat),
			Action:    action,
			Timestamp: fb.SubmittedAt,
		})
		applied++
	}
	return out, applied, ids, nil
}

func feedbackKey(sender, subject string) string {
	return strings.ToLower(strings.TrimSpace(sender)) + "\x00" + strings.ToLower(strings.TrimSpace(subject))
}

// stratifiedSplit shuffles each stratum and holds out frac of it
func stratifiedSplit(strata []int, frac float64, rng *rand.Rand) (train, test []int) {
	groups := make(map[int][]int)
	var order []int
	for i, s := range strata {
		if _, ok := groups[s]; !ok {
			order = append(order, s)
		}
		groups[s] = append(groups[s], i)
	}
	for _, s := range order {
		idx := groups[s]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := 0
		if len(idx) >= 2 {
			n = int(math.Max(1, math.Round(frac*float64(len(idx)))))
		}
		test = append(test, idx[:n]...)
		train = append(train, idx[n:]...)
	}
	return train, test
}

func labelDistribution(samples []sample) map[string]float64 {
	dist := make(map[string]float64)
	for _, s := range samples {
		dist[sampleLabel(s)] += 1 / float64(len(samples))
	}
	return dist
}

func sampleLabel(s sample) string {
	switch {
	case !s.spam:
		return PreservedLabel
	case s.category != "":
		return string(s.category)
	default:
		return string(core.ActionDeleted)
	}
}

// Distribution maps recent records to label counts comparable with
// ModelState.Distribution
func Distribution(records []core.ClassificationRecord, lib *patterns.Compiled, trained *ModelState) map[string]float64 {
	out := make(map[string]float64)
	for _, r := range records {
		switch r.Action {
		case core.ActionPreserved:
			out[PreservedLabel]++
		case core.ActionDeleted:
			label := string(core.ActionDeleted)
			if cat, ok := lib.Consolidate(r.Category); ok && trained != nil {
				if _, known := trained.Encoder.Encode(cat); known {
					label = string(cat)
				}
			}
			out[label]++
		}
	}
	return out
}
