package statistical

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/domain"
	"github.com/mikey/mail-classifier/internal/patterns"
)

type memorySource struct {
	records []core.ClassificationRecord
}

func (m *memorySource) LabeledRecords(context.Context) ([]core.ClassificationRecord, error) {
	return m.records, nil
}

type memoryFeedback struct {
	mu       sync.Mutex
	pending  []core.Feedback
	consumed []string
}

func (m *memoryFeedback) PendingFeedback(context.Context) ([]core.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Feedback(nil), m.pending...), nil
}

func (m *memoryFeedback) MarkFeedbackConsumed(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed = append(m.consumed, ids...)
	return nil
}

var gibberish = []string{"xkqzvbnm", "qwrtzplk", "zxcvbnmq", "mvppnzrn", "rlmkqkzt", "bcdfghjk", "pqrstvwx", "lkjhgfds"}

func trainingRecords() []core.ClassificationRecord {
	var records []core.ClassificationRecord
	for i := 0; i < 20; i++ {
		records = append(records,
			core.ClassificationRecord{
				Sender:   fmt.Sprintf("security@%s%d.tk", gibberish[i%len(gibberish)], i),
				Subject:  fmt.Sprintf("URGENT: verify your account now or it will be suspended #%d", i),
				Category: "phishing scam",
				Action:   core.ActionDeleted,
			},
			core.ClassificationRecord{
				Sender:   fmt.Sprintf("vip@luckyspin%d.xyz", i),
				Subject:  fmt.Sprintf("Free spins at the casino! Jackpot waiting, place your bet %d", i),
				Category: "casino spam",
				Action:   core.ActionDeleted,
			},
			core.ClassificationRecord{
				Sender:   "alerts@chase.com",
				Subject:  fmt.Sprintf("Your statement for account ending %d is ready", 1000+i),
				Category: "Promotional Email",
				Action:   core.ActionPreserved,
			},
			core.ClassificationRecord{
				Sender:   "shipment-tracking@amazon.com",
				Subject:  "Your order has shipped",
				Category: "Promotional Email",
				Action:   core.ActionPreserved,
			},
		)
	}
	// unmapped raw labels are kept for the binary model only
	records = append(records, core.ClassificationRecord{
		Sender: "x@y.biz", Subject: "whatever", Category: "misc junk", Action: core.ActionDeleted,
	})
	return records
}

func newExtractor(t *testing.T) (*FeatureExtractor, *patterns.Compiled) {
	t.Helper()
	lib, err := patterns.DefaultCompiled()
	if err != nil {
		t.Fatalf("failed to compile default patterns: %v", err)
	}
	return NewFeatureExtractor(lib, domain.NewAnalyzer(lib)), lib
}

func trainedClassifier(t *testing.T) (*Classifier, *TrainingReport) {
	t.Helper()
	ext, lib := newExtractor(t)
	c := NewClassifier(ext, DefaultCategoryGate, nil)
	tr := NewTrainer(&memorySource{records: trainingRecords()}, nil, ext, lib, c, nil, DefaultTrainerConfig(), nil)
	report, err := tr.Train(context.Background(), 10)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	return c, report
}

func TestTrainAndPredict(t *testing.T) {
	c, report := trainedClassifier(t)

	if report.Deleted != 41 || report.Preserved != 40 {
		t.Errorf("Deleted/Preserved = %d/%d, want 41/40", report.Deleted, report.Preserved)
	}
	if report.Categories[string(core.CategoryPhishing)] != 20 || report.Categories[string(core.CategoryGambling)] != 20 {
		t.Errorf("Categories = %v", report.Categories)
	}
	if report.Dropped["misc junk"] != 1 {
		t.Errorf("Dropped = %v, want the unmapped label", report.Dropped)
	}
	if report.Binary.Accuracy < 0.9 {
		t.Errorf("binary accuracy = %.2f", report.Binary.Accuracy)
	}
	if report.Category == nil || report.Category.MacroF1 < 0.9 {
		t.Errorf("category metrics = %+v", report.Category)
	}
	if report.Clusters != 2 {
		t.Errorf("Clusters = %d, want 2", report.Clusters)
	}

	spam, err := c.Predict(core.PredictInput{
		Sender:  "security@qwrtzplk77.tk",
		Subject: "URGENT: verify your account now or it will be suspended #77",
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if !spam.IsSpam || !spam.CategoryAvailable || spam.Category != core.CategoryPhishing {
		t.Errorf("phishing prediction = %+v", spam)
	}
	if len(spam.Alternatives) != 1 || spam.Alternatives[0].Category != core.CategoryGambling {
		t.Errorf("Alternatives = %+v", spam.Alternatives)
	}

	ham, err := c.Predict(core.PredictInput{Sender: "alerts@chase.com", Subject: "Your statement for account ending 2042 is ready"})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if ham.IsSpam || ham.CategoryAvailable {
		t.Errorf("legitimate prediction = %+v", ham)
	}
	if ham.ModelVersion != report.Version {
		t.Errorf("ModelVersion = %q, want %q", ham.ModelVersion, report.Version)
	}
}

func TestPredictIsIdempotent(t *testing.T) {
	c, _ := trainedClassifier(t)
	in := core.PredictInput{Sender: "vip@luckyspin3.xyz", Subject: "Free spins at the casino!"}

	first, err := c.Predict(in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Predict(in)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("predictions differ:\n%+v\n%+v", first, second)
	}
}

func TestPredictWithoutModel(t *testing.T) {
	ext, _ := newExtractor(t)
	c := NewClassifier(ext, 0, nil)

	if _, err := c.Predict(core.PredictInput{Sender: "a@b.com", Subject: "hi"}); !errors.Is(err, core.ErrModelNotTrained) {
		t.Errorf("err = %v, want ErrModelNotTrained", err)
	}
	if _, err := c.DriftCheck(map[string]float64{"x": 1}, 0.1); !errors.Is(err, core.ErrModelNotTrained) {
		t.Errorf("DriftCheck err = %v", err)
	}
}

func TestTrainInsufficientData(t *testing.T) {
	ext, lib := newExtractor(t)
	src := &memorySource{records: trainingRecords()[:8]}
	tr := NewTrainer(src, nil, ext, lib, nil, nil, DefaultTrainerConfig(), nil)

	if _, err := tr.Train(context.Background(), 10); !errors.Is(err, core.ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestTrainCancelled(t *testing.T) {
	ext, lib := newExtractor(t)
	c := NewClassifier(ext, 0, nil)
	tr := NewTrainer(&memorySource{records: trainingRecords()}, nil, ext, lib, c, nil, DefaultTrainerConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Train(ctx, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if c.Current() != nil {
		t.Error("cancelled training installed a model")
	}
}

func TestTrainAppliesFeedback(t *testing.T) {
	ext, lib := newExtractor(t)
	records := trainingRecords()
	fb := &memoryFeedback{pending: []core.Feedback{
		{ID: "fb-1", Sender: records[1].Sender, Subject: records[1].Subject, CorrectCategory: "Phishing", ConfidenceRating: 5},
		{ID: "fb-2", Sender: "promo@shop.example", Subject: "Weekend sale", CorrectCategory: "Promotional Email", ConfidenceRating: 4},
	}}
	tr := NewTrainer(&memorySource{records: records}, fb, ext, lib, nil, nil, DefaultTrainerConfig(), nil)

	report, err := tr.Train(context.Background(), 10)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if report.FeedbackApplied != 2 {
		t.Errorf("FeedbackApplied = %d, want 2", report.FeedbackApplied)
	}
	if report.Categories[string(core.CategoryPhishing)] != 21 || report.Categories[string(core.CategoryGambling)] != 19 {
		t.Errorf("Categories = %v, want relabelled counts", report.Categories)
	}
	if report.Preserved != 41 {
		t.Errorf("Preserved = %d, want the unmatched correction added", report.Preserved)
	}
	if !reflect.DeepEqual(fb.consumed, []string{"fb-1", "fb-2"}) {
		t.Errorf("consumed = %v", fb.consumed)
	}
	if records[1].Category != "casino spam" {
		t.Error("feedback mutated the source records")
	}
}

func TestModelStoreRoundTrip(t *testing.T) {
	c, _ := trainedClassifier(t)
	store := NewModelStore(filepath.Join(t.TempDir(), "models", "model.msgpack"))

	if _, err := store.Load(); !errors.Is(err, core.ErrModelNotTrained) {
		t.Fatalf("missing model err = %v", err)
	}
	if err := store.Save(c.Current()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ext, _ := newExtractor(t)
	restored := NewClassifier(ext, 0, nil)
	if err := restored.Swap(loaded); err != nil {
		t.Fatal(err)
	}
	in := core.PredictInput{Sender: "security@zxcvbnmq5.tk", Subject: "verify your account"}
	want, _ := c.Predict(in)
	got, err := restored.Predict(in)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(want.SpamProbability-got.SpamProbability) > 1e-12 || want.Category != got.Category {
		t.Errorf("restored prediction %+v, want %+v", got, want)
	}
}

func smallModel(width int) *ModelState {
	return &ModelState{
		SchemaVersion: SchemaVersion,
		Version:       "test",
		FeatureWidth:  width,
		Scaler:        &Scaler{Mean: make([]float64, width), Std: ones(width)},
		Binary:        &Logistic{Weights: make([]float64, width), Bias: 2},
		Encoder:       &LabelEncoder{Classes: []core.Category{core.CategoryPhishing}},
		Distribution:  map[string]float64{PreservedLabel: 0.5, "Phishing": 0.5},
	}
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func TestPredictCorrectsFeatureWidth(t *testing.T) {
	ext, _ := newExtractor(t)
	for _, width := range []int{10, FeatureWidth + 7} {
		c := NewClassifier(ext, 0, nil)
		if err := c.Swap(smallModel(width)); err != nil {
			t.Fatal(err)
		}
		p, err := c.Predict(core.PredictInput{Sender: "a@b.com", Subject: "hello"})
		if err != nil {
			t.Fatalf("width %d: %v", width, err)
		}
		if !p.IsSpam || p.Category != core.CategoryPhishing || p.CategoryConfidence != 1 {
			t.Errorf("width %d: prediction = %+v", width, p)
		}
	}
}

func TestSwapRejectsInvalidModel(t *testing.T) {
	ext, _ := newExtractor(t)
	c := NewClassifier(ext, 0, nil)

	bad := smallModel(4)
	bad.Binary.Weights[2] = math.NaN()
	if err := c.Swap(bad); err == nil {
		t.Error("expected non-finite weights to be rejected")
	}

	short := smallModel(4)
	short.Binary.Weights = short.Binary.Weights[:3]
	if err := c.Swap(short); err == nil {
		t.Error("expected mismatched widths to be rejected")
	}

	weak := smallModel(4)
	weak.Report.Binary = BinaryMetrics{Accuracy: 0.4, Support: 10}
	if err := c.Swap(weak); err == nil {
		t.Error("expected a model below 0.5 accuracy to be rejected")
	}
	if c.Current() != nil {
		t.Error("rejected model was installed")
	}
}

func TestDrift(t *testing.T) {
	state := smallModel(4)
	tests := []struct {
		name    string
		current map[string]float64
		want    float64
	}{
		{"same", map[string]float64{PreservedLabel: 10, "Phishing": 10}, 0},
		{"disjoint", map[string]float64{"Gambling Spam": 3}, 1},
		{"shifted", map[string]float64{PreservedLabel: 1, "Phishing": 3}, 0.25},
		{"empty", map[string]float64{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := state.Drift(tt.current, 0.15)
			if math.Abs(got.Distance-tt.want) > 1e-9 {
				t.Errorf("Distance = %v, want %v", got.Distance, tt.want)
			}
			if got.NeedsRetraining != (tt.want > 0.15) {
				t.Errorf("NeedsRetraining = %v", got.NeedsRetraining)
			}
		})
	}
}

func TestExtractWidthAndRange(t *testing.T) {
	ext, _ := newExtractor(t)
	inputs := []core.PredictInput{
		{},
		{Sender: "winner@mvppnzrnrlmkqk.tk", Subject: "CONGRATULATIONS! You won $50,000!!!"},
		{Sender: "notify@ss.email.nextdoor.com", Subject: "New neighbor recommendations and local updates",
			Headers: "Authentication-Results: mx.example.net; spf=pass smtp.mailfrom=nextdoor.com; dkim=pass header.d=nextdoor.com\r\n"},
	}
	for _, in := range inputs {
		x := ext.Extract(in)
		if len(x) != FeatureWidth {
			t.Fatalf("width = %d, want %d", len(x), FeatureWidth)
		}
		for i, v := range x {
			if v < 0 || v > 1 || math.IsNaN(v) {
				t.Errorf("feature %d = %v for %+v", i, v, in)
			}
		}
	}
	authed := ext.Extract(inputs[2])
	if authed[17] != 1 || authed[18] != 1 || authed[20] != 0 {
		t.Errorf("auth features = %v", authed[17:21])
	}
}

func TestAUC(t *testing.T) {
	truth := []bool{false, false, true, true}
	if got := AUC(truth, []float64{0.1, 0.2, 0.8, 0.9}); got != 1 {
		t.Errorf("perfect AUC = %v", got)
	}
	if got := AUC(truth, []float64{0.9, 0.8, 0.2, 0.1}); got != 0 {
		t.Errorf("reversed AUC = %v", got)
	}
	if got := AUC(truth, []float64{0.5, 0.5, 0.5, 0.5}); got != 0.5 {
		t.Errorf("tied AUC = %v", got)
	}
	if got := AUC([]bool{true, true}, []float64{0.3, 0.4}); got != 0.5 {
		t.Errorf("single-class AUC = %v", got)
	}
}

func TestEvaluateBinary(t *testing.T) {
	m := EvaluateBinary(
		[]bool{true, true, true, false, false},
		[]float64{0.9, 0.7, 0.2, 0.6, 0.1},
	)
	if m.Accuracy != 0.6 {
		t.Errorf("Accuracy = %v", m.Accuracy)
	}
	if math.Abs(m.Precision-2.0/3) > 1e-9 || math.Abs(m.Recall-2.0/3) > 1e-9 || math.Abs(m.F1-2.0/3) > 1e-9 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestEvaluateMulticlass(t *testing.T) {
	enc := NewLabelEncoder([]core.Category{core.CategoryPhishing, core.CategoryGambling})
	// Gambling Spam sorts first
	m := EvaluateMulticlass([]int{0, 0, 0, 1}, []int{0, 0, 1, 1}, enc)
	if m.Accuracy != 0.75 {
		t.Errorf("Accuracy = %v", m.Accuracy)
	}
	gambling := m.PerClass[string(core.CategoryGambling)]
	phishing := m.PerClass[string(core.CategoryPhishing)]
	if gambling.Precision != 1 || math.Abs(gambling.Recall-2.0/3) > 1e-9 || phishing.Precision != 0.5 || phishing.Recall != 1 {
		t.Errorf("PerClass = %+v", m.PerClass)
	}
	wantMacro := (gambling.F1 + phishing.F1) / 2
	wantWeighted := (3*gambling.F1 + phishing.F1) / 4
	if math.Abs(m.MacroF1-wantMacro) > 1e-9 || math.Abs(m.WeightedF1-wantWeighted) > 1e-9 {
		t.Errorf("MacroF1 = %v, WeightedF1 = %v", m.MacroF1, m.WeightedF1)
	}
}

func TestLabelEncoder(t *testing.T) {
	enc := NewLabelEncoder([]core.Category{core.CategoryPhishing, core.CategoryAdult, core.CategoryPhishing})
	if !reflect.DeepEqual(enc.Classes, []core.Category{core.CategoryAdult, core.CategoryPhishing}) {
		t.Fatalf("Classes = %v", enc.Classes)
	}
	if i, ok := enc.Encode(core.CategoryPhishing); !ok || i != 1 || enc.Decode(i) != core.CategoryPhishing {
		t.Errorf("Encode(Phishing) = %d, %v", i, ok)
	}
	if _, ok := enc.Encode(core.CategoryHealth); ok {
		t.Error("unknown class encoded")
	}
}

func TestKMeansSeparatesBlobs(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	var X [][]float64
	var labels []int
	for i := 0; i < 30; i++ {
		X = append(X, []float64{rng.Float64(), rng.Float64()})
		labels = append(labels, 0)
		X = append(X, []float64{10 + rng.Float64(), 10 + rng.Float64()})
		labels = append(labels, 1)
	}

	first := KMeans(X, 2, 7, 50)
	if p := Purity(first, labels); p != 1 {
		t.Errorf("purity = %v, want 1", p)
	}
	if second := KMeans(X, 2, 7, 50); !reflect.DeepEqual(first, second) {
		t.Error("k-means is not deterministic for a fixed seed")
	}
}

func TestStratifiedSplit(t *testing.T) {
	strata := make([]int, 0, 50)
	for i := 0; i < 40; i++ {
		strata = append(strata, 0)
	}
	for i := 0; i < 10; i++ {
		strata = append(strata, 1)
	}

	train, test := stratifiedSplit(strata, 0.2, rand.New(rand.NewPCG(42, 43)))
	if len(train)+len(test) != len(strata) {
		t.Fatalf("split lost rows: %d + %d", len(train), len(test))
	}
	ones := 0
	for _, i := range test {
		ones += strata[i]
	}
	if len(test) != 10 || ones != 2 {
		t.Errorf("test = %d rows with %d minority, want 10 with 2", len(test), ones)
	}

	train2, test2 := stratifiedSplit(strata, 0.2, rand.New(rand.NewPCG(42, 43)))
	if !reflect.DeepEqual(train, train2) || !reflect.DeepEqual(test, test2) {
		t.Error("split is not deterministic for a fixed seed")
	}
}

func TestStoredAuthResultsMatchServingFeatures(t *testing.T) {
	ext, _ := newExtractor(t)
	headers := "Received: from relay.example.net\r\n" +
		"Authentication-Results: mx.example.net; spf=pass smtp.mailfrom=nextdoor.com;\r\n dkim=fail header.d=nextdoor.com\r\n" +
		"Subject: New neighbor recommendations\r\n"
	serving := core.PredictInput{Sender: "notify@ss.email.nextdoor.com", Subject: "New neighbor recommendations", Headers: headers}

	rec := core.ClassificationRecord{Sender: serving.Sender, Subject: serving.Subject, AuthResults: core.AuthResultsFields(headers)}
	training := core.PredictInput{Sender: rec.Sender, Subject: rec.Subject, Domain: rec.Domain, Headers: rec.AuthResults}

	got, want := ext.Extract(training), ext.Extract(serving)
	if !reflect.DeepEqual(got[17:21], want[17:21]) {
		t.Errorf("training auth features = %v, serving = %v", got[17:21], want[17:21])
	}
	if want[17] != 1 || want[20] != 1 {
		t.Errorf("serving auth features = %v, want spf pass and a failure", want[17:21])
	}
}
