package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/domain"
	"github.com/mikey/mail-classifier/internal/patterns"
	"github.com/mikey/mail-classifier/internal/rules"
	"github.com/mikey/mail-classifier/internal/subcategory"
	"github.com/mikey/mail-classifier/internal/vendor"
)

type fixedThreat struct {
	a core.ThreatAssessment
}

func (f fixedThreat) Assess(context.Context, core.TrustInput) core.ThreatAssessment { return f.a }

type fixedPredictor struct {
	p   *core.Prediction
	err error
}

func (f fixedPredictor) Predict(core.PredictInput) (*core.Prediction, error) { return f.p, f.err }

type fixedLLM struct {
	advice *core.Advice
	err    error
	calls  int
}

func (f *fixedLLM) Advise(context.Context, *core.InboundMessage, core.ClassificationVerdict) (*core.Advice, error) {
	f.calls++
	return f.advice, f.err
}

type memorySinks struct {
	mu       sync.Mutex
	records  []*core.ClassificationRecord
	feedback []*core.Feedback
}

func (m *memorySinks) RecordClassification(_ context.Context, r *core.ClassificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memorySinks) EnqueueFeedback(_ context.Context, fb *core.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, fb)
	return nil
}

func baseComponents(t *testing.T) core.Components {
	t.Helper()
	lib, err := patterns.DefaultCompiled()
	if err != nil {
		t.Fatalf("failed to compile default patterns: %v", err)
	}
	analyzer := domain.NewAnalyzer(lib)
	return core.Components{
		Analyzer: analyzer,
		Rules:    rules.NewClassifier(lib, analyzer, nil),
		Tagger:   subcategory.NewTagger(lib, nil, nil),
		Vendors:  vendor.NewClassifier(lib, vendor.DefaultPreferences(), vendor.DefaultConfig(), nil),
	}
}

func TestClassifyMessageScenarios(t *testing.T) {
	engine := core.NewEngine(baseComponents(t), core.DefaultEngineConfig(), nil)

	tests := []struct {
		name         string
		sender       string
		subject      string
		wantCategory core.Category
		wantPreserve bool
	}{
		{"community digest", "notify@ss.email.nextdoor.com", "New neighbor recommendations and local updates", core.CategoryPromotional, true},
		{"urgent verification", "admin@warfarersuk.com", "Urgent: Verify your account to avoid suspension", core.CategoryPhishing, false},
		{"brand's own domain", "orders@emails.macys.com", "Your payment method needs updating", core.CategoryPromotional, true},
		{"prize from gibberish domain", "winner@mvppnzrnrlmkqk.tk", "CONGRATULATIONS! You won $50,000!!!", core.CategoryPhishing, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.ClassifyMessage(context.Background(), &core.InboundMessage{Sender: tt.sender, Subject: tt.subject})
			if res.Verdict.Category != tt.wantCategory {
				t.Errorf("Category = %q (%s), want %q", res.Verdict.Category, res.Verdict.Reason, tt.wantCategory)
			}
			if res.ShouldPreserve != tt.wantPreserve {
				t.Errorf("ShouldPreserve = %v, want %v", res.ShouldPreserve, tt.wantPreserve)
			}
			if res.Subcategory.Subcategory == "" {
				t.Error("expected a subcategory")
			}
		})
	}
}

func TestClassifyEntryPoint(t *testing.T) {
	engine := core.NewEngine(baseComponents(t), core.DefaultEngineConfig(), nil)

	cat, conf, reason := engine.Classify("winner@mvppnzrnrlmkqk.tk", "CONGRATULATIONS! You won $50,000!!!", "")
	if cat != core.CategoryPhishing || conf < 0.9 || reason == "" {
		t.Errorf("Classify = %q, %.2f, %q", cat, conf, reason)
	}
}

func TestVendorRescuesTransactionalMail(t *testing.T) {
	engine := core.NewEngine(baseComponents(t), core.DefaultEngineConfig(), nil)

	res := engine.ClassifyMessage(context.Background(), &core.InboundMessage{
		Sender:  "alerts@chase.com",
		Subject: "Your Chase statement is ready",
	})
	if !res.Vendor.Resolved() || res.Vendor.Intent != core.IntentTransactional {
		t.Fatalf("Vendor = %+v", res.Vendor)
	}
	if !res.ShouldPreserve {
		t.Error("transactional vendor mail should be preserved")
	}
}

func TestTrustCorroboration(t *testing.T) {
	// nothing matches, so the rules return the default verdict at 0.5
	msg := &core.InboundMessage{Sender: "hello@randomvendorcorp.com", Subject: "Quick question about your team"}

	tests := []struct {
		name     string
		level    core.ThreatLevel
		wantCat  core.Category
		wantRule string
	}{
		{"phishing threat upgrades", core.ThreatPhishing, core.CategoryPhishing, core.RuleTrust},
		{"legitimate sender softens the catch-all", core.ThreatLegitimate, core.CategoryPromotional, core.RuleTrust},
		{"suspicious leaves the verdict", core.ThreatSuspicious, core.CategoryMarketingSpam, core.RuleDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseComponents(t)
			c.Trust = fixedThreat{a: core.ThreatAssessment{Level: tt.level, Confidence: 0.9}}
			res := core.NewEngine(c, core.DefaultEngineConfig(), nil).ClassifyMessage(context.Background(), msg)

			if res.Verdict.Category != tt.wantCat || res.Verdict.Rule != tt.wantRule {
				t.Errorf("Verdict = %+v, want %q by %s", res.Verdict, tt.wantCat, tt.wantRule)
			}
			if res.Threat == nil || res.Threat.Level != tt.level {
				t.Errorf("Threat = %+v", res.Threat)
			}
		})
	}
}

func TestTrustNeverOverridesConfidentVerdict(t *testing.T) {
	c := baseComponents(t)
	c.Trust = fixedThreat{a: core.ThreatAssessment{Level: core.ThreatPhishing, Confidence: 0.9}}
	engine := core.NewEngine(c, core.DefaultEngineConfig(), nil)

	res := engine.ClassifyMessage(context.Background(), &core.InboundMessage{
		Sender:  "vip@spinpalace.net",
		Subject: "200 free spins waiting at our casino",
	})
	if res.Verdict.Category != core.CategoryGambling {
		t.Errorf("Category = %q, want the confident gambling verdict", res.Verdict.Category)
	}
}

func TestStatisticalConfirmation(t *testing.T) {
	msg := &core.InboundMessage{Sender: "hello@randomvendorcorp.com", Subject: "Quick question about your team"}

	tests := []struct {
		name     string
		pred     fixedPredictor
		wantCat  core.Category
		wantRule string
	}{
		{
			name:     "category replaces the catch-all",
			pred:     fixedPredictor{p: &core.Prediction{IsSpam: true, SpamProbability: 0.9, Category: core.CategoryHealth, CategoryAvailable: true, CategoryConfidence: 0.8}},
			wantCat:  core.CategoryHealth,
			wantRule: core.RuleStatistical,
		},
		{
			name:     "preserve prediction",
			pred:     fixedPredictor{p: &core.Prediction{SpamProbability: 0.1}},
			wantCat:  core.CategoryPromotional,
			wantRule: core.RuleStatistical,
		},
		{
			name:     "untrained model falls back to rules",
			pred:     fixedPredictor{err: core.ErrModelNotTrained},
			wantCat:  core.CategoryMarketingSpam,
			wantRule: core.RuleDefault,
		},
		{
			name:     "unsure category keeps the rule verdict",
			pred:     fixedPredictor{p: &core.Prediction{IsSpam: true, SpamProbability: 0.55}},
			wantCat:  core.CategoryMarketingSpam,
			wantRule: core.RuleDefault,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseComponents(t)
			c.Predictor = tt.pred
			res := core.NewEngine(c, core.DefaultEngineConfig(), nil).ClassifyMessage(context.Background(), msg)
			if res.Verdict.Category != tt.wantCat || res.Verdict.Rule != tt.wantRule {
				t.Errorf("Verdict = %+v, want %q by %s", res.Verdict, tt.wantCat, tt.wantRule)
			}
		})
	}
}

func TestLLMSecondOpinion(t *testing.T) {
	msg := &core.InboundMessage{Sender: "hello@randomvendorcorp.com", Subject: "Quick question about your team"}

	llm := &fixedLLM{advice: &core.Advice{Category: core.CategoryCommercial, Confidence: 0.8, Explanation: "cold sales pitch"}}
	c := baseComponents(t)
	c.LLM = llm
	res := core.NewEngine(c, core.DefaultEngineConfig(), nil).ClassifyMessage(context.Background(), msg)
	if res.Verdict.Category != core.CategoryCommercial || res.Verdict.Rule != core.RuleLLM {
		t.Errorf("Verdict = %+v", res.Verdict)
	}

	// confident verdicts skip the LLM
	llm.calls = 0
	core.NewEngine(c, core.DefaultEngineConfig(), nil).ClassifyMessage(context.Background(), &core.InboundMessage{
		Sender: "winner@mvppnzrnrlmkqk.tk", Subject: "CONGRATULATIONS! You won $50,000!!!",
	})
	if llm.calls != 0 {
		t.Errorf("LLM consulted %d times for a confident verdict", llm.calls)
	}

	// invalid or failed advice is ignored
	for _, bad := range []*fixedLLM{
		{advice: &core.Advice{Category: "Not A Category", Confidence: 0.99}},
		{err: errors.New("rate limited")},
	} {
		c.LLM = bad
		res := core.NewEngine(c, core.DefaultEngineConfig(), nil).ClassifyMessage(context.Background(), msg)
		if res.Verdict.Rule != core.RuleDefault {
			t.Errorf("Verdict = %+v, want the default verdict", res.Verdict)
		}
	}
}

func TestProcessVendorEmail(t *testing.T) {
	engine := core.NewEngine(baseComponents(t), core.DefaultEngineConfig(), nil)

	got := engine.ProcessVendorEmail("offers@chase.com", "chase.com", "You're pre-approved for Chase Sapphire - earn bonus points", "")
	if got.Intent != core.IntentMarketing || got.ShouldPreserve {
		t.Errorf("ProcessVendorEmail = %+v", got)
	}

	disabled := core.NewEngine(core.Components{Analyzer: baseComponents(t).Analyzer}, core.DefaultEngineConfig(), nil)
	got = disabled.ProcessVendorEmail("offers@chase.com", "chase.com", "anything", "")
	if got.Intent != core.IntentUnknown || !got.ShouldPreserve {
		t.Errorf("disabled vendor path = %+v", got)
	}
}

func TestRecordFeedback(t *testing.T) {
	sinks := &memorySinks{}
	c := baseComponents(t)
	c.Feedback = sinks
	engine := core.NewEngine(c, core.DefaultEngineConfig(), nil)
	ctx := context.Background()

	fb, err := engine.RecordFeedback(ctx, "deals@shop.example", "Weekend sale", "marketing spam", "promotional email", 4)
	if err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if fb.ID == "" || fb.CorrectCategory != string(core.CategoryPromotional) || fb.PredictedCategory != string(core.CategoryMarketingSpam) {
		t.Errorf("Feedback = %+v", fb)
	}
	if len(sinks.feedback) != 1 {
		t.Fatalf("queued %d corrections, want 1", len(sinks.feedback))
	}

	for _, tt := range []struct {
		correct string
		rating  int
	}{
		{"Not a category", 3},
		{"Phishing", 0},
		{"Phishing", 6},
	} {
		if _, err := engine.RecordFeedback(ctx, "a@b.com", "s", "", tt.correct, tt.rating); !errors.Is(err, core.ErrInvalidFeedback) {
			t.Errorf("RecordFeedback(%q, %d) err = %v, want ErrInvalidFeedback", tt.correct, tt.rating, err)
		}
	}
	if len(sinks.feedback) != 1 {
		t.Error("invalid feedback was queued")
	}
}

func TestRecordOutcome(t *testing.T) {
	sinks := &memorySinks{}
	c := baseComponents(t)
	c.Outcomes = sinks
	engine := core.NewEngine(c, core.DefaultEngineConfig(), nil)
	ctx := context.Background()

	msg := &core.InboundMessage{Sender: "Neighbors <notify@ss.email.nextdoor.com>", Subject: "Local updates"}
	res := engine.ClassifyMessage(ctx, msg)
	if err := engine.RecordOutcome(ctx, core.Outcome(msg, res, core.ActionPreserved)); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	rec := sinks.records[0]
	if rec.ID == "" || rec.Domain != "ss.email.nextdoor.com" || rec.Timestamp.IsZero() || rec.Action != core.ActionPreserved {
		t.Errorf("record = %+v", rec)
	}

	if err := engine.RecordOutcome(ctx, &core.ClassificationRecord{Sender: "a@b.com", Action: "ARCHIVED"}); !errors.Is(err, core.ErrInvalidAction) {
		t.Errorf("err = %v, want ErrInvalidAction", err)
	}
}

func TestOutcomeKeepsAuthenticationResults(t *testing.T) {
	headers := "Received: from mx.example.com\r\n" +
		"Authentication-Results: mx.example.com;\r\n spf=pass smtp.mailfrom=nextdoor.com;\r\n dkim=pass header.d=nextdoor.com\r\n" +
		"Subject: Local updates\r\n" +
		"Authentication-Results: relay.example.net; dmarc=fail header.from=nextdoor.com\r\n"
	msg := &core.InboundMessage{Sender: "notify@ss.email.nextdoor.com", Subject: "Local updates", Headers: headers}
	res := &core.ClassificationResult{Verdict: rules.DefaultVerdict()}

	rec := core.Outcome(msg, res, core.ActionPreserved)
	want := []string{
		"Authentication-Results: mx.example.com; spf=pass smtp.mailfrom=nextdoor.com; dkim=pass header.d=nextdoor.com\r\n",
		"Authentication-Results: relay.example.net; dmarc=fail header.from=nextdoor.com\r\n",
	}
	for _, w := range want {
		if !strings.Contains(rec.AuthResults, w) {
			t.Errorf("AuthResults = %q, missing %q", rec.AuthResults, w)
		}
	}
	if strings.Contains(rec.AuthResults, "Received") || strings.Contains(rec.AuthResults, "Subject") {
		t.Errorf("AuthResults kept unrelated fields: %q", rec.AuthResults)
	}

	if got := core.AuthResultsFields("Subject: hi\r\n"); got != "" {
		t.Errorf("AuthResultsFields without the field = %q", got)
	}
}
