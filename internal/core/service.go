package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EngineConfig tunes how the engine combines its classifiers
type EngineConfig struct {
	// CorroborateBelow is the verdict confidence under which the trust
	// assessment may upgrade or soften the verdict
	CorroborateBelow float64
	// LLMBelow is the verdict confidence under which the LLM is consulted
	LLMBelow float64
}

// DefaultEngineConfig returns the engine defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{CorroborateBelow: 0.6, LLMBelow: 0.6}
}

// Components are the classifiers and sinks the engine uses. Only Analyzer and
// Rules are required.
type Components struct {
	Analyzer  DomainAnalyzer
	Rules     VerdictClassifier
	Trust     ThreatScorer
	Tagger    SubcategoryTagger
	Vendors   VendorClassifier
	Predictor CategoryPredictor
	LLM       LLMClient
	Outcomes  ClassificationLog
	Feedback  FeedbackQueue
}

// Engine is the core classification service
type Engine struct {
	c      Components
	cfg    EngineConfig
	logger *zap.Logger
}

// NewEngine creates a new classification engine
func NewEngine(c Components, cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{c: c, cfg: cfg, logger: logger}
}

// Classify is the synchronous entry point used by mail agents
func (e *Engine) Classify(sender, subject, headers string) (Category, float64, string) {
	res := e.ClassifyMessage(context.Background(), &InboundMessage{Sender: sender, Subject: subject, Headers: headers})
	return res.Verdict.Category, res.Verdict.Confidence, res.Verdict.Reason
}

// ClassifyMessage runs every configured classifier over msg. It never fails;
// optional stages that cannot run are skipped.
func (e *Engine) ClassifyMessage(ctx context.Context, msg *InboundMessage) *ClassificationResult {
	res := &ClassificationResult{
		Profile:    e.c.Analyzer.Analyze(msg.Sender),
		Verdict:    e.c.Rules.Classify(msg.Sender, msg.Subject, msg.Headers),
		AnalyzedAt: time.Now(),
	}

	if e.c.Trust != nil {
		a := e.c.Trust.Assess(ctx, TrustInput{
			Sender:      msg.Sender,
			Domain:      res.Profile.Domain,
			DisplayName: msg.DisplayName,
			Subject:     msg.Subject,
			Headers:     msg.Headers,
		})
		res.Threat = &a
		if res.Verdict.Confidence < e.cfg.CorroborateBelow {
			res.Verdict = corroborate(res.Verdict, a)
		}
	}

	if e.c.Predictor != nil {
		p, err := e.c.Predictor.Predict(PredictInput{
			Sender:  msg.Sender,
			Subject: msg.Subject,
			Domain:  res.Profile.Domain,
			Headers: msg.Headers,
		})
		switch {
		case errors.Is(err, ErrModelNotTrained):
			e.logger.Debug("Statistical model not trained, using rule verdict")
		case err != nil:
			e.logger.Warn("Statistical prediction failed", zap.Error(err))
		default:
			res.Prediction = p
			res.Verdict = confirm(res.Verdict, p)
		}
	}

	if e.c.LLM != nil && res.Verdict.Confidence < e.cfg.LLMBelow && res.Verdict.Category != CategoryAdult {
		advice, err := e.c.LLM.Advise(ctx, msg, res.Verdict)
		if err != nil {
			e.logger.Warn("LLM second opinion failed", zap.Error(err))
		} else if advice != nil {
			res.Advice = advice
			if advice.Category.IsValid() && advice.Confidence > res.Verdict.Confidence {
				res.Verdict = ClassificationVerdict{
					Category:   advice.Category,
					Confidence: clamp01(advice.Confidence),
					Reason:     "LLM second opinion: " + advice.Explanation,
					Rule:       RuleLLM,
				}
			}
		}
	}

	if e.c.Tagger != nil {
		res.Subcategory = e.c.Tagger.Tag(TagInput{
			Category: res.Verdict.Category,
			Subject:  msg.Subject,
			Sender:   msg.Sender,
			Body:     msg.Body,
			Domain:   res.Profile.Domain,
		})
	}

	res.ShouldPreserve = !res.Verdict.Category.IsSpam()
	if e.c.Vendors != nil {
		vc := e.c.Vendors.Classify(VendorInput{
			Sender:  msg.Sender,
			Domain:  res.Profile.Domain,
			Subject: msg.Subject,
			Content: msg.Body,
		})
		if vc.Resolved() {
			// vendors can only rescue mail, a discard keeps the category decision
			res.Vendor = &vc
			res.ShouldPreserve = res.ShouldPreserve || vc.ShouldPreserve
		}
	}

	e.logger.Debug("Classified message",
		zap.String("sender", msg.Sender),
		zap.String("category", string(res.Verdict.Category)),
		zap.Float64("confidence", res.Verdict.Confidence),
		zap.String("rule", res.Verdict.Rule),
		zap.Bool("preserve", res.ShouldPreserve))
	return res
}

// corroborate lets a decisive trust assessment adjust an unsure verdict
func corroborate(v ClassificationVerdict, a ThreatAssessment) ClassificationVerdict {
	switch {
	case v.Category == CategoryAdult:
		return v
	case a.Level == ThreatPhishing && v.Category != CategoryPhishing:
		return ClassificationVerdict{
			Category:   CategoryPhishing,
			Confidence: math.Max(v.Confidence, a.Confidence),
			Reason:     joinReasons(v.Reason, "sender trust assessment is PHISHING"),
			Rule:       RuleTrust,
		}
	case a.Level == ThreatLegitimate && v.Rule == RuleDefault:
		return ClassificationVerdict{
			Category:   CategoryPromotional,
			Confidence: math.Max(v.Confidence, a.Confidence),
			Reason:     "No spam pattern matched and the sender is trusted",
			Rule:       RuleTrust,
		}
	}
	return v
}

// confirm lets the statistical model replace the catch-all verdict
func confirm(v ClassificationVerdict, p *Prediction) ClassificationVerdict {
	if v.Rule != RuleDefault || p == nil {
		return v
	}
	switch {
	case p.CategoryAvailable && p.CategoryConfidence > v.Confidence:
		return ClassificationVerdict{
			Category:   p.Category,
			Confidence: p.CategoryConfidence,
			Reason:     fmt.Sprintf("Statistical model %s (spam probability %.2f)", p.ModelVersion, p.SpamProbability),
			Rule:       RuleStatistical,
		}
	case !p.IsSpam && 1-p.SpamProbability > v.Confidence:
		return ClassificationVerdict{
			Category:   CategoryPromotional,
			Confidence: 1 - p.SpamProbability,
			Reason:     fmt.Sprintf("Statistical model %s predicts preserve (spam probability %.2f)", p.ModelVersion, p.SpamProbability),
			Rule:       RuleStatistical,
		}
	}
	return v
}

// ProcessVendorEmail classifies the intent of mail from a known vendor
func (e *Engine) ProcessVendorEmail(sender, domain, subject, content string) VendorClassification {
	if e.c.Vendors == nil {
		return VendorClassification{Intent: IntentUnknown, ShouldPreserve: true, Reasoning: "Vendor classification disabled"}
	}
	return e.c.Vendors.Classify(VendorInput{Sender: sender, Domain: domain, Subject: subject, Content: content})
}

// RecordFeedback queues a correction for the next training cycle. It is never
// applied to the serving model directly.
func (e *Engine) RecordFeedback(ctx context.Context, sender, subject, predicted, correct string, rating int) (*Feedback, error) {
	cat, ok := ParseCategory(correct)
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidFeedback, correct)
	}
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: confidence rating %d outside 1-5", ErrInvalidFeedback, rating)
	}
	if strings.TrimSpace(sender) == "" && strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("%w: sender and subject are both empty", ErrInvalidFeedback)
	}
	if e.c.Feedback == nil {
		return nil, errors.New("no feedback queue configured")
	}
	if p, ok := ParseCategory(predicted); ok {
		predicted = string(p)
	}

	fb := &Feedback{
		ID:                uuid.NewString(),
		Sender:            sender,
		Subject:           subject,
		PredictedCategory: predicted,
		CorrectCategory:   string(cat),
		ConfidenceRating:  rating,
		SubmittedAt:       time.Now().UTC(),
	}
	if err := e.c.Feedback.EnqueueFeedback(ctx, fb); err != nil {
		return nil, fmt.Errorf("failed to queue feedback: %w", err)
	}
	e.logger.Info("Queued feedback for next training cycle",
		zap.String("id", fb.ID),
		zap.String("predicted", fb.PredictedCategory),
		zap.String("correct", fb.CorrectCategory))
	return fb, nil
}

// RecordOutcome persists the action taken on a classified message so the
// statistical trainer has ground truth
func (e *Engine) RecordOutcome(ctx context.Context, rec *ClassificationRecord) error {
	if rec.Action != ActionDeleted && rec.Action != ActionPreserved {
		return fmt.Errorf("%w: %q", ErrInvalidAction, rec.Action)
	}
	if e.c.Outcomes == nil {
		return errors.New("no classification log configured")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Domain == "" {
		rec.Domain = e.c.Analyzer.Analyze(rec.Sender).Domain
	}
	if err := e.c.Outcomes.RecordClassification(ctx, rec); err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// Outcome builds the record to persist for a classified message
func Outcome(msg *InboundMessage, res *ClassificationResult, action Action) *ClassificationRecord {
	return &ClassificationRecord{
		Sender:      msg.Sender,
		Domain:      res.Profile.Domain,
		Subject:     msg.Subject,
		Category:    string(res.Verdict.Category),
		Confidence:  res.Verdict.Confidence,
		Action:      action,
		AuthResults: AuthResultsFields(msg.Headers),
		Timestamp:   res.AnalyzedAt.UTC(),
	}
}

// AuthResultsFields returns the Authentication-Results fields of a header
// block, one unfolded field per line, or "" when there are none
func AuthResultsFields(headers string) string {
	if !strings.Contains(strings.ToLower(headers), "authentication-results") {
		return ""
	}
	block := strings.TrimRight(headers, "\r\n") + "\r\n\r\n"
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(block)))
	if err != nil {
		return ""
	}
	var b strings.Builder
	fields := h.FieldsByKey("Authentication-Results")
	for fields.Next() {
		b.WriteString("Authentication-Results: ")
		b.WriteString(strings.Join(strings.Fields(fields.Value()), " "))
		b.WriteString("\r\n")
	}
	return b.String()
}

func joinReasons(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
