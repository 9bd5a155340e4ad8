package core

import (
	"context"
)

// DomainAnalyzer parses and flags a sender domain
type DomainAnalyzer interface {
	Analyze(sender string) DomainProfile
}

// VerdictClassifier is the deterministic rule chain
type VerdictClassifier interface {
	Classify(sender, subject, headers string) ClassificationVerdict
}

// TrustInput is the data the trust scorer looks at
type TrustInput struct {
	Sender      string
	Domain      string
	DisplayName string
	Subject     string
	Headers     string
}

// ThreatScorer independently assesses the sender's trustworthiness
type ThreatScorer interface {
	Assess(ctx context.Context, in TrustInput) ThreatAssessment
}

// TagInput is the data the subcategory tagger looks at
type TagInput struct {
	Category Category
	Subject  string
	Sender   string
	Body     string
	Domain   string
}

// SubcategoryTagger refines a coarse category
type SubcategoryTagger interface {
	Tag(in TagInput) SubcategoryTag
}

// VendorInput is the data the vendor intent classifier looks at
type VendorInput struct {
	Sender  string
	Domain  string
	Subject string
	Content string
}

// VendorClassifier classifies the intent of mail from known vendors
type VendorClassifier interface {
	Classify(in VendorInput) VendorClassification
}

// PredictInput is the data the statistical classifier looks at
type PredictInput struct {
	Sender  string
	Subject string
	Domain  string
	Headers string
}

// CategoryPredictor is the trained-model classification path
type CategoryPredictor interface {
	// Predict returns ErrModelNotTrained when no model is loaded
	Predict(in PredictInput) (*Prediction, error)
}

// LLMClient defines the interface for asking an LLM for a second opinion
type LLMClient interface {
	// Advise returns the model's category for a message the rules were unsure about
	Advise(ctx context.Context, msg *InboundMessage, verdict ClassificationVerdict) (*Advice, error)
}

// CacheRepository defines the interface for bounded-TTL caches keyed by string
type CacheRepository interface {
	// Get retrieves an unexpired entry
	Get(ctx context.Context, key string) (*CacheEntry, error)

	// Set stores an entry
	Set(ctx context.Context, entry *CacheEntry) error

	// Delete removes an entry
	Delete(ctx context.Context, key string) error

	// Cleanup removes expired entries
	Cleanup(ctx context.Context) error
}

// ClassificationLog persists classification outcomes for training
type ClassificationLog interface {
	RecordClassification(ctx context.Context, record *ClassificationRecord) error
}

// PatternCounter persists subcategory pattern occurrence counters
type PatternCounter interface {
	IncrementPattern(ctx context.Context, category, subcategory, pattern string, delta int64) error
	PatternCounts(ctx context.Context) ([]PatternCount, error)
}

// FeedbackQueue accepts corrections for the next training cycle
type FeedbackQueue interface {
	EnqueueFeedback(ctx context.Context, fb *Feedback) error
}

// FeedbackSource yields queued corrections to the trainer
type FeedbackSource interface {
	PendingFeedback(ctx context.Context) ([]Feedback, error)
	MarkFeedbackConsumed(ctx context.Context, ids []string) error
}

// TrainingSource yields historical messages with a confirmed action
type TrainingSource interface {
	LabeledRecords(ctx context.Context) ([]ClassificationRecord, error)
}

// EmailFilter is a long-running mail intake surface
type EmailFilter interface {
	Start() error
	Stop() error
}
