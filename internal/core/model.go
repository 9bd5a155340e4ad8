package core

import (
	"time"
)

// Category is a value of the closed spam/legitimacy taxonomy
type Category string

// Taxonomy values. Every verdict carries exactly one of these.
const (
	CategoryAdult         Category = "Adult & Dating Spam"
	CategoryBrand         Category = "Brand Impersonation"
	CategoryPhishing      Category = "Phishing"
	CategoryPaymentScam   Category = "Payment Scam"
	CategoryFinancial     Category = "Financial & Investment Spam"
	CategoryHealth        Category = "Health & Medical Spam"
	CategoryGambling      Category = "Gambling Spam"
	CategoryRealEstate    Category = "Real Estate Spam"
	CategoryLegal         Category = "Legal & Compensation Scam"
	CategoryPromotional   Category = "Promotional Email"
	CategoryMarketingSpam Category = "Marketing Spam"
	CategoryCommercial    Category = "Commercial Spam"
)

// Categories lists the taxonomy in detector priority order
var Categories = []Category{
	CategoryAdult,
	CategoryBrand,
	CategoryPhishing,
	CategoryPaymentScam,
	CategoryFinancial,
	CategoryHealth,
	CategoryGambling,
	CategoryRealEstate,
	CategoryLegal,
	CategoryPromotional,
	CategoryMarketingSpam,
	CategoryCommercial,
}

// IsValid reports whether c belongs to the taxonomy
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// IsSpam reports whether mail of this category should be removed by default
func (c Category) IsSpam() bool {
	return c != CategoryPromotional
}

// ParseCategory matches s case-insensitively against the taxonomy
func ParseCategory(s string) (Category, bool) {
	for _, known := range Categories {
		if equalFoldTrim(string(known), s) {
			return known, true
		}
	}
	return "", false
}

// InboundMessage represents the raw fields of an email supplied by the mail agent
type InboundMessage struct {
	Sender      string
	DisplayName string
	Subject     string
	Headers     string
	Body        string
}

// DomainProfile is the parsed, heuristically flagged sender domain
type DomainProfile struct {
	Domain       string
	Subdomain    string
	Name         string
	Suffix       string
	Registrable  string
	IsGibberish  bool
	IsSuspicious bool
	IsLegitimate bool
	IsValid      bool
}

// ClassificationVerdict is the output of the rule chain
type ClassificationVerdict struct {
	Category   Category
	Confidence float64
	Reason     string
	Rule       string
}

// Rule names of verdicts not produced by a detector
const (
	RuleDefault     = "default"
	RuleTrust       = "trust"
	RuleStatistical = "statistical"
	RuleLLM         = "llm"
)

// ThreatLevel is the four-tier output of the trust scorer
type ThreatLevel string

// Threat levels, ordered from most to least trusted
const (
	ThreatLegitimate ThreatLevel = "LEGITIMATE"
	ThreatSuspicious ThreatLevel = "SUSPICIOUS"
	ThreatHighRisk   ThreatLevel = "HIGH_RISK"
	ThreatPhishing   ThreatLevel = "PHISHING"
)

// DimensionScores holds the five independent trust sub-scores, each in [0,1]
type DimensionScores struct {
	Authentication float64 `json:"authentication"`
	Business       float64 `json:"business"`
	Content        float64 `json:"content"`
	Geographic     float64 `json:"geographic"`
	Network        float64 `json:"network"`
}

// ThreatAssessment is the output of the multi-dimensional trust scorer
type ThreatAssessment struct {
	Level      ThreatLevel
	Score      float64
	Confidence float64
	Dimensions DimensionScores
	Reasons    []string
	Override   string
}

// PatternMatch describes one weighted pattern that matched
type PatternMatch struct {
	Type    string  `json:"type"`
	Pattern string  `json:"pattern"`
	Weight  float64 `json:"weight"`
}

// SubcategoryTag refines a coarse category
type SubcategoryTag struct {
	Category    Category
	Subcategory string
	Confidence  float64
	Matches     []PatternMatch
}

// Intent is the purpose of a vendor message
type Intent string

// Vendor intents
const (
	IntentTransactional Intent = "TRANSACTIONAL"
	IntentMarketing     Intent = "MARKETING"
	IntentService       Intent = "SERVICE"
	IntentSecurity      Intent = "SECURITY"
	IntentPromotional   Intent = "PROMOTIONAL"
	IntentUnknown       Intent = "UNKNOWN"
)

// Intents lists the resolvable intents in tie-break order
var Intents = []Intent{
	IntentTransactional,
	IntentSecurity,
	IntentService,
	IntentMarketing,
	IntentPromotional,
}

// VendorClassification is the intent verdict for mail from a recognized vendor
type VendorClassification struct {
	Vendor         string
	VendorCategory string
	Intent         Intent
	Confidence     float64
	ShouldPreserve bool
	Reasoning      string
	Scores         map[Intent]float64
	Matches        []PatternMatch
}

// Resolved reports whether the sender matched a known vendor
func (v *VendorClassification) Resolved() bool {
	return v != nil && v.Vendor != ""
}

// Prediction is the output of the statistical classifier
type Prediction struct {
	IsSpam             bool
	SpamProbability    float64
	Category           Category
	CategoryAvailable  bool
	CategoryConfidence float64
	Alternatives       []CategoryScore
	ModelVersion       string
}

// CategoryScore is one ranked category alternative
type CategoryScore struct {
	Category    Category
	Probability float64
}

// Advice is a second opinion returned by an LLM advisor
type Advice struct {
	Category    Category
	Confidence  float64
	Explanation string
	ModelUsed   string
}

// ClassificationResult is everything the engine knows about a message
type ClassificationResult struct {
	Verdict        ClassificationVerdict
	Threat         *ThreatAssessment
	Subcategory    SubcategoryTag
	Vendor         *VendorClassification
	Prediction     *Prediction
	Advice         *Advice
	Profile        DomainProfile
	ShouldPreserve bool
	AnalyzedAt     time.Time
}

// Action is the keep-or-delete outcome recorded for a message
type Action string

// Actions
const (
	ActionDeleted   Action = "DELETED"
	ActionPreserved Action = "PRESERVED"
)

// ClassificationRecord is the persisted outcome of a classification
type ClassificationRecord struct {
	ID          string
	Sender      string
	Domain      string
	Subject     string
	Category    string
	Confidence  float64
	Action      Action
	// AuthResults holds the message's Authentication-Results fields so
	// training sees the same receiver evidence as prediction
	AuthResults string
	Timestamp   time.Time
}

// Feedback is a correction submitted by a human or automation
type Feedback struct {
	ID                string
	Sender            string
	Subject           string
	PredictedCategory string
	CorrectCategory   string
	ConfidenceRating  int
	SubmittedAt       time.Time
}

// CacheEntry is a cached value keyed by string
type CacheEntry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its expiry at now
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// PatternCount is an occurrence counter for a subcategory pattern
type PatternCount struct {
	Category    string
	Subcategory string
	Pattern     string
	Count       int64
}
