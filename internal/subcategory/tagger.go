package subcategory

import (
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/patterns"
)

// Scores are normalized against this raw weight sum
const saturationScore = 3.0

// FallbackConfidence is reported for the "General {category}" tag
const FallbackConfidence = 0.3

// Hit is one matched (category, subcategory, pattern) triple
type Hit struct {
	Category    core.Category
	Subcategory string
	Pattern     string
}

// HitRecorder receives pattern matches off the classification path
type HitRecorder interface {
	Record(hit Hit)
}

// Tagger implements core.SubcategoryTagger
type Tagger struct {
	patterns patterns.Source
	recorder HitRecorder
	logger   *zap.Logger
}

// NewTagger creates a tagger. recorder may be nil.
func NewTagger(src patterns.Source, recorder HitRecorder, logger *zap.Logger) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tagger{
		patterns: src,
		recorder: recorder,
		logger:   logger,
	}
}

// Tag scores the category's weighted pattern table and returns the best subcategory
func (t *Tagger) Tag(in core.TagInput) core.SubcategoryTag {
	rules := t.patterns.Current().Subcategories(in.Category)

	domain := in.Domain
	if domain == "" {
		if at := strings.LastIndex(in.Sender, "@"); at >= 0 {
			domain = strings.Trim(in.Sender[at+1:], "> ")
		}
	}
	fields := map[string]string{
		patterns.FieldSubject: in.Subject,
		patterns.FieldSender:  in.Sender,
		patterns.FieldBody:    in.Body,
		patterns.FieldDomain:  strings.ToLower(domain),
	}

	var order []string
	scores := make(map[string]float64)
	matches := make(map[string][]core.PatternMatch)
	for _, rule := range rules {
		text := fields[rule.Field]
		if text == "" || !rule.Re.MatchString(text) {
			continue
		}
		if _, seen := scores[rule.Subcategory]; !seen {
			order = append(order, rule.Subcategory)
		}
		scores[rule.Subcategory] += rule.Weight
		matches[rule.Subcategory] = append(matches[rule.Subcategory], core.PatternMatch{
			Type:    rule.Field,
			Pattern: rule.Pattern,
			Weight:  rule.Weight,
		})
		if t.recorder != nil {
			t.recorder.Record(Hit{Category: in.Category, Subcategory: rule.Subcategory, Pattern: rule.Pattern})
		}
	}

	if len(order) == 0 {
		return core.SubcategoryTag{
			Category:    in.Category,
			Subcategory: General(in.Category),
			Confidence:  FallbackConfidence,
		}
	}

	best := order[0]
	for _, sub := range order[1:] {
		if scores[sub] > scores[best] {
			best = sub
		}
	}

	conf := scores[best] / saturationScore
	if conf > 1 {
		conf = 1
	}

	t.logger.Debug("Tagged subcategory",
		zap.String("category", string(in.Category)),
		zap.String("subcategory", best),
		zap.Float64("score", scores[best]))

	return core.SubcategoryTag{
		Category:    in.Category,
		Subcategory: best,
		Confidence:  conf,
		Matches:     matches[best],
	}
}

// General returns the fallback subcategory name of category
func General(category core.Category) string {
	return "General " + string(category)
}
