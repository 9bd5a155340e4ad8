// Package rules implements the priority-ordered hierarchical classifier.
//
// Detectors are data: an ordered list of Rule values evaluated by a small
// engine loop. Ordering and short-circuit behavior:
//
//	Stage 1   adult content        returns immediately on match
//	Stage 2-3 brand, phishing      return at confidence >= EarlyExitThreshold
//	                               or on a Final match, otherwise held as a
//	                               tentative verdict
//	Stage 4-8 content categories   first match wins; replaces a held verdict
//	                               only with strictly higher confidence
//	Stage 9-10 promotional, default return the held verdict if there is one
package rules

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/metrics"
	"github.com/mikey/mail-classifier/internal/patterns"
)

// EarlyExitThreshold stops the chain when an early-exit rule reaches it
const EarlyExitThreshold = 0.95

// Kind controls how the engine treats a rule's match
type Kind int

const (
	// KindImmediate matches end the chain
	KindImmediate Kind = iota
	// KindEarlyExit matches end the chain at EarlyExitThreshold, otherwise are held
	KindEarlyExit
	// KindContent matches end the chain, unless a held verdict is more confident
	KindContent
	// KindFallback matches only apply when nothing is held
	KindFallback
)

// Input is everything a rule may inspect. It is built once per message and
// never mutated by rules.
type Input struct {
	Sender  string
	Subject string
	Headers string
	Profile core.DomainProfile

	// Text is the folded sender, subject and headers
	Text string
	// BrandText is the folded sender and subject
	BrandText string
	// SubjectText is the folded subject
	SubjectText string

	Patterns *patterns.Compiled
}

// Match is a rule's verdict
type Match struct {
	Category   core.Category
	Confidence float64
	Reason     string
	// Final ends the chain whatever the confidence
	Final bool
}

// Rule is one detector
type Rule struct {
	Name  string
	Stage int
	Kind  Kind
	Eval  func(in *Input) (Match, bool)
}

// Classifier implements core.VerdictClassifier
type Classifier struct {
	rules    []Rule
	analyzer core.DomainAnalyzer
	patterns patterns.Source
	logger   *zap.Logger
}

// NewClassifier creates a classifier with the default detector chain
func NewClassifier(src patterns.Source, analyzer core.DomainAnalyzer, logger *zap.Logger) *Classifier {
	return NewClassifierWithRules(DefaultRules(), src, analyzer, logger)
}

// NewClassifierWithRules creates a classifier evaluating rules in the given order
func NewClassifierWithRules(rules []Rule, src patterns.Source, analyzer core.DomainAnalyzer, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		rules:    rules,
		analyzer: analyzer,
		patterns: src,
		logger:   logger,
	}
}

// Rules returns the detector chain in evaluation order
func (c *Classifier) Rules() []Rule {
	return c.rules
}

// Classify runs the detector chain. It always returns a verdict drawn from
// the taxonomy, falling back to Marketing Spam.
func (c *Classifier) Classify(sender, subject, headers string) core.ClassificationVerdict {
	in := c.buildInput(sender, subject, headers)

	var held *core.ClassificationVerdict
	for _, rule := range c.rules {
		m, ok := c.evaluate(rule, in)
		if !ok {
			continue
		}
		v := verdict(rule, m)

		switch rule.Kind {
		case KindImmediate:
			return v

		case KindEarlyExit:
			if m.Final || v.Confidence >= EarlyExitThreshold {
				return v
			}
			if held == nil || v.Confidence > held.Confidence {
				held = &v
			}

		case KindContent:
			if held != nil && v.Confidence <= held.Confidence {
				return *held
			}
			return v

		case KindFallback:
			if held != nil {
				return *held
			}
			return v
		}
	}

	if held != nil {
		return *held
	}
	return DefaultVerdict()
}

// DefaultVerdict is the catch-all returned when nothing else fires
func DefaultVerdict() core.ClassificationVerdict {
	return core.ClassificationVerdict{
		Category:   core.CategoryMarketingSpam,
		Confidence: 0.50,
		Reason:     "No specific pattern matched; default classification",
		Rule:       core.RuleDefault,
	}
}

// Input builds the folded rule input for a message
func (c *Classifier) Input(sender, subject, headers string) *Input {
	return c.buildInput(sender, subject, headers)
}

func (c *Classifier) buildInput(sender, subject, headers string) *Input {
	foldedSender := Normalize(sender)
	foldedSubject := Normalize(subject)
	return &Input{
		Sender:      sender,
		Subject:     subject,
		Headers:     headers,
		Profile:     c.analyzer.Analyze(sender),
		Text:        joinNonEmpty(foldedSender, foldedSubject, Normalize(headers)),
		BrandText:   joinNonEmpty(foldedSender, foldedSubject),
		SubjectText: foldedSubject,
		Patterns:    c.patterns.Current(),
	}
}

// evaluate runs one rule, turning a panic into a non-match
func (c *Classifier) evaluate(rule Rule, in *Input) (m Match, ok bool) {
	start := time.Now()
	defer func() {
		metrics.ObserveRule(rule.Name, time.Since(start))
		if r := recover(); r != nil {
			c.logger.Error("Rule evaluation failed",
				zap.String("rule", rule.Name),
				zap.Error(fmt.Errorf("panic: %v", r)))
			m, ok = Match{}, false
		}
	}()
	m, ok = rule.Eval(in)
	if ok && !m.Category.IsValid() {
		c.logger.Error("Rule produced a category outside the taxonomy",
			zap.String("rule", rule.Name),
			zap.String("category", string(m.Category)))
		return Match{}, false
	}
	return m, ok
}

func verdict(rule Rule, m Match) core.ClassificationVerdict {
	conf := m.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return core.ClassificationVerdict{
		Category:   m.Category,
		Confidence: conf,
		Reason:     m.Reason,
		Rule:       rule.Name,
	}
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
