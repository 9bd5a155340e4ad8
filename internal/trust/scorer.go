// Package trust scores how trustworthy a sender is across five independent
// dimensions and turns the blend into a threat level.
//
//	score = 0.3*auth + 0.25*business + 0.2*(1-content) + 0.15*(1-geo) + 0.1*network
//
// Network-bound lookups are optional capabilities. Each one runs under a
// timeout and a circuit breaker and degrades to a default score on failure.
package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/domain"
	"github.com/mikey/mail-classifier/internal/metrics"
	"github.com/mikey/mail-classifier/internal/patterns"
)

// Blend weights
const (
	WeightAuthentication = 0.30
	WeightBusiness       = 0.25
	WeightContent        = 0.20
	WeightGeographic     = 0.15
	WeightNetwork        = 0.10
)

// Threat level thresholds on the blended score
const (
	ThresholdLegitimate = 0.8
	ThresholdSuspicious = 0.6
	ThresholdHighRisk   = 0.4
)

// MaxCacheTTL bounds how long domain intel is reused
const MaxCacheTTL = 24 * time.Hour

const overrideConfidence = 0.9

// Config tunes the scorer's lookups
type Config struct {
	LookupTimeout time.Duration
	CacheTTL      time.Duration
	DKIMSelectors []string
}

// DefaultConfig returns the scorer defaults
func DefaultConfig() Config {
	return Config{
		LookupTimeout: 3 * time.Second,
		CacheTTL:      MaxCacheTTL,
		DKIMSelectors: []string{"default", "google", "selector1", "selector2", "k1", "s1", "s2", "dkim", "mail"},
	}
}

// Profiler parses senders and bare domains
type Profiler interface {
	Analyze(sender string) core.DomainProfile
	AnalyzeDomain(domain string) core.DomainProfile
}

// Scorer implements core.ThreatScorer
type Scorer struct {
	patterns patterns.Source
	profiler Profiler
	gatherer *gatherer
	cache    core.CacheRepository
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewScorer creates a trust scorer. Missing capabilities are replaced with
// no-op implementations and available ones are wrapped in circuit breakers.
// cache may be nil.
func NewScorer(src patterns.Source, profiler Profiler, caps Capabilities, cache core.CacheRepository, cfg Config, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.CacheTTL <= 0 || cfg.CacheTTL > MaxCacheTTL {
		cfg.CacheTTL = MaxCacheTTL
	}
	if len(cfg.DKIMSelectors) == 0 {
		cfg.DKIMSelectors = def.DKIMSelectors
	}

	caps = caps.withDefaults()
	guarded := Capabilities{
		DNS:        GuardDNS(caps.DNS, logger),
		Certs:      GuardCerts(caps.Certs, logger),
		Registrant: GuardRegistrant(caps.Registrant, logger),
		Geo:        GuardGeo(caps.Geo, logger),
	}
	logger.Info("Trust scorer capabilities",
		zap.Bool("dns", caps.DNS.Available()),
		zap.Bool("tls", caps.Certs.Available()),
		zap.Bool("registrant", caps.Registrant.Available()),
		zap.Bool("geo", caps.Geo.Available()))

	return &Scorer{
		patterns: src,
		profiler: profiler,
		gatherer: &gatherer{
			caps:      guarded,
			timeout:   cfg.LookupTimeout,
			selectors: cfg.DKIMSelectors,
			logger:    logger,
		},
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		logger:   logger,
	}
}

// Assess scores the sender. It never fails; lookups that cannot run fall
// back to their dimension's default.
func (s *Scorer) Assess(ctx context.Context, in core.TrustInput) core.ThreatAssessment {
	lib := s.patterns.Current()

	var profile core.DomainProfile
	if in.Domain != "" {
		profile = s.profiler.AnalyzeDomain(in.Domain)
	} else {
		profile = s.profiler.Analyze(in.Sender)
	}
	display := in.DisplayName
	if display == "" {
		display = domain.DisplayName(in.Sender)
	}

	var intel *DomainIntel
	if profile.IsValid {
		intel = s.Intel(ctx, profile.Domain, profile.Registrable)
	}
	ev := parseAuthResults(in.Headers)

	var reasons []string
	dims := core.DimensionScores{
		Authentication: authentication(intel, ev, &reasons),
		Business:       business(profile, display, intel, lib, &reasons),
		Content:        content(in.Subject, display, lib, &reasons),
		Geographic:     geographic(intel, lib, &reasons),
		Network:        network(intel, lib, &reasons),
	}

	a := Evaluate(dims)
	if a.Override == "" {
		a.Confidence = confidence(a.Score, intel.Availability())
	}
	a.Reasons = append(reasons, a.Reasons...)

	metrics.IncrementThreatLevel(string(a.Level))
	s.logger.Debug("Assessed sender trust",
		zap.String("domain", profile.Domain),
		zap.String("level", string(a.Level)),
		zap.Float64("score", a.Score))
	return a
}

// Evaluate blends dimension scores into a threat level and applies the overrides
func Evaluate(d core.DimensionScores) core.ThreatAssessment {
	score := WeightAuthentication*d.Authentication +
		WeightBusiness*d.Business +
		WeightContent*(1-d.Content) +
		WeightGeographic*(1-d.Geographic) +
		WeightNetwork*d.Network
	score = clamp(score)

	a := core.ThreatAssessment{
		Level:      levelFor(score),
		Score:      score,
		Dimensions: d,
	}

	switch {
	case d.Content > 0.8 && d.Business < 0.3:
		a.Level = core.ThreatPhishing
		a.Override = "high content risk with low business legitimacy"
	case d.Authentication < 0.2:
		a.Level = core.ThreatPhishing
		a.Override = "missing sender authentication"
	case d.Authentication > 0.8 && d.Business > 0.6:
		a.Level = core.ThreatLegitimate
		a.Override = "strong authentication with established business"
	}
	if a.Override != "" {
		a.Confidence = overrideConfidence
		a.Reasons = append(a.Reasons, "Override: "+a.Override)
	}
	return a
}

func levelFor(score float64) core.ThreatLevel {
	switch {
	case score >= ThresholdLegitimate:
		return core.ThreatLegitimate
	case score >= ThresholdSuspicious:
		return core.ThreatSuspicious
	case score >= ThresholdHighRisk:
		return core.ThreatHighRisk
	default:
		return core.ThreatPhishing
	}
}

// confidence grows with lookup availability and with distance from the
// nearest threshold
func confidence(score, availability float64) float64 {
	dist := math.Inf(1)
	for _, t := range []float64{ThresholdLegitimate, ThresholdSuspicious, ThresholdHighRisk} {
		dist = math.Min(dist, math.Abs(score-t))
	}
	margin := 0.5 + 0.5*math.Min(dist/0.1, 1)
	return clamp((0.5 + 0.5*availability) * margin)
}

// Intel returns cached domain intel or gathers it. Results with a failed
// lookup are not cached so that a transient outage is retried.
func (s *Scorer) Intel(ctx context.Context, d, org string) *DomainIntel {
	key := "trust:" + strings.ToLower(d)
	if s.cache != nil {
		if entry, err := s.cache.Get(ctx, key); err == nil {
			var intel DomainIntel
			if err := json.Unmarshal(entry.Value, &intel); err == nil {
				return &intel
			}
		}
	}

	intel := s.gatherer.gather(ctx, d, org)

	if s.cache != nil && !hasFailure(intel) {
		data, err := json.Marshal(intel)
		if err != nil {
			s.logger.Error("Failed to encode domain intel", zap.String("domain", d), zap.Error(err))
			return intel
		}
		entry := &core.CacheEntry{Key: key, Value: data, ExpiresAt: time.Now().Add(s.cacheTTL)}
		if err := s.cache.Set(ctx, entry); err != nil {
			s.logger.Warn("Failed to cache domain intel", zap.String("domain", d), zap.Error(err))
		}
	}
	return intel
}

func hasFailure(intel *DomainIntel) bool {
	for _, st := range intel.Status {
		if st == StatusFailed {
			return true
		}
	}
	return false
}

// Describe renders an assessment for logs and headers
func Describe(a core.ThreatAssessment) string {
	return fmt.Sprintf("%s (score %.2f, confidence %.2f)", a.Level, a.Score, a.Confidence)
}
