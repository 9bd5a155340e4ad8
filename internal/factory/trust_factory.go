package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/adapters/dns"
	"github.com/mikey/mail-classifier/internal/adapters/tlsprobe"
	"github.com/mikey/mail-classifier/internal/config"
	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/patterns"
	"github.com/mikey/mail-classifier/internal/trust"
)

// TrustFactory creates the sender trust scorer and its lookup capabilities
type TrustFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewTrustFactory creates a new trust factory
func NewTrustFactory(cfg *config.Config, logger *zap.Logger) *TrustFactory {
	return &TrustFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCapabilities builds the configured lookups. A lookup that cannot be
// set up is left out and its dimension falls back to defaults.
func (f *TrustFactory) CreateCapabilities() (trust.Capabilities, error) {
	trustCfg, err := f.cfg.GetTrust()
	if err != nil {
		return trust.Capabilities{}, fmt.Errorf("invalid trust configuration: %w", err)
	}

	var caps trust.Capabilities
	dnsCfg := dns.Config{Timeout: trustCfg.LookupTimeout}
	if trustCfg.DNSServer != "" {
		dnsCfg.Servers = []string{trustCfg.DNSServer}
	}
	if resolver, err := dns.NewResolver(dnsCfg, f.logger); err != nil {
		f.logger.Warn("DNS lookups disabled", zap.Error(err))
	} else {
		caps.DNS = resolver
	}

	if trustCfg.TLSInspection {
		caps.Certs = tlsprobe.NewInspector("443", trustCfg.LookupTimeout, nil, f.logger)
	}
	if trustCfg.WhoisEnabled {
		f.logger.Warn("No registrant lookup is available, business dimension uses defaults")
	}
	return caps, nil
}

// CreateScorer builds the trust scorer. It returns nil when trust scoring is disabled.
func (f *TrustFactory) CreateScorer(src patterns.Source, profiler trust.Profiler, cache core.CacheRepository) (*trust.Scorer, error) {
	trustCfg, err := f.cfg.GetTrust()
	if err != nil {
		return nil, fmt.Errorf("invalid trust configuration: %w", err)
	}
	if !trustCfg.Enabled {
		f.logger.Info("Sender trust scoring disabled")
		return nil, nil
	}

	caps, err := f.CreateCapabilities()
	if err != nil {
		return nil, err
	}
	return trust.NewScorer(src, profiler, caps, cache, trust.Config{
		LookupTimeout: trustCfg.LookupTimeout,
		CacheTTL:      trustCfg.CacheTTL,
		DKIMSelectors: trustCfg.DKIMSelectors,
	}, f.logger), nil
}
