package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/adapters/filter"
	"github.com/mikey/mail-classifier/internal/config"
)

// FilterFactory creates email filters based on configuration
type FilterFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFilterFactory creates a new filter factory
func NewFilterFactory(cfg *config.Config, logger *zap.Logger) *FilterFactory {
	return &FilterFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreatePostfixFilter creates the Postfix content filter around engine
func (f *FilterFactory) CreatePostfixFilter(engine filter.Classifier) (*filter.PostfixFilter, error) {
	srv, err := f.cfg.GetServer()
	if err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	return filter.NewPostfixFilter(engine, filter.PostfixConfig{
		ListenAddr:     srv.ListenAddress,
		BlockDeletes:   srv.BlockDeletes,
		ModifySubject:  srv.ModifySubject,
		SubjectPrefix:  srv.SubjectPrefix,
		PostfixAddr:    srv.PostfixAddress,
		PostfixPort:    srv.PostfixPort,
		PostfixEnabled: srv.PostfixEnabled,
		RecordOutcomes: srv.RecordOutcomes,
		Headers: filter.HeaderNames{
			Category:   srv.Headers.Category,
			Confidence: srv.Headers.Confidence,
			Reason:     srv.Headers.Reason,
			Preserve:   srv.Headers.Preserve,
			Threat:     srv.Headers.Threat,
		},
		ClassifyTimeout: srv.ClassifyTimeout,
	}, f.logger), nil
}
