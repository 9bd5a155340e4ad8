package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/adapters/mq"
	"github.com/mikey/mail-classifier/internal/adapters/store"
	"github.com/mikey/mail-classifier/internal/config"
	"github.com/mikey/mail-classifier/internal/core"
)

// StoreFactory opens the classification store and the feedback sink
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore opens and migrates the configured store
func (f *StoreFactory) CreateStore(ctx context.Context) (*store.Store, error) {
	storeCfg := f.cfg.GetStore()
	if storeCfg.Driver == store.DriverSQLite && storeCfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(storeCfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return store.Open(ctx, storeCfg.Driver, storeCfg.DSN, f.logger)
}

// CreateFeedbackQueue returns the sink feedback is queued to. closer is nil
// when feedback goes to the store.
func (f *StoreFactory) CreateFeedbackQueue(st *store.Store) (core.FeedbackQueue, io.Closer, error) {
	fbCfg := f.cfg.GetFeedback()
	switch fbCfg.Sink {
	case "store", "":
		if st == nil {
			return nil, nil, errors.New("feedback sink store needs the classification store")
		}
		return st, nil, nil
	case "amqp":
		pub, err := mq.NewFeedbackPublisher(mq.Config{
			URL:        fbCfg.AMQPURL,
			Exchange:   fbCfg.Exchange,
			RoutingKey: fbCfg.RoutingKey,
		}, f.logger)
		if err != nil {
			return nil, nil, err
		}
		return pub, pub, nil
	default:
		return nil, nil, fmt.Errorf("unsupported feedback sink: %s", fbCfg.Sink)
	}
}
