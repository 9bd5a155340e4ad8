package di

import (
	"context"
	"io"
	"sync"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/adapters/filter"
	"github.com/mikey/mail-classifier/internal/adapters/store"
	"github.com/mikey/mail-classifier/internal/config"
	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/domain"
	"github.com/mikey/mail-classifier/internal/factory"
	"github.com/mikey/mail-classifier/internal/logging"
	"github.com/mikey/mail-classifier/internal/patterns"
	"github.com/mikey/mail-classifier/internal/rules"
	"github.com/mikey/mail-classifier/internal/statistical"
	"github.com/mikey/mail-classifier/internal/subcategory"
	"github.com/mikey/mail-classifier/internal/trust"
	"github.com/mikey/mail-classifier/internal/utils"
	"github.com/mikey/mail-classifier/internal/vendor"
)

// Lifecycle collects the shutdown hooks of constructed components
type Lifecycle struct {
	mu     sync.Mutex
	hooks  []hook
	logger *zap.Logger
}

type hook struct {
	name string
	fn   func() error
}

// NewLifecycle creates an empty lifecycle
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{logger: logger}
}

// Add registers a shutdown hook
func (l *Lifecycle) Add(name string, fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook{name: name, fn: fn})
}

// AddCloser registers c.Close as a shutdown hook
func (l *Lifecycle) AddCloser(name string, c io.Closer) {
	l.Add(name, c.Close)
}

// Close runs the hooks in reverse registration order
func (l *Lifecycle) Close() {
	l.mu.Lock()
	hooks := l.hooks
	l.hooks = nil
	l.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].fn(); err != nil {
			l.logger.Warn("Shutdown hook failed", zap.String("component", hooks[i].name), zap.Error(err))
		}
	}
}

// engineParams are the components the engine is assembled from. Optional
// components arrive as nil.
type engineParams struct {
	dig.In

	Config    *config.Config
	Logger    *zap.Logger
	Analyzer  *domain.Analyzer
	Rules     *rules.Classifier
	Trust     *trust.Scorer
	Tagger    *subcategory.Tagger
	Vendors   *vendor.Classifier
	Predictor *statistical.Classifier
	LLM       core.LLMClient
	Store     *store.Store
	Feedback  core.FeedbackQueue
}

func newEngine(p engineParams) (*core.Engine, error) {
	trustCfg, err := p.Config.GetTrust()
	if err != nil {
		return nil, err
	}
	llmCfg := p.Config.GetLLM()

	c := core.Components{
		Analyzer: p.Analyzer,
		Rules:    p.Rules,
		Tagger:   p.Tagger,
		Vendors:  p.Vendors,
		LLM:      p.LLM,
		Feedback: p.Feedback,
	}
	if p.Trust != nil {
		c.Trust = p.Trust
	}
	if p.Config.GetStatistical().Enabled {
		c.Predictor = p.Predictor
	}
	if p.Store != nil {
		c.Outcomes = p.Store
	}

	return core.NewEngine(c, core.EngineConfig{
		CorroborateBelow: trustCfg.CorroborateBelow,
		LLMBelow:         llmCfg.BelowConfidence,
	}, p.Logger), nil
}

// provideCore registers every component shared by the daemon and the CLI.
// When requireStore is false a store that cannot be opened is logged and
// left out, disabling outcome logging, hit counters and feedback.
func provideCore(container *dig.Container, requireStore bool) error {
	providers := []any{
		func(logger *zap.Logger) *Lifecycle { return NewLifecycle(logger) },

		factory.NewLLMFactory,
		factory.NewCacheFactory,
		factory.NewStoreFactory,
		factory.NewTrustFactory,
		factory.NewClassifierFactory,
		factory.NewFilterFactory,

		utils.NewTextProcessor,

		// Pattern library
		func(f *factory.ClassifierFactory) (*patterns.Holder, error) {
			return f.CreatePatternHolder()
		},
		func(h *patterns.Holder) patterns.Source { return h },

		domain.NewAnalyzer,
		func(src patterns.Source, analyzer *domain.Analyzer, logger *zap.Logger) *rules.Classifier {
			return rules.NewClassifier(src, analyzer, logger)
		},

		// Store and feedback sink
		func(f *factory.StoreFactory, lc *Lifecycle, logger *zap.Logger) (*store.Store, error) {
			st, err := f.CreateStore(context.Background())
			if err != nil {
				if requireStore {
					return nil, err
				}
				logger.Warn("Classification store unavailable", zap.Error(err))
				return nil, nil
			}
			lc.AddCloser("store", st)
			return st, nil
		},
		func(f *factory.StoreFactory, st *store.Store, lc *Lifecycle, logger *zap.Logger) (core.FeedbackQueue, error) {
			queue, closer, err := f.CreateFeedbackQueue(st)
			if err != nil {
				if requireStore {
					return nil, err
				}
				logger.Warn("Feedback queue unavailable", zap.Error(err))
				return nil, nil
			}
			if closer != nil {
				lc.AddCloser("feedback publisher", closer)
			}
			return queue, nil
		},

		// Trust intel cache and scorer
		func(f *factory.CacheFactory, lc *Lifecycle) (core.CacheRepository, error) {
			c, err := f.CreateCacheRepository(context.Background())
			if err != nil {
				return nil, err
			}
			lc.Add("cache", func() error { c.Stop(); return nil })
			return c, nil
		},
		func(f *factory.TrustFactory, src patterns.Source, analyzer *domain.Analyzer, cache core.CacheRepository) (*trust.Scorer, error) {
			return f.CreateScorer(src, analyzer, cache)
		},

		// Subcategory tagging
		func(f *factory.ClassifierFactory, st *store.Store, lc *Lifecycle) (*subcategory.Recorder, error) {
			if st == nil {
				return nil, nil
			}
			r, err := f.CreateRecorder(st)
			if err != nil || r == nil {
				return nil, err
			}
			lc.Add("pattern recorder", func() error { r.Close(); return nil })
			return r, nil
		},
		func(src patterns.Source, r *subcategory.Recorder, logger *zap.Logger) *subcategory.Tagger {
			if r == nil {
				return subcategory.NewTagger(src, nil, logger)
			}
			return subcategory.NewTagger(src, r, logger)
		},

		func(f *factory.ClassifierFactory, src patterns.Source) (*vendor.Classifier, error) {
			return f.CreateVendorClassifier(src)
		},

		// Statistical model
		func(src patterns.Source, analyzer *domain.Analyzer) *statistical.FeatureExtractor {
			return statistical.NewFeatureExtractor(src, analyzer)
		},
		func(f *factory.ClassifierFactory, extractor *statistical.FeatureExtractor) (*statistical.Classifier, error) {
			return f.CreateStatisticalClassifier(extractor)
		},

		func(f *factory.LLMFactory, lc *Lifecycle) (core.LLMClient, error) {
			client, closer, err := f.CreateLLMClient(context.Background())
			if err != nil {
				return nil, err
			}
			if closer != nil {
				lc.AddCloser("llm client", closer)
			}
			return client, nil
		},

		newEngine,
		func(e *core.Engine) filter.Classifier { return e },
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

// BuildContainer creates and configures a dependency injection container for
// the content filter daemon
func BuildContainer(configFile string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		return config.New(configFile)
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideCore(container, true); err != nil {
		return nil, err
	}

	// Register email filter
	if err := container.Provide(func(f *factory.FilterFactory, engine filter.Classifier) (*filter.PostfixFilter, error) {
		return f.CreatePostfixFilter(engine)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *filter.PostfixFilter) core.EmailFilter { return f }); err != nil {
		return nil, err
	}

	return container, nil
}
