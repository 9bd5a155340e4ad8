package di

import (
	"errors"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/adapters/filter"
	"github.com/mikey/mail-classifier/internal/adapters/store"
	"github.com/mikey/mail-classifier/internal/config"
	"github.com/mikey/mail-classifier/internal/factory"
	"github.com/mikey/mail-classifier/internal/logging"
	"github.com/mikey/mail-classifier/internal/patterns"
	"github.com/mikey/mail-classifier/internal/statistical"
)

// CLIFlags contains the global command line flags of the CLI application
type CLIFlags struct {
	ConfigFile string
	Verbose    bool
	JSONLog    bool
	// Overrides are applied on top of the loaded configuration
	Overrides map[string]any
}

// ErrNoStore is returned by components that need the classification store
// when it could not be opened
var ErrNoStore = errors.New("classification store unavailable, check store.driver and store.dsn")

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		cfg, err := config.New(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		if used := cfg.GetViper().ConfigFileUsed(); used != "" {
			logger.Debug("Loaded configuration from file", zap.String("file", used))
		}
		for k, v := range flags.Overrides {
			cfg.Set(k, v)
		}
		return cfg, nil
	}); err != nil {
		return nil, err
	}

	if err := provideCore(container, false); err != nil {
		return nil, err
	}

	// Register CLI filter
	if err := container.Provide(func(engine filter.Classifier, logger *zap.Logger, flags *CLIFlags) *filter.CliFilter {
		return filter.NewCliFilter(engine, logger, nil, flags.Verbose)
	}); err != nil {
		return nil, err
	}

	// Register trainer
	if err := container.Provide(func(
		f *factory.ClassifierFactory,
		st *store.Store,
		extractor *statistical.FeatureExtractor,
		src patterns.Source,
		classifier *statistical.Classifier,
	) (*statistical.Trainer, error) {
		if st == nil {
			return nil, ErrNoStore
		}
		return f.CreateTrainer(st, st, extractor, src, classifier), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}
