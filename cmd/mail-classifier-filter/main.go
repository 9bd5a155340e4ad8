package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/config"
	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/di"
	"github.com/mikey/mail-classifier/internal/metrics"
	"github.com/mikey/mail-classifier/internal/patterns"
)

var rootCmd = &cobra.Command{
	Use:   "mail-classifier-filter",
	Short: "Postfix content filter that classifies and stamps mail",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")

		// Build the dependency injection container
		container, err := di.BuildContainer(configFile)
		if err != nil {
			return fmt.Errorf("failed to build dependency container: %w", err)
		}

		// Run the application
		if err := container.Invoke(run); err != nil {
			return dig.RootCause(err)
		}
		return nil
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.Flags().String("config", "", "path to config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	emailFilter core.EmailFilter,
	holder *patterns.Holder,
	lc *di.Lifecycle,
) error {
	defer logger.Sync()
	defer lc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	patternsCfg, err := cfg.GetPatterns()
	if err != nil {
		return err
	}
	go holder.WatchFile(ctx, patternsCfg.ReloadInterval)

	if addr := cfg.MetricsAddress(); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, logger); err != nil {
				logger.Error("Metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	// Start the filter
	if err := emailFilter.Start(); err != nil {
		logger.Error("Failed to start filter", zap.Error(err))
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down...")

	// Stop the filter
	if err := emailFilter.Stop(); err != nil {
		logger.Error("Failed to stop filter", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
