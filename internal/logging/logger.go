package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mikey/mail-classifier/internal/config"
)

// InitLogger builds the daemon logger from logging.level and logging.format
func InitLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.GetString("logging.level"))
	if err != nil {
		return nil, fmt.Errorf("invalid logging.level: %w", err)
	}

	format := cfg.GetString("logging.format")
	switch format {
	case "json", "console":
	default:
		return nil, fmt.Errorf("invalid logging.format %q (want json or console)", format)
	}

	logger, err := build(level, format == "json", true)
	if err != nil {
		return nil, err
	}
	return logger.Named("filter"), nil
}

// InitConsoleLogger builds the CLI logger. Debug level when verbose, and
// sampling is off so every lookup warning of a single run is shown.
func InitConsoleLogger(verbose bool, jsonFormat bool) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	return build(level, jsonFormat, false)
}

func build(level zapcore.Level, jsonFormat, sampled bool) (*zap.Logger, error) {
	var logConfig zap.Config
	if jsonFormat {
		logConfig = zap.NewProductionConfig()
	} else {
		logConfig = zap.NewDevelopmentConfig()
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	}
	logConfig.Level = zap.NewAtomicLevelAt(level)
	if !sampled {
		logConfig.Sampling = nil
	}
	// stdout carries command output
	logConfig.OutputPaths = []string{"stderr"}
	logConfig.ErrorOutputPaths = []string{"stderr"}

	logger, err := logConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
