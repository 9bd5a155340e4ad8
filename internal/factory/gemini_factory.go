package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/adapters/gemini"
	"github.com/mikey/mail-classifier/internal/config"
	"github.com/mikey/mail-classifier/internal/utils"
)

// GeminiFactory creates Gemini LLM clients
type GeminiFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewGeminiFactory creates a new Gemini factory
func NewGeminiFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *GeminiFactory {
	return &GeminiFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateLLMClient creates a Gemini LLM client. The caller closes it.
func (f *GeminiFactory) CreateLLMClient(ctx context.Context) (*gemini.GeminiClient, error) {
	geminiCfg := f.cfg.GetGemini()
	if geminiCfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	return gemini.NewGeminiClient(ctx, gemini.Config{
		APIKey:      geminiCfg.APIKey,
		ModelName:   geminiCfg.ModelName,
		MaxTokens:   geminiCfg.MaxTokens,
		Temperature: geminiCfg.Temperature,
		TopP:        geminiCfg.TopP,
		MaxBodySize: geminiCfg.MaxBodySize,
	}, f.logger, f.textProcessor)
}
