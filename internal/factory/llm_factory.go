package factory

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/config"
	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/utils"
)

// LLMFactory creates LLM clients
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateLLMClient creates the configured LLM advisor. It returns a nil client
// when the second opinion is disabled. closer is nil unless the client holds
// a connection.
func (f *LLMFactory) CreateLLMClient(ctx context.Context) (client core.LLMClient, closer io.Closer, err error) {
	llmConfig := f.cfg.GetLLM()
	if !llmConfig.Enabled {
		return nil, nil, nil
	}

	switch llmConfig.Provider {
	case "bedrock":
		client, err = NewBedrockFactory(f.cfg, f.logger, f.textProcessor).CreateLLMClient(ctx)
	case "gemini":
		gc, gerr := NewGeminiFactory(f.cfg, f.logger, f.textProcessor).CreateLLMClient(ctx)
		if gerr != nil {
			return nil, nil, gerr
		}
		client, closer = gc, gc
	case "openai":
		client, err = NewOpenAIFactory(f.cfg, f.logger, f.textProcessor).CreateLLMClient()
	default:
		return nil, nil, fmt.Errorf("unsupported LLM provider: %s", llmConfig.Provider)
	}
	if err != nil {
		return nil, nil, err
	}

	f.logger.Info("LLM second opinion enabled",
		zap.String("provider", llmConfig.Provider),
		zap.Float64("below_confidence", llmConfig.BelowConfidence))
	return client, closer, nil
}
