package openai

import (
	"context"
	"fmt"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Config holds the OpenAI advisor settings
type Config struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIClient is an implementation of the LLMClient interface using OpenAI
type OpenAIClient struct {
	client        *openai.Client
	cfg           Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOpenAIClient creates a new OpenAI advisor. BaseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIClient(cfg Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if textProcessor == nil {
		textProcessor = utils.NewTextProcessor(logger)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:        openai.NewClientWithConfig(clientCfg),
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Advise asks the model for a category when the rules were unsure
func (c *OpenAIClient) Advise(ctx context.Context, msg *core.InboundMessage, verdict core.ClassificationVerdict) (*core.Advice, error) {
	prompt := c.textProcessor.AdvicePrompt(msg, verdict, c.cfg.MaxBodySize)

	req := openai.ChatCompletionRequest{
		Model: c.cfg.ModelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an email classification system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	advice, err := utils.ParseAdvice(resp.Choices[0].Message.Content, c.cfg.ModelName)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("OpenAI second opinion",
		zap.String("id", resp.ID),
		zap.String("category", string(advice.Category)),
		zap.Float64("confidence", advice.Confidence))
	return advice, nil
}
