package models

import (
	"context"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/storybook/internal/config"
)

// NewOpenAI creates an OpenAI-compatible ChatModel.
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig, apiKey string) (model.ToolCallingChatModel, error) {
	modelConfig := &einoopenai.ChatModelConfig{
		APIKey:      apiKey,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		Timeout:     requestTimeout(cfg, defaultRequestTimeout),
		Temperature: temperature(cfg),
	}
	if cfg.BaseURL != "" {
		// OpenAI-compatible local servers answer errors in plain text.
		modelConfig.HTTPClient = checkedClient("openai", modelConfig.Timeout)
	}

	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelConfig.MaxCompletionTokens = &maxTokens
	}

	return einoopenai.NewChatModel(ctx, modelConfig)
}
