package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/storybook/internal/config"
)

const defaultRequestTimeout = 60 * time.Second

// CreateModel creates a model.ToolCallingChatModel from a provider config.
func CreateModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	driver := strings.ToLower(cfg.Driver)
	switch driver {
	case "ollama":
		return NewOllama(ctx, cfg)
	case "anthropic", "openai", "gemini":
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}

	apiKey, err := ResolveAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve auth: %w", err)
	}
	switch driver {
	case "anthropic":
		return NewClaude(ctx, cfg, apiKey)
	case "gemini":
		return NewGemini(ctx, cfg, apiKey)
	default:
		return NewOpenAI(ctx, cfg, apiKey)
	}
}

func requestTimeout(cfg config.ProviderConfig, fallback time.Duration) time.Duration {
	if d := cfg.Timeout.Duration(); d > 0 {
		return d
	}
	return fallback
}

func temperature(cfg config.ProviderConfig) *float32 {
	if temp, ok := cfg.Options["temperature"].(float64); ok {
		t := float32(temp)
		return &t
	}
	return nil
}
