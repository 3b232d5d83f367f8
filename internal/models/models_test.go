package models

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/storybook/internal/config"
)

func TestResolveAuth_DirectAPIKey(t *testing.T) {
	key, err := ResolveAuth(config.ProviderConfig{
		Driver: "anthropic",
		Auth:   config.AuthConfig{APIKey: "sk-ant-test-123"},
	})
	if err != nil {
		t.Fatalf("ResolveAuth: %v", err)
	}
	if key != "sk-ant-test-123" {
		t.Fatalf("expected value %q, got %q", "sk-ant-test-123", key)
	}
}

func TestResolveAuth_EnvVarSyntax(t *testing.T) {
	t.Setenv("MY_CUSTOM_KEY", "custom-api-key-value")

	key, err := ResolveAuth(config.ProviderConfig{
		Driver: "openai",
		Auth:   config.AuthConfig{APIKey: "${MY_CUSTOM_KEY}"},
	})
	if err != nil {
		t.Fatalf("ResolveAuth: %v", err)
	}
	if key != "custom-api-key-value" {
		t.Fatalf("got %q", key)
	}
}

func TestResolveAuth_DriverFallbacks(t *testing.T) {
	tests := []struct {
		driver, env, value string
	}{
		{"anthropic", "ANTHROPIC_API_KEY", "env-anthropic"},
		{"openai", "OPENAI_API_KEY", "env-openai"},
		{"gemini", "GOOGLE_API_KEY", "env-google"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "")
			t.Setenv(tt.env, tt.value)
			key, err := ResolveAuth(config.ProviderConfig{Driver: tt.driver})
			if err != nil {
				t.Fatalf("ResolveAuth: %v", err)
			}
			if key != tt.value {
				t.Errorf("got %q, want %q", key, tt.value)
			}
		})
	}
}

func TestResolveAuth_Ollama(t *testing.T) {
	key, err := ResolveAuth(config.ProviderConfig{Driver: "ollama"})
	if err != nil || key != "" {
		t.Fatalf("ollama auth = %q, %v", key, err)
	}
}

func TestResolveAuth_UnknownDriver(t *testing.T) {
	if _, err := ResolveAuth(config.ProviderConfig{Driver: "mystery"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestResolveAuth_NothingSet(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := ResolveAuth(config.ProviderConfig{Driver: "anthropic"})
	if err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Fatalf("expected ANTHROPIC_API_KEY error, got %v", err)
	}
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"401 Unauthorized", ErrAuthentication},
		{"429 Too Many Requests", ErrRateLimited},
		{"maximum context length exceeded", ErrContextTooLong},
		{"model not found: llama9", ErrModelNotFound},
		{"dial tcp: connection refused", ErrConnection},
	}
	for _, tt := range tests {
		err := HandleError(errors.New(tt.msg))
		if !errors.Is(err, tt.want) {
			t.Errorf("HandleError(%q) = %v, want %v", tt.msg, err, tt.want)
		}
	}
	if HandleError(nil) != nil {
		t.Error("HandleError(nil) should be nil")
	}
	plain := errors.New("something odd")
	if HandleError(plain) != plain {
		t.Error("unclassified errors pass through")
	}
}

type stubModel struct{ model.ToolCallingChatModel }

func (stubModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("ok", nil), nil
}

func TestRegistry_LazyInit(t *testing.T) {
	r := NewRegistry(config.ModelsConfig{
		Default: "local",
		Providers: map[string]config.ProviderConfig{
			"local": {Driver: "ollama", Model: "gemma3:270m", Options: map[string]any{"tier": "small"}},
		},
	})
	calls := 0
	r.SetFactory(func(context.Context, config.ProviderConfig) (model.ToolCallingChatModel, error) {
		calls++
		return stubModel{}, nil
	})

	for i := 0; i < 3; i++ {
		if _, err := r.Default(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
	if r.ModelName("") != "gemma3:270m" {
		t.Errorf("ModelName = %q", r.ModelName(""))
	}
	if names := r.Names(); len(names) != 1 || names[0] != "local" {
		t.Errorf("Names = %v", names)
	}
	if tier := r.Options("")["tier"]; tier != "small" {
		t.Errorf("Options tier = %v", tier)
	}
	if r.Options("nope") != nil {
		t.Error("Options of unknown provider should be nil")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry(config.ModelsConfig{})
	if _, err := r.Get(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := r.Default(context.Background()); err == nil {
		t.Fatal("expected error without default")
	}
}

func TestCreateModel_UnknownDriver(t *testing.T) {
	_, err := CreateModel(context.Background(), config.ProviderConfig{Driver: "mystery"})
	if err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestCreateModel_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := CreateModel(context.Background(), config.ProviderConfig{Driver: "openai", Model: "gpt-4o-mini"})
	if err == nil || !strings.Contains(err.Error(), "resolve auth") {
		t.Fatalf("expected auth error, got %v", err)
	}
}
