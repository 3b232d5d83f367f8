package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/dohr-michael/storybook/internal/config"
)

// driverKeyEnv lists the env vars consulted when a provider has no key configured.
var driverKeyEnv = map[string][]string{
	"anthropic": {"ANTHROPIC_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// ResolveAuth returns the API key for a provider.
// Resolution order: configured api_key (a "${VAR}" value reads VAR) → driver default env.
// Ollama needs no key and resolves to "".
func ResolveAuth(cfg config.ProviderConfig) (string, error) {
	if key := resolveValue(cfg.Auth.APIKey); key != "" {
		return key, nil
	}

	driver := strings.ToLower(cfg.Driver)
	if driver == "ollama" {
		return "", nil
	}
	vars, ok := driverKeyEnv[driver]
	if !ok {
		return "", fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
	for _, v := range vars {
		if key := os.Getenv(v); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("%s not set", strings.Join(vars, " or "))
}

func resolveValue(v string) string {
	trimmed := strings.TrimSpace(v)
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") {
		return os.Getenv(trimmed[2 : len(trimmed)-1])
	}
	return trimmed
}
