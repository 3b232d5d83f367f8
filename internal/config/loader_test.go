package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
	// storybook pipeline
	"pipeline": {
		"mode": "agent",
		"max_steps": 6,
		"partial_policy": "lenient",
		"stage_timeout": "90s", // trailing comma below is fine
	},
	"models": {
		"default": "claude",
		"providers": {
			"claude": {
				"driver": "anthropic",
				"model": "claude-sonnet-4-20250514",
				"auth": { "api_key": "${{ .Env.ANTHROPIC_API_KEY }}" },
				"max_tokens": 4096
			}
		}
	},
	"ledger": { "allow_first_run": false },
	"gateway": { "host": "0.0.0.0", "port": 9999 }
}`)
	t.Setenv("ANTHROPIC_API_KEY", "test-key-123")
	t.Setenv("STORYBOOK_PATH", t.TempDir())

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Pipeline.Mode != "agent" || cfg.Pipeline.MaxSteps != 6 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.PartialPolicy != "lenient" {
		t.Errorf("expected lenient, got %s", cfg.Pipeline.PartialPolicy)
	}
	if cfg.Pipeline.StageTimeout.Duration() != 90*time.Second {
		t.Errorf("expected 90s, got %s", cfg.Pipeline.StageTimeout.Duration())
	}
	if cfg.Gateway.Host != "0.0.0.0" || cfg.Gateway.Port != 9999 {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Ledger.FirstRunAllowed() {
		t.Error("allow_first_run=false should be honored")
	}

	p, ok := cfg.Models.Providers["claude"]
	if !ok {
		t.Fatal("expected claude provider")
	}
	if p.Auth.APIKey != "test-key-123" {
		t.Errorf("expected api_key test-key-123, got %s", p.Auth.APIKey)
	}
	if p.MaxTokens != 4096 {
		t.Errorf("expected max_tokens 4096, got %d", p.MaxTokens)
	}
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("STORYBOOK_PATH", root)

	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Ledger.Path != filepath.Join(root, "asset", "task.csv") {
		t.Errorf("ledger path = %s", cfg.Ledger.Path)
	}
	if !cfg.Ledger.FirstRunAllowed() {
		t.Error("first run should be allowed by default")
	}
	if cfg.Pipeline.Mode != "fixed" || cfg.Pipeline.MaxSteps != 10 || cfg.Pipeline.PartialPolicy != "strict" {
		t.Errorf("pipeline defaults = %+v", cfg.Pipeline)
	}
	if cfg.Assets.StagingDir != cfg.Illustrator.StagingDir {
		t.Errorf("assets staging %s != illustrator staging %s", cfg.Assets.StagingDir, cfg.Illustrator.StagingDir)
	}
	if cfg.Catalog.PadWidth != 4 {
		t.Errorf("expected pad width 4, got %d", cfg.Catalog.PadWidth)
	}
	if cfg.Gateway.Host != "127.0.0.1" || cfg.Gateway.Port != 8787 {
		t.Errorf("gateway defaults = %+v", cfg.Gateway)
	}
	if cfg.Log.MaxSizeMB != 8 || cfg.Log.MaxBackups != 5 {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
}

func TestLoadOrDefault_Missing(t *testing.T) {
	t.Setenv("STORYBOOK_PATH", t.TempDir())

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.jsonc"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.MaxSteps != 10 {
		t.Errorf("expected defaults, got %+v", cfg.Pipeline)
	}
}

func TestLoad_Invalid(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"pipeline": `)); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadOrDefault(writeConfig(t, `{"pipeline": `)); err == nil {
		t.Fatal("LoadOrDefault should surface parse errors")
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}
