package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// standardizes it to plain JSON, unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadOrDefault loads the config at path, falling back to defaults when the
// file does not exist. Parse errors are still returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		cfg = &Config{}
		ApplyDefaults(cfg)
		return cfg, nil
	}
	return nil, err
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func ApplyDefaults(cfg *Config) {
	root := StorybookPath()
	asset := filepath.Join(root, "asset")

	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = filepath.Join(asset, "task.csv")
	}
	if cfg.Ledger.UploadLog == "" {
		cfg.Ledger.UploadLog = filepath.Join(asset, "upload_done.md")
	}

	if cfg.Pipeline.Mode == "" {
		cfg.Pipeline.Mode = "fixed"
	}
	if cfg.Pipeline.MaxSteps == 0 {
		cfg.Pipeline.MaxSteps = 10
	}
	if cfg.Pipeline.PartialPolicy == "" {
		cfg.Pipeline.PartialPolicy = "strict"
	}
	if cfg.Pipeline.StageTimeout == 0 {
		cfg.Pipeline.StageTimeout = Duration(5 * time.Minute)
	}
	if cfg.Pipeline.StoryCount == 0 {
		cfg.Pipeline.StoryCount = 1
	}

	if cfg.Story.WordCount == 0 {
		cfg.Story.WordCount = 30
	}

	staging := filepath.Join(asset, "pic", "not_done")
	if cfg.Illustrator.StagingDir == "" {
		cfg.Illustrator.StagingDir = staging
	}
	if cfg.Illustrator.Timeout == 0 {
		cfg.Illustrator.Timeout = Duration(3 * time.Minute)
	}
	if len(cfg.Illustrator.Extensions) == 0 {
		cfg.Illustrator.Extensions = []string{"jpg", "jpeg", "png", "webp"}
	}

	if cfg.Assets.Driver == "" {
		cfg.Assets.Driver = "dir"
	}
	if cfg.Assets.StagingDir == "" {
		cfg.Assets.StagingDir = cfg.Illustrator.StagingDir
	}
	if cfg.Assets.DoneDir == "" {
		cfg.Assets.DoneDir = filepath.Join(asset, "pic", "done")
	}
	if cfg.Assets.Folder == "" {
		cfg.Assets.Folder = "comic1"
	}
	if cfg.Assets.TargetDir == "" {
		cfg.Assets.TargetDir = filepath.Join(root, "published")
	}

	if cfg.Catalog.Driver == "" {
		cfg.Catalog.Driver = "sqlite"
	}
	if cfg.Catalog.DSN == "" {
		cfg.Catalog.DSN = filepath.Join(root, "stories.db")
	}
	if cfg.Catalog.PadWidth == 0 {
		cfg.Catalog.PadWidth = 4
	}
	if cfg.Catalog.Timeout == 0 {
		cfg.Catalog.Timeout = Duration(30 * time.Second)
	}

	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8787
	}

	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 256
	}

	if cfg.Log.Dir == "" {
		cfg.Log.Dir = filepath.Join(root, "log")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 8
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	// Auth resolution is deferred to models.ResolveAuth() at model init time.
}
