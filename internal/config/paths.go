package config

import (
	"os"
	"path/filepath"
)

// StorybookPath returns the root directory for pipeline data.
// It uses $STORYBOOK_PATH if set, otherwise defaults to ~/.storybook.
func StorybookPath() string {
	if v := os.Getenv("STORYBOOK_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".storybook")
	}
	return filepath.Join(home, ".storybook")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(StorybookPath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(StorybookPath(), ".env")
}

// HistoryDir returns the directory holding JSONL run history.
func HistoryDir() string {
	return filepath.Join(StorybookPath(), "runs")
}
