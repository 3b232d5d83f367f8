package config

import "time"

// Config is the root configuration for the storybook pipeline.
type Config struct {
	Ledger      LedgerConfig      `json:"ledger"`
	Pipeline    PipelineConfig    `json:"pipeline"`
	Models      ModelsConfig      `json:"models"`
	Story       StoryConfig       `json:"story"`
	Agent       AgentConfig       `json:"agent"`
	Illustrator IllustratorConfig `json:"illustrator"`
	Assets      AssetsConfig      `json:"assets"`
	Catalog     CatalogConfig     `json:"catalog"`
	Gateway     GatewayConfig     `json:"gateway"`
	Schedule    ScheduleConfig    `json:"schedule"`
	Events      EventsConfig      `json:"events"`
	Log         LogConfig         `json:"log"`
}

// LedgerConfig locates the task ledger and its upload log.
type LedgerConfig struct {
	Path          string `json:"path"`            // CSV ledger (default: $STORYBOOK_PATH/asset/task.csv)
	UploadLog     string `json:"upload_log"`      // append-only upload log
	AllowFirstRun *bool  `json:"allow_first_run"` // treat a missing ledger as empty (default: true)
}

// FirstRunAllowed reports whether a missing ledger file may be treated as empty.
func (c LedgerConfig) FirstRunAllowed() bool {
	return c.AllowFirstRun == nil || *c.AllowFirstRun
}

// PipelineConfig controls orchestration.
type PipelineConfig struct {
	Mode          string   `json:"mode"`           // "fixed" | "agent"
	MaxSteps      int      `json:"max_steps"`      // decision-driven iteration bound
	PartialPolicy string   `json:"partial_policy"` // "strict" | "lenient"
	StageTimeout  Duration `json:"stage_timeout"`  // per unit of work
	StoryCount    int      `json:"story_count"`    // stories per generation call
	TopicsFile    string   `json:"topics_file"`    // YAML topic catalog
	StyleRef      string   `json:"style_ref"`      // default style reference image
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string         `json:"driver"` // "openai", "ollama", "anthropic", "gemini"
	Model     string         `json:"model"`
	BaseURL   string         `json:"base_url,omitempty"`
	Auth      AuthConfig     `json:"auth"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Timeout   Duration       `json:"timeout,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
}

// StoryConfig configures the story generator.
type StoryConfig struct {
	Model     string `json:"model,omitempty"` // provider name (empty = models.default)
	WordCount int    `json:"word_count"`
}

// AgentConfig configures the decision-maker for agent mode.
type AgentConfig struct {
	Decider      string   `json:"decider,omitempty"` // "llm" (default) | "sequential" | "scripted"
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Script       []string `json:"script,omitempty"` // answers replayed by the scripted decider
}

// IllustratorConfig configures the page renderer command.
type IllustratorConfig struct {
	Command    string   `json:"command"`     // shell snippet, run with STORYBOOK_* env vars
	Dir        string   `json:"dir"`         // working directory for the command
	StagingDir string   `json:"staging_dir"` // where pages land as <id>-<page>.<ext>
	Timeout    Duration `json:"timeout"`
	Extensions []string `json:"extensions"`
}

// AssetsConfig configures the uploader.
type AssetsConfig struct {
	Driver     string           `json:"driver"` // "cloudinary" | "dir"
	StagingDir string           `json:"staging_dir"`
	DoneDir    string           `json:"done_dir"`
	Folder     string           `json:"folder"`
	TargetDir  string           `json:"target_dir"` // dir driver only
	Cloudinary CloudinaryConfig `json:"cloudinary"`
}

// CloudinaryConfig holds Cloudinary credentials.
type CloudinaryConfig struct {
	CloudName string `json:"cloud_name"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// CatalogConfig configures the story database committer.
type CatalogConfig struct {
	Driver   string   `json:"driver"` // "sqlite" | "http"
	DSN      string   `json:"dsn"`    // sqlite file
	URL      string   `json:"url"`    // http driver: story API endpoint
	PadWidth int      `json:"pad_width"`
	Timeout  Duration `json:"timeout"`
}

// GatewayConfig holds the HTTP server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ScheduleConfig holds the cron trigger for unattended runs.
type ScheduleConfig struct {
	Cron  string `json:"cron"`
	Topic string `json:"topic,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// LogConfig configures log files.
type LogConfig struct {
	Dir        string `json:"dir"`
	Level      string `json:"level"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
