package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the prreview configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	GitHub   GitHubConfig   `yaml:"github" json:"github"`
	Webhook  WebhookConfig  `yaml:"webhook" json:"webhook"`
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	Analysis AnalysisConfig `yaml:"analysis" json:"analysis"`
	Events   EventsConfig   `yaml:"events" json:"events"`
	Slack    SlackConfig    `yaml:"slack" json:"slack"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Privacy  PrivacyConfig  `yaml:"privacy" json:"privacy"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Output   OutputConfig   `yaml:"output" json:"output"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	AllowedOrigins  []string      `yaml:"allowedOrigins" json:"allowedOrigins"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// GitHubConfig controls GitHub access.
type GitHubConfig struct {
	Token             string   `yaml:"token" json:"token,omitempty"`
	APIURL            string   `yaml:"apiURL" json:"apiURL"`
	Repositories      []string `yaml:"repositories" json:"repositories"`
	DefaultRepository string   `yaml:"defaultRepository" json:"defaultRepository,omitempty"`
	PostComments      bool     `yaml:"postComments" json:"postComments"`
	AutoAnalysis      bool     `yaml:"autoAnalysis" json:"autoAnalysis"`
}

// WebhookConfig controls webhook ingress.
type WebhookConfig struct {
	Secret         string        `yaml:"secret" json:"secret,omitempty"`
	TriggerActions []string      `yaml:"triggerActions" json:"triggerActions"`
	DeliveryTTL    time.Duration `yaml:"deliveryTTL" json:"deliveryTTL"`
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider    string        `yaml:"provider" json:"provider"`
	Model       string        `yaml:"model" json:"model"`
	APIKey      string        `yaml:"apiKey" json:"apiKey,omitempty"`
	BaseURL     string        `yaml:"baseURL" json:"baseURL,omitempty"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	MaxTokens   int           `yaml:"maxTokens" json:"maxTokens"`
	CallTimeout time.Duration `yaml:"callTimeout" json:"callTimeout"`
	MaxRetries  int           `yaml:"maxRetries" json:"maxRetries"`
	Language    string        `yaml:"language" json:"language"`
	Cache       CacheConfig   `yaml:"cache" json:"cache"`
}

// CacheConfig controls response caching.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// AnalysisConfig bounds analysis runs.
type AnalysisConfig struct {
	DiffTimeout    time.Duration `yaml:"diffTimeout" json:"diffTimeout"`
	RunTimeout     time.Duration `yaml:"runTimeout" json:"runTimeout"`
	DedupeInFlight bool          `yaml:"dedupeInFlight" json:"dedupeInFlight"`
	ResultTTL      time.Duration `yaml:"resultTTL" json:"resultTTL"`
	RulesFile      string        `yaml:"rulesFile" json:"rulesFile,omitempty"`
}

// EventsConfig sizes the broadcaster and the activity log.
type EventsConfig struct {
	Backlog   int `yaml:"backlog" json:"backlog"`
	Retained  int `yaml:"retained" json:"retained"`
	QueueSize int `yaml:"queueSize" json:"queueSize"`
}

// SlackConfig controls run notifications.
type SlackConfig struct {
	BotToken  string `yaml:"botToken" json:"botToken,omitempty"`
	ChannelID string `yaml:"channelID" json:"channelID"`
	Enabled   bool   `yaml:"enabled" json:"enabled"`
}

// SyncConfig controls the pull request listing refresh.
type SyncConfig struct {
	Schedule   string        `yaml:"schedule" json:"schedule"`
	PRCacheTTL time.Duration `yaml:"prCacheTTL" json:"prCacheTTL"`
}

// PrivacyConfig controls redaction of content sent to providers.
type PrivacyConfig struct {
	RedactSecrets bool     `yaml:"redactSecrets" json:"redactSecrets"`
	RedactPaths   []string `yaml:"redactPaths,omitempty" json:"redactPaths,omitempty"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// OutputConfig controls CLI report output.
type OutputConfig struct {
	Format string `yaml:"format" json:"format"`
	FailOn string `yaml:"failOn" json:"failOn"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":3000",
			ShutdownTimeout: 15 * time.Second,
		},
		GitHub: GitHubConfig{
			APIURL:       "https://api.github.com",
			AutoAnalysis: true,
		},
		Webhook: WebhookConfig{
			TriggerActions: []string{"opened", "synchronize"},
			DeliveryTTL:    10 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Temperature: 0.2,
			MaxTokens:   8192,
			CallTimeout: 2 * time.Minute,
			MaxRetries:  3,
			Language:    "Turkish",
			Cache: CacheConfig{
				Enabled: true,
				TTL:     24 * time.Hour,
			},
		},
		Analysis: AnalysisConfig{
			DiffTimeout:    30 * time.Second,
			RunTimeout:     10 * time.Minute,
			DedupeInFlight: true,
			ResultTTL:      24 * time.Hour,
		},
		Events: EventsConfig{
			Backlog:   50,
			Retained:  1000,
			QueueSize: 256,
		},
		Sync: SyncConfig{
			Schedule:   "@every 5m",
			PRCacheTTL: time.Minute,
		},
		Privacy: PrivacyConfig{
			RedactSecrets: true,
			RedactPaths:   []string{"**/.env", "**/*secrets*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Output: OutputConfig{
			Format: "text",
			FailOn: "none",
		},
	}
}

// ConfigDir returns the platform-appropriate config directory for prreview.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "prreview"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "prreview"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "prreview"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "prreview"), nil
	default:
		return filepath.Join(home, ".config", "prreview"), nil
	}
}

// ConfigPath returns the config file path: PRREVIEW_CONFIG when set,
// otherwise config.yaml in ConfigDir.
func ConfigPath() (string, error) {
	if p := os.Getenv("PRREVIEW_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current value. A missing file is not an error.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Load builds the effective config by merging: defaults <- file <- env <- overrides.
// The overrides map comes from CLI flags (only non-zero values should be
// set); the "config" key selects the file.
func Load(overrides map[string]string) (Config, error) {
	cfg := Default()

	path := overrides["config"]
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	if err := LoadFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	for key, value := range overrides {
		if key == "config" || value == "" {
			continue
		}
		if err := SetField(&cfg, key, value); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// envKeys maps environment variables to config keys, applied in order.
var envKeys = []struct{ env, key string }{
	{"PRREVIEW_ADDR", "server.addr"},
	{"PRREVIEW_ALLOWED_ORIGINS", "server.allowedOrigins"},
	{"GITHUB_TOKEN", "github.token"},
	{"PRREVIEW_GITHUB_TOKEN", "github.token"},
	{"GITHUB_API_URL", "github.apiURL"},
	{"GITHUB_REPOS", "github.repositories"},
	{"PRREVIEW_POST_COMMENTS", "github.postComments"},
	{"PRREVIEW_AUTO_ANALYSIS", "github.autoAnalysis"},
	{"WEBHOOK_SECRET", "webhook.secret"},
	{"PRREVIEW_WEBHOOK_SECRET", "webhook.secret"},
	{"PRREVIEW_PROVIDER", "llm.provider"},
	{"PRREVIEW_MODEL", "llm.model"},
	{"PRREVIEW_API_KEY", "llm.apiKey"},
	{"PRREVIEW_LANGUAGE", "llm.language"},
	{"PRREVIEW_DIFF_TIMEOUT", "analysis.diffTimeout"},
	{"PRREVIEW_RUN_TIMEOUT", "analysis.runTimeout"},
	{"PRREVIEW_RULES_FILE", "analysis.rulesFile"},
	{"SLACK_BOT_TOKEN", "slack.botToken"},
	{"SLACK_CHANNEL_ID", "slack.channelID"},
	{"PRREVIEW_SYNC_SCHEDULE", "sync.schedule"},
	{"PRREVIEW_LOG_LEVEL", "log.level"},
	{"PRREVIEW_LOG_FORMAT", "log.format"},
	{"PRREVIEW_FORMAT", "output.format"},
	{"PRREVIEW_FAIL_ON", "output.failOn"},
}

func mergeEnv(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	for _, e := range envKeys {
		v := os.Getenv(e.env)
		if v == "" {
			continue
		}
		if err := SetField(cfg, e.key, v); err != nil {
			return fmt.Errorf("%s: %w", e.env, err)
		}
	}
	if cfg.LLM.Model == "" && isGemini(cfg.LLM.Provider) {
		cfg.LLM.Model = os.Getenv("GOOGLE_AI_MODEL")
	}
	return nil
}

// ProviderAPIKey returns the configured API key, falling back to the
// provider's conventional environment variable.
func (c LLMConfig) ProviderAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	switch {
	case c.Provider == "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case c.Provider == "openai":
		return os.Getenv("OPENAI_API_KEY")
	case isGemini(c.Provider):
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_AI_API_KEY")
	}
	return ""
}

func isGemini(provider string) bool {
	return provider == "gemini" || provider == "google"
}

// Keys lists every key SetField accepts.
func Keys() []string {
	return []string{
		"server.addr", "server.allowedOrigins", "server.shutdownTimeout",
		"github.token", "github.apiURL", "github.repositories", "github.defaultRepository",
		"github.postComments", "github.autoAnalysis",
		"webhook.secret", "webhook.triggerActions", "webhook.deliveryTTL",
		"llm.provider", "llm.model", "llm.apiKey", "llm.baseURL", "llm.temperature",
		"llm.maxTokens", "llm.callTimeout", "llm.maxRetries", "llm.language",
		"llm.cache.enabled", "llm.cache.ttl",
		"analysis.diffTimeout", "analysis.runTimeout", "analysis.dedupeInFlight",
		"analysis.resultTTL", "analysis.rulesFile",
		"events.backlog", "events.retained", "events.queueSize",
		"slack.botToken", "slack.channelID", "slack.enabled",
		"sync.schedule", "sync.prCacheTTL",
		"privacy.redactSecrets", "privacy.redactPaths",
		"log.level", "log.format",
		"output.format", "output.failOn",
	}
}

// SetField sets a single config field by key name. Returns error if key is unknown.
// The short keys provider, model, format, failOn and rulesFile are aliases.
func SetField(cfg *Config, key, value string) error {
	switch key {
	case "server.addr", "addr":
		cfg.Server.Addr = value
	case "server.allowedOrigins":
		cfg.Server.AllowedOrigins = splitList(value)
	case "server.shutdownTimeout":
		return setDuration(&cfg.Server.ShutdownTimeout, key, value)

	case "github.token":
		cfg.GitHub.Token = value
	case "github.apiURL":
		cfg.GitHub.APIURL = strings.TrimRight(value, "/")
	case "github.repositories":
		cfg.GitHub.Repositories = splitList(value)
	case "github.defaultRepository":
		cfg.GitHub.DefaultRepository = value
	case "github.postComments":
		return setBool(&cfg.GitHub.PostComments, key, value)
	case "github.autoAnalysis":
		return setBool(&cfg.GitHub.AutoAnalysis, key, value)

	case "webhook.secret":
		cfg.Webhook.Secret = value
	case "webhook.triggerActions":
		cfg.Webhook.TriggerActions = splitList(value)
	case "webhook.deliveryTTL":
		return setDuration(&cfg.Webhook.DeliveryTTL, key, value)

	case "llm.provider", "provider":
		cfg.LLM.Provider = value
	case "llm.model", "model":
		cfg.LLM.Model = value
	case "llm.apiKey":
		cfg.LLM.APIKey = value
	case "llm.baseURL":
		cfg.LLM.BaseURL = value
	case "llm.temperature":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s must be a number: %w", key, err)
		}
		cfg.LLM.Temperature = f
	case "llm.maxTokens":
		return setInt(&cfg.LLM.MaxTokens, key, value)
	case "llm.callTimeout":
		return setDuration(&cfg.LLM.CallTimeout, key, value)
	case "llm.maxRetries":
		return setInt(&cfg.LLM.MaxRetries, key, value)
	case "llm.language":
		cfg.LLM.Language = value
	case "llm.cache.enabled":
		return setBool(&cfg.LLM.Cache.Enabled, key, value)
	case "llm.cache.ttl":
		return setDuration(&cfg.LLM.Cache.TTL, key, value)

	case "analysis.diffTimeout":
		return setDuration(&cfg.Analysis.DiffTimeout, key, value)
	case "analysis.runTimeout":
		return setDuration(&cfg.Analysis.RunTimeout, key, value)
	case "analysis.dedupeInFlight":
		return setBool(&cfg.Analysis.DedupeInFlight, key, value)
	case "analysis.resultTTL":
		return setDuration(&cfg.Analysis.ResultTTL, key, value)
	case "analysis.rulesFile", "rulesFile":
		cfg.Analysis.RulesFile = value

	case "events.backlog":
		return setInt(&cfg.Events.Backlog, key, value)
	case "events.retained":
		return setInt(&cfg.Events.Retained, key, value)
	case "events.queueSize":
		return setInt(&cfg.Events.QueueSize, key, value)

	case "slack.botToken":
		cfg.Slack.BotToken = value
	case "slack.channelID":
		cfg.Slack.ChannelID = value
	case "slack.enabled":
		return setBool(&cfg.Slack.Enabled, key, value)

	case "sync.schedule":
		cfg.Sync.Schedule = value
	case "sync.prCacheTTL":
		return setDuration(&cfg.Sync.PRCacheTTL, key, value)

	case "privacy.redactSecrets":
		return setBool(&cfg.Privacy.RedactSecrets, key, value)
	case "privacy.redactPaths":
		cfg.Privacy.RedactPaths = splitList(value)

	case "log.level":
		cfg.Log.Level = value
	case "log.format":
		cfg.Log.Format = value

	case "output.format", "format":
		cfg.Output.Format = value
	case "output.failOn", "failOn":
		cfg.Output.FailOn = value

	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	if c.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if c.Events.Backlog < 0 || c.Events.Retained < 0 || c.Events.QueueSize < 0 {
		return fmt.Errorf("events sizes must not be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature)
	}
	switch c.Output.FailOn {
	case "none", "low", "medium", "high", "rule_violation":
	default:
		return fmt.Errorf("output.failOn must be one of none, low, medium, high, rule_violation, got %q", c.Output.FailOn)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.GitHub.Token = mask(c.GitHub.Token)
	c.Webhook.Secret = mask(c.Webhook.Secret)
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.Slack.BotToken = mask(c.Slack.BotToken)
	return c
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s must be true or false: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a duration like 30s or 5m: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
