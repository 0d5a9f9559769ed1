// Package config loads the Locus configuration file. Files are YAML or
// JSON5, may pull in fragments through $include, and have environment
// variables expanded before parsing. Load applies defaults and validates
// the result; Watcher re-runs Load when the file changes on disk.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for a Locus deployment.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Agent         AgentConfig         `yaml:"agent"`
	Approvals     ApprovalsConfig     `yaml:"approvals"`
	Triggers      TriggersConfig      `yaml:"triggers"`
	Workspaces    WorkspacesConfig    `yaml:"workspaces"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig covers the HTTP gateway listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MaxContextMessages bounds how much session history is replayed
	// into each turn.
	MaxContextMessages int `yaml:"max_context_messages"`
}

// StorageConfig selects the backing database.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the sqlite file path or a postgres connection string.
	DSN string `yaml:"dsn"`
}

// AuthConfig covers bearer-token auth on the API surface.
type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig declares a static API key and the identity it maps to.
type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

// ProvidersConfig names the LLM backends and which one is the default.
type ProvidersConfig struct {
	// Default is one of "anthropic", "openai", "ollama".
	Default   string         `yaml:"default"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Ollama    ProviderConfig `yaml:"ollama"`
}

// ProviderConfig configures one LLM backend. Environment variables
// referenced in the file (e.g. ${ANTHROPIC_API_KEY}) are expanded at
// load time, so keys never have to live in the file itself.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AgentConfig tunes the assembled agent.
type AgentConfig struct {
	// BasePrompt is prepended to every assembled system prompt.
	BasePrompt string `yaml:"base_prompt"`
	// MaxIterations bounds the completion/tool-call loop per turn.
	MaxIterations int `yaml:"max_iterations"`
	// CacheSize bounds how many assembled agents are kept warm.
	CacheSize int `yaml:"cache_size"`
}

// ApprovalsConfig tunes the tool-approval gate.
type ApprovalsConfig struct {
	// Mode is "local" or "remote".
	Mode string `yaml:"mode"`
	// TTL is how long a pending approval waits before it is denied.
	TTL time.Duration `yaml:"ttl"`
	// Retention is how long resolved approvals stay queryable.
	Retention time.Duration `yaml:"retention"`
}

// TriggersConfig covers the cron scheduler.
type TriggersConfig struct {
	Enabled bool `yaml:"enabled"`
	// Refresh is how often the scheduler re-reads the trigger store.
	Refresh time.Duration `yaml:"refresh"`
}

// WorkspacesConfig covers ambient channel workspaces.
type WorkspacesConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ChannelsConfig enables the bundled channel adapters.
type ChannelsConfig struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Slack     SlackConfig     `yaml:"slack"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

type WebSocketConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is where the gateway mounts the upgrade handler.
	Path string `yaml:"path"`
}

// ObservabilityConfig covers logging and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type TracingConfig struct {
	// Endpoint is the OTLP collector address; empty disables tracing.
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Default returns a config with every default applied, usable without a
// config file at all (local sqlite, anthropic, no channels).
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.MaxContextMessages == 0 {
		cfg.Server.MaxContextMessages = 20
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "locus.db"
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Providers.Ollama.BaseURL == "" {
		cfg.Providers.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 5
	}
	if cfg.Agent.CacheSize == 0 {
		cfg.Agent.CacheSize = 32
	}
	if cfg.Approvals.Mode == "" {
		cfg.Approvals.Mode = "local"
	}
	if cfg.Approvals.TTL == 0 {
		cfg.Approvals.TTL = 5 * time.Minute
	}
	if cfg.Approvals.Retention == 0 {
		cfg.Approvals.Retention = 24 * time.Hour
	}
	if cfg.Triggers.Refresh == 0 {
		cfg.Triggers.Refresh = time.Minute
	}
	if cfg.Channels.WebSocket.Path == "" {
		cfg.Channels.WebSocket.Path = "/v1/ws"
	}
	if cfg.Observability.Logging.Level == "" {
		cfg.Observability.Logging.Level = "info"
	}
	if cfg.Observability.Logging.Format == "" {
		cfg.Observability.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

// Validate rejects configurations that would fail at wiring time.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver %q is not sqlite or postgres", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for postgres")
	}
	switch c.Providers.Default {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("providers.default %q is not a known provider", c.Providers.Default)
	}
	switch c.Approvals.Mode {
	case "local", "remote":
	default:
		return fmt.Errorf("approvals.mode %q is not local or remote", c.Approvals.Mode)
	}
	switch c.Observability.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("observability.logging.level %q is not a known level", c.Observability.Logging.Level)
	}
	switch c.Observability.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("observability.logging.format %q is not json or text", c.Observability.Logging.Format)
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		return fmt.Errorf("observability.tracing.sampling_rate %v out of range", r)
	}
	for i, key := range c.Auth.APIKeys {
		if key.Key == "" || key.UserID == "" {
			return fmt.Errorf("auth.api_keys[%d] needs both key and user_id", i)
		}
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.BotToken == "" {
		return fmt.Errorf("channels.discord.bot_token is required when enabled")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token is required when enabled")
	}
	if c.Channels.Slack.Enabled && (c.Channels.Slack.BotToken == "" || c.Channels.Slack.AppToken == "") {
		return fmt.Errorf("channels.slack needs bot_token and app_token when enabled")
	}
	return nil
}

// Settings returns the configured backend for the named provider, or the
// default backend when name is empty.
func (c *Config) Settings(name string) (provider, model, apiKey, baseURL string) {
	if name == "" {
		name = c.Providers.Default
	}
	var p ProviderConfig
	switch name {
	case "openai":
		p = c.Providers.OpenAI
	case "ollama":
		p = c.Providers.Ollama
	default:
		name = "anthropic"
		p = c.Providers.Anthropic
	}
	return name, p.Model, p.APIKey, p.BaseURL
}
