package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "locus.yaml", "version: 1\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8787 {
		t.Fatalf("server defaults = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "locus.db" {
		t.Fatalf("storage defaults = %s %s", cfg.Storage.Driver, cfg.Storage.DSN)
	}
	if cfg.Providers.Default != "anthropic" {
		t.Fatalf("default provider = %s", cfg.Providers.Default)
	}
	if cfg.Approvals.Mode != "local" || cfg.Approvals.TTL != 5*time.Minute {
		t.Fatalf("approval defaults = %s %v", cfg.Approvals.Mode, cfg.Approvals.TTL)
	}
	if cfg.Observability.Logging.Level != "info" || cfg.Observability.Logging.Format != "json" {
		t.Fatalf("logging defaults = %+v", cfg.Observability.Logging)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("LOCUS_TEST_KEY", "sk-from-env")
	dir := t.TempDir()
	path := writeFile(t, dir, "locus.yaml", `version: 1
providers:
  anthropic:
    api_key: ${LOCUS_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-from-env" {
		t.Fatalf("api key = %q", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `server:
  host: 0.0.0.0
  port: 9000
providers:
  default: openai
`)
	path := writeFile(t, dir, "locus.yaml", `version: 1
$include: base.yaml
server:
  port: 9100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Included values survive, the including file wins on conflict.
	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Providers.Default != "openai" {
		t.Fatalf("provider = %q", cfg.Providers.Default)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\nversion: 1\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "locus.json5", `{
  // comments are allowed here
  version: 1,
  server: { port: 9200 },
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "locus.yaml", "version: 1\nservre:\n  port: 9000\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown-key error")
	}
}

func TestLoadRejectsMissingVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "locus.yaml", "server:\n  port: 9000\n")

	_, err := Load(path)
	var verr *VersionError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VersionError, got %v", err)
	}
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "locus.yaml", "version: 99\n")

	_, err := Load(path)
	var verr *VersionError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VersionError, got %v", err)
	}
	if !strings.Contains(verr.Error(), "newer than this build") {
		t.Fatalf("unexpected message: %v", verr)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default ok", func(c *Config) {}, ""},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"postgres needs dsn", func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.DSN = "" }, "storage.dsn"},
		{"bad provider", func(c *Config) { c.Providers.Default = "grok" }, "providers.default"},
		{"bad approval mode", func(c *Config) { c.Approvals.Mode = "yolo" }, "approvals.mode"},
		{"bad log level", func(c *Config) { c.Observability.Logging.Level = "trace" }, "logging.level"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"api key missing user", func(c *Config) { c.Auth.APIKeys = []APIKeyConfig{{Key: "k"}} }, "api_keys"},
		{"discord needs token", func(c *Config) { c.Channels.Discord.Enabled = true }, "discord"},
		{"slack needs both tokens", func(c *Config) {
			c.Channels.Slack.Enabled = true
			c.Channels.Slack.BotToken = "xoxb"
		}, "slack"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSettingsSelectsProvider(t *testing.T) {
	cfg := Default()
	cfg.Providers.Default = "openai"
	cfg.Providers.OpenAI = ProviderConfig{APIKey: "sk-openai", Model: "gpt-4o"}
	cfg.Providers.Ollama = ProviderConfig{BaseURL: "http://box:11434", Model: "llama3"}

	name, model, key, _ := cfg.Settings("")
	if name != "openai" || model != "gpt-4o" || key != "sk-openai" {
		t.Fatalf("default settings = %s %s %s", name, model, key)
	}

	name, model, _, base := cfg.Settings("ollama")
	if name != "ollama" || model != "llama3" || base != "http://box:11434" {
		t.Fatalf("ollama settings = %s %s %s", name, model, base)
	}
}

func TestJSONSchemaReflects(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	if !strings.Contains(string(data), "max_context_messages") {
		t.Fatal("schema missing yaml field names")
	}
}
