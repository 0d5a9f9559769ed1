package agents

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/agent/providers"
	"github.com/locushq/locus/internal/plan"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/internal/tools/custom"
	"github.com/locushq/locus/internal/tools/goals"
	"github.com/locushq/locus/internal/tools/memories"
	"github.com/locushq/locus/internal/tools/meta"
	"github.com/locushq/locus/internal/tools/plans"
	"github.com/locushq/locus/internal/tools/system"
	"github.com/locushq/locus/internal/tools/triggers"
)

const (
	memoryPromptThreshold = 0.7
	memoryPromptLimit     = 10
	goalPromptLimit       = 5
)

// ProviderSettings name the LLM backend an agent talks to. Model "default"
// or "" selects the provider's own default.
type ProviderSettings struct {
	Provider string // anthropic, openai, ollama
	Model    string
	APIKey   string // from persisted config; env vars win
	BaseURL  string // ollama only
}

// ResolveSettings returns the provider settings for a user.
type ResolveSettings func(ctx context.Context, userID string) (ProviderSettings, error)

// Config wires a Manager.
type Config struct {
	Stores   storage.StoreSet
	PlanExec *plan.Executor
	Runner   custom.Runner // sandbox for user-authored tools; nil disables them
	Resolve  ResolveSettings
	Logger   *slog.Logger

	// BasePrompt is the static head of every system prompt.
	BasePrompt string

	// Plugins are extra tools registered after the meta-tools. Plugin
	// names listed in the supersession table replace core stubs.
	Plugins []agent.Tool
}

// Manager builds and caches assembled agents.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	byUser  *fifoCache[*agent.Agent]
	byModel *fifoCache[*agent.Agent]
	flight  *singleFlight[*agent.Agent]
}

// NewManager creates an agent manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Resolve == nil {
		return nil, fmt.Errorf("agents: settings resolver is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "agents"),
		byUser:  newFIFOCache[*agent.Agent](agentCacheCap),
		byModel: newFIFOCache[*agent.Agent](chatCacheCap),
		flight:  newSingleFlight[*agent.Agent](),
	}, nil
}

// AgentFor returns the user's assembled agent, building it on a miss.
// Concurrent callers for the same user share one build.
func (m *Manager) AgentFor(ctx context.Context, userID string) (*agent.Agent, error) {
	if userID == "" {
		return nil, fmt.Errorf("agents: user id is required")
	}

	m.mu.Lock()
	if a, ok := m.byUser.get(userID); ok {
		m.mu.Unlock()
		return a, nil
	}
	m.mu.Unlock()

	return m.flight.do("user:"+userID, func() (*agent.Agent, error) {
		m.mu.Lock()
		if a, ok := m.byUser.get(userID); ok {
			m.mu.Unlock()
			return a, nil
		}
		m.mu.Unlock()

		settings, err := m.cfg.Resolve(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolve provider settings: %w", err)
		}
		a, err := m.build(ctx, userID, settings)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.byUser.put(userID, a)
		m.mu.Unlock()
		return a, nil
	})
}

// Settings resolves the user's persisted provider settings without
// building an agent. The gateway uses it for usage and session reporting.
func (m *Manager) Settings(ctx context.Context, userID string) (ProviderSettings, error) {
	return m.cfg.Resolve(ctx, userID)
}

// ChatAgent returns an agent for an explicit provider:model pair, bypassing
// the user's persisted settings. Used when a chat request pins a model.
func (m *Manager) ChatAgent(ctx context.Context, userID string, settings ProviderSettings) (*agent.Agent, error) {
	if userID == "" {
		return nil, fmt.Errorf("agents: user id is required")
	}
	key := settings.Provider + ":" + resolveModel(settings.Model)

	m.mu.Lock()
	if a, ok := m.byModel.get(key); ok {
		m.mu.Unlock()
		return a, nil
	}
	m.mu.Unlock()

	return m.flight.do("model:"+key, func() (*agent.Agent, error) {
		m.mu.Lock()
		if a, ok := m.byModel.get(key); ok {
			m.mu.Unlock()
			return a, nil
		}
		m.mu.Unlock()

		a, err := m.build(ctx, userID, settings)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.byModel.put(key, a)
		m.mu.Unlock()
		return a, nil
	})
}

// Invalidate drops every cached agent. The next request rebuilds from the
// stores, picking up new memories, goals, custom tools and settings.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUser.clear()
	m.byModel.clear()
}

// InvalidateUser drops one user's cached agent.
func (m *Manager) InvalidateUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUser.remove(userID)
}

// build assembles a fresh agent: provider, registry, system prompt.
func (m *Manager) build(ctx context.Context, userID string, settings ProviderSettings) (*agent.Agent, error) {
	provider, err := m.buildProvider(settings)
	if err != nil {
		return nil, err
	}

	registry, err := m.buildRegistry(ctx, userID)
	if err != nil {
		return nil, err
	}

	prompt, err := m.composePrompt(ctx, userID)
	if err != nil {
		return nil, err
	}

	cfg := agent.Config{
		Model:   resolveModel(settings.Model),
		System:  prompt,
		Exposed: meta.MetaToolNames(),
	}
	m.logger.Debug("assembled agent",
		"user_id", userID,
		"provider", settings.Provider,
		"model", cfg.Model,
		"tools", registry.Len())
	return agent.New(provider, registry, nil, m.logger, cfg), nil
}

func (m *Manager) buildProvider(settings ProviderSettings) (agent.LLMProvider, error) {
	switch settings.Provider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       resolveAPIKey("ANTHROPIC_API_KEY", settings.APIKey),
			DefaultModel: resolveModel(settings.Model),
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       resolveAPIKey("OPENAI_API_KEY", settings.APIKey),
			DefaultModel: resolveModel(settings.Model),
		})
	case "ollama", "":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      settings.BaseURL,
			DefaultModel: resolveModel(settings.Model),
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", settings.Provider)
	}
}

// buildRegistry constructs the tool registry in assembly order: core
// utilities, domain tools, meta-tools, the user's active custom tools,
// then plugins with supersession of core stubs.
func (m *Manager) buildRegistry(ctx context.Context, userID string) (*agent.Registry, error) {
	reg := agent.NewRegistry()

	if err := system.Register(reg); err != nil {
		return nil, err
	}
	if m.cfg.Stores.Memories != nil {
		if err := memories.Register(reg, m.cfg.Stores.Memories); err != nil {
			return nil, err
		}
	}
	if m.cfg.Stores.Goals != nil {
		if err := goals.Register(reg, m.cfg.Stores.Goals); err != nil {
			return nil, err
		}
	}
	if m.cfg.Stores.Plans != nil && m.cfg.PlanExec != nil {
		if err := plans.Register(reg, m.cfg.Stores.Plans, m.cfg.PlanExec, m.logger); err != nil {
			return nil, err
		}
	}
	if m.cfg.Stores.Triggers != nil {
		if err := triggers.Register(reg, m.cfg.Stores.Triggers); err != nil {
			return nil, err
		}
	}
	if m.cfg.Stores.CustomTools != nil {
		if err := custom.Register(reg, m.cfg.Stores.CustomTools); err != nil {
			return nil, err
		}
	}

	if err := meta.NewDispatcher(reg).Register(); err != nil {
		return nil, err
	}

	if m.cfg.Stores.CustomTools != nil && m.cfg.Runner != nil {
		if _, err := custom.Sync(ctx, reg, m.cfg.Stores.CustomTools, m.cfg.Runner, userID, m.logger); err != nil {
			return nil, err
		}
	}

	if len(m.cfg.Plugins) > 0 {
		var names []string
		for _, t := range m.cfg.Plugins {
			if err := reg.Register(t, agent.WithReplace(), agent.WithCategory("plugin")); err != nil {
				return nil, fmt.Errorf("register plugin %s: %w", t.Name(), err)
			}
			names = append(names, t.Name())
		}
		meta.ApplySupersessions(reg, names, m.logger)
	}

	return reg, nil
}

// composePrompt builds base + memory block + goal block.
func (m *Manager) composePrompt(ctx context.Context, userID string) (string, error) {
	var b strings.Builder
	b.WriteString(m.cfg.BasePrompt)

	if m.cfg.Stores.Memories != nil {
		mems, err := m.cfg.Stores.Memories.GetImportantMemories(ctx, userID, memoryPromptThreshold, memoryPromptLimit)
		if err != nil {
			return "", fmt.Errorf("load memories: %w", err)
		}
		if len(mems) > 0 {
			b.WriteString("\n\n## What you know about the user\n")
			for _, mem := range mems {
				fmt.Fprintf(&b, "- [%s] %s\n", mem.Type, mem.Content)
			}
		}
	}

	if m.cfg.Stores.Goals != nil {
		active, err := m.cfg.Stores.Goals.GetActiveGoals(ctx, userID, goalPromptLimit)
		if err != nil {
			return "", fmt.Errorf("load goals: %w", err)
		}
		if len(active) > 0 {
			b.WriteString("\n\n## The user's active goals\n")
			for _, g := range active {
				fmt.Fprintf(&b, "- %s", g.Title)
				if len(g.NextActions) > 0 {
					fmt.Fprintf(&b, " (next: %s)", g.NextActions[0])
				}
				b.WriteString("\n")
			}
		}
	}

	return b.String(), nil
}

// resolveModel treats "" and "default" as the provider default.
func resolveModel(model string) string {
	if strings.EqualFold(model, "default") {
		return ""
	}
	return model
}

// resolveAPIKey prefers the environment, then persisted config, then the
// placeholder "local". The placeholder keeps construction working against
// keyless OpenAI-compatible local endpoints; a hosted API rejects it at
// request time with a normal auth error.
func resolveAPIKey(envVar, configured string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if configured != "" {
		return configured
	}
	return "local"
}
