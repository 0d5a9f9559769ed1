package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/agents"
	"github.com/locushq/locus/internal/approval"
	"github.com/locushq/locus/internal/auth"
	"github.com/locushq/locus/internal/channels"
	"github.com/locushq/locus/internal/channels/discord"
	"github.com/locushq/locus/internal/channels/slack"
	"github.com/locushq/locus/internal/channels/telegram"
	"github.com/locushq/locus/internal/channels/websocket"
	"github.com/locushq/locus/internal/config"
	"github.com/locushq/locus/internal/gateway"
	"github.com/locushq/locus/internal/observability"
	"github.com/locushq/locus/internal/plan"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/internal/triggers"
	"github.com/locushq/locus/internal/usage"
	"github.com/locushq/locus/internal/workspace"
	"github.com/locushq/locus/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Locus gateway",
		Long: `Start the gateway with everything the config enables.

The server will:
1. Open the plan/memory/approval/usage store (sqlite or postgres)
2. Assemble the tool registry and LLM providers
3. Start the approval broker, plan executor and trigger scheduler
4. Start enabled channel adapters and their workspace bridge
5. Serve the HTTP API (SSE chat, approvals, plans, workspaces, metrics)

SIGINT/SIGTERM shut everything down gracefully.`,
		Example: `  # Start with the default config path
  locus serve

  # Start with an explicit config and debug logging
  locus serve --config /etc/locus/locus.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(parent context.Context, configPath string, debug bool) error {
	cfg, err := loadServeConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Observability.Logging.Level = "debug"
	}

	logger := observability.NewSlog(observability.LogConfig{
		Level:     cfg.Observability.Logging.Level,
		Format:    cfg.Observability.Logging.Format,
		AddSource: cfg.Observability.Logging.AddSource,
	})
	slog.SetDefault(logger)
	logger.Info("starting locus", "version", version, "config", configPath)

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "locus",
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	stores, err := storage.NewSQLStoreSet(storage.SQLConfig{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stores.Close()

	authSvc := buildAuthService(cfg)
	if !authSvc.Enabled() {
		logger.Warn("auth is disabled; the API accepts unauthenticated requests as user \"local\"")
	}

	defaultPolicy := approval.DefaultPolicy()
	defaultPolicy.Mode = approval.Mode(cfg.Approvals.Mode)
	policies := approval.NewPolicyStore(defaultPolicy)
	broker := approval.NewBroker(stores.Approvals, logger, approval.BrokerConfig{
		TTL:       cfg.Approvals.TTL,
		Retention: cfg.Approvals.Retention,
	})
	broker.Start()
	defer broker.Close()
	gate := approval.NewGate(policies, broker, logger)

	planExec := plan.NewExecutor(stores.Plans, logger, &plan.Config{Tracer: tracer})

	// current holds the live config so hot reloads reach the resolver.
	current := &atomic.Pointer[config.Config]{}
	current.Store(cfg)

	mgr, err := agents.NewManager(agents.Config{
		Stores:     stores,
		PlanExec:   planExec,
		Resolve:    settingsResolver(current),
		Logger:     logger,
		BasePrompt: cfg.Agent.BasePrompt,
	})
	if err != nil {
		return err
	}
	plan.RegisterBuiltins(planExec, &agentToolRunner{mgr: mgr}, &agentDecider{mgr: mgr})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workspaces, channels and the bridge between them.
	var (
		workspaces *workspace.Manager
		bridge     *channels.Bridge
		wsAdapter  *websocket.Adapter
	)
	if cfg.Workspaces.Enabled {
		bus := workspace.NewEmitter(logger)
		registry := channels.NewRegistry()
		wsAdapter, err = buildChannelAdapters(cfg, registry, logger)
		if err != nil {
			return err
		}
		bridge = channels.NewBridge(registry, bus, logger)
		workspaces = workspace.NewManager(bus, &workspaceResponder{mgr: mgr}, bridge.SendFunc, logger)
		defer workspaces.Dispose()
		workspaces.Create("main", models.WorkspaceSettings{
			AutoReply:          true,
			MaxContextMessages: cfg.Server.MaxContextMessages,
		}, models.AgentSelection{})
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("channel bridge stopped", "error", err)
			}
		}()
	}

	var sched *triggers.Scheduler
	if cfg.Triggers.Enabled {
		planRunner := triggers.PlanRunnerFunc(func(ctx context.Context, planID string) error {
			_, err := planExec.Execute(ctx, planID)
			return err
		})
		sched = triggers.NewScheduler(stores.Triggers, workspacePrompter(workspaces), planRunner,
			triggers.WithLogger(logger),
			triggers.WithRefreshInterval(cfg.Triggers.Refresh))
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start trigger scheduler: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sched.Stop(ctx)
		}()
	}

	extra := map[string]http.Handler{}
	if wsAdapter != nil {
		extra["GET "+cfg.Channels.WebSocket.Path] = wsAdapter.Handler()
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		Auth:               authSvc,
		Stores:             stores,
		AgentFor:           gateway.ManagerSource(mgr),
		Gate:               gate,
		Broker:             broker,
		PlanExec:           planExec,
		Usage:              usage.NewTracker(stores.Usage, logger),
		Workspaces:         workspaces,
		Triggers:           sched,
		Metrics:            metrics,
		Tracer:             tracer,
		Logger:             logger,
		MaxContextMessages: cfg.Server.MaxContextMessages,
		Extra:              extra,
	})
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	// Hot reload: provider/prompt changes take effect on the next turn
	// via cache invalidation; listener changes need a restart.
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		current.Store(next)
		mgr.Invalidate()
	}, logger)
	if err != nil {
		logger.Warn("config watcher disabled", "error", err)
	} else {
		go func() { _ = watcher.Run(ctx) }()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadServeConfig falls back to built-in defaults when the config file
// does not exist, so `locus serve` works out of the box.
func loadServeConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return cfg, err
}

func buildAuthService(cfg *config.Config) *auth.Service {
	keys := make([]auth.APIKeyConfig, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		keys = append(keys, auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name})
	}
	return auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     keys,
	})
}

// settingsResolver maps the config's provider section onto per-user
// settings. Every user shares the configured default until per-user
// overrides land in storage.
func settingsResolver(current *atomic.Pointer[config.Config]) agents.ResolveSettings {
	return func(ctx context.Context, userID string) (agents.ProviderSettings, error) {
		provider, model, apiKey, baseURL := current.Load().Settings("")
		return agents.ProviderSettings{
			Provider: provider,
			Model:    model,
			APIKey:   apiKey,
			BaseURL:  baseURL,
		}, nil
	}
}

func buildChannelAdapters(cfg *config.Config, registry *channels.Registry, logger *slog.Logger) (*websocket.Adapter, error) {
	if cfg.Channels.Discord.Enabled {
		a, err := discord.NewAdapter(discord.Config{Token: cfg.Channels.Discord.BotToken, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("discord adapter: %w", err)
		}
		registry.Register(a)
	}
	if cfg.Channels.Telegram.Enabled {
		a, err := telegram.NewAdapter(telegram.Config{Token: cfg.Channels.Telegram.BotToken, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		registry.Register(a)
	}
	if cfg.Channels.Slack.Enabled {
		a, err := slack.NewAdapter(slack.Config{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("slack adapter: %w", err)
		}
		registry.Register(a)
	}
	var wsAdapter *websocket.Adapter
	if cfg.Channels.WebSocket.Enabled {
		wsAdapter = websocket.NewAdapter(websocket.Config{Logger: logger})
		registry.Register(wsAdapter)
	}
	return wsAdapter, nil
}

// workspaceResponder runs one agent turn over the workspace's buffered
// history for ambient channel replies.
type workspaceResponder struct {
	mgr *agents.Manager
}

func (r *workspaceResponder) Respond(ctx context.Context, sel models.AgentSelection, history []*models.Message) (string, error) {
	var (
		runner *agent.Agent
		err    error
	)
	if sel.Provider == "" {
		runner, err = r.mgr.AgentFor(ctx, "local")
	} else {
		runner, err = r.mgr.ChatAgent(ctx, "local", agents.ProviderSettings{
			Provider: sel.Provider,
			Model:    sel.Model,
		})
	}
	if err != nil {
		return "", err
	}
	msgs := make([]agent.CompletionMessage, 0, len(history))
	for _, m := range history {
		role := string(m.Role)
		if role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, agent.CompletionMessage{Role: role, Content: m.Content})
	}
	result, err := runner.Turn(agent.WithUserID(ctx, "local"), msgs, agent.TurnCallbacks{})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// workspacePrompter injects a schedule trigger's prompt into its
// workspace as an inbound user message.
func workspacePrompter(workspaces *workspace.Manager) triggers.Prompter {
	return triggers.PrompterFunc(func(ctx context.Context, trig *models.Trigger) error {
		if workspaces == nil {
			return fmt.Errorf("workspaces are disabled; trigger %s has nowhere to prompt", trig.ID)
		}
		ws, err := workspaces.Get(trig.WorkspaceID)
		if err != nil {
			ws = workspaces.Default()
		}
		if ws == nil {
			return fmt.Errorf("no workspace for trigger %s", trig.ID)
		}
		return ws.ProcessIncomingMessage(agent.WithUserID(ctx, trig.UserID), &models.Message{
			ID:      uuid.NewString(),
			Channel: models.ChannelAPI,
			Content: trig.Payload,
		})
	})
}

// agentToolRunner exposes the assembled tool registry to plan step
// handlers. The plan owner's userID rides on the context.
type agentToolRunner struct {
	mgr *agents.Manager
}

func (r *agentToolRunner) registry(ctx context.Context) (*agent.Registry, error) {
	userID := agent.UserIDFromContext(ctx)
	if userID == "" {
		userID = "local"
	}
	a, err := r.mgr.AgentFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.Registry(), nil
}

func (r *agentToolRunner) Has(name string) bool {
	reg, err := r.registry(context.Background())
	if err != nil {
		return false
	}
	return reg.Has(name)
}

func (r *agentToolRunner) Execute(ctx context.Context, name string, params json.RawMessage) (*agent.ToolResult, error) {
	reg, err := r.registry(ctx)
	if err != nil {
		return nil, err
	}
	return reg.Execute(ctx, name, params)
}

// agentDecider answers llm_decision steps with a plain model turn.
type agentDecider struct {
	mgr *agents.Manager
}

func (d *agentDecider) Decide(ctx context.Context, userID, prompt string) (*plan.Decision, error) {
	if userID == "" {
		userID = "local"
	}
	a, err := d.mgr.AgentFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	result, err := a.Turn(agent.WithUserID(ctx, userID), []agent.CompletionMessage{
		{Role: "user", Content: prompt},
	}, agent.TurnCallbacks{})
	if err != nil {
		return nil, err
	}
	return &plan.Decision{Text: result.Content}, nil
}
