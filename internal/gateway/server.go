// Package gateway is the HTTP surface: the streaming chat endpoint, the
// approval decision endpoint, plan and workspace management, health and
// metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/locushq/locus/internal/agent"
	"github.com/locushq/locus/internal/agents"
	"github.com/locushq/locus/internal/approval"
	"github.com/locushq/locus/internal/auth"
	"github.com/locushq/locus/internal/observability"
	"github.com/locushq/locus/internal/plan"
	"github.com/locushq/locus/internal/storage"
	"github.com/locushq/locus/internal/triggers"
	"github.com/locushq/locus/internal/usage"
	"github.com/locushq/locus/internal/workspace"
)

// TurnRunner runs one agent turn. *agent.Agent satisfies it; tests plug
// in scripted runners.
type TurnRunner interface {
	Turn(ctx context.Context, history []agent.CompletionMessage, cb agent.TurnCallbacks) (*agent.TurnResult, error)
}

// AgentSource yields the turn runner for a user plus the provider and
// model identity used for usage rows and session accounting.
type AgentSource func(ctx context.Context, userID string, settings agents.ProviderSettings) (TurnRunner, agents.ProviderSettings, error)

// ManagerSource adapts the agent cache into an AgentSource.
func ManagerSource(mgr *agents.Manager) AgentSource {
	return func(ctx context.Context, userID string, settings agents.ProviderSettings) (TurnRunner, agents.ProviderSettings, error) {
		if settings.Provider == "" {
			resolved, err := mgr.Settings(ctx, userID)
			if err != nil {
				return nil, settings, err
			}
			a, err := mgr.AgentFor(ctx, userID)
			return a, resolved, err
		}
		a, err := mgr.ChatAgent(ctx, userID, settings)
		return a, settings, err
	}
}

// Config wires the server's collaborators.
type Config struct {
	Host string
	Port int

	Auth       *auth.Service
	Stores     storage.StoreSet
	AgentFor   AgentSource
	Gate       *approval.Gate
	Broker     *approval.Broker
	PlanExec   *plan.Executor
	Usage      *usage.Tracker
	Workspaces *workspace.Manager
	Triggers   *triggers.Scheduler
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	Logger     *slog.Logger

	// MaxContextMessages bounds the history loaded per chat turn.
	MaxContextMessages int

	// Extra mounts additional handlers (the websocket channel adapter)
	// under the authenticated API surface. Patterns must carry the /v1
	// prefix.
	Extra map[string]http.Handler
}

// Server is the HTTP gateway.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	http     *http.Server
	listener net.Listener
}

// NewServer validates the wiring and builds the route table.
func NewServer(cfg Config) (*Server, error) {
	if cfg.AgentFor == nil {
		return nil, errors.New("gateway: agent source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.Logger = cfg.Logger.With("component", "gateway")
	if cfg.MaxContextMessages <= 0 {
		cfg.MaxContextMessages = 20
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	authed := auth.Middleware(cfg.Auth, cfg.Logger)
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/chat/stream", s.handleChatStream)
	api.HandleFunc("POST /v1/approvals/{id}", s.handleApprovalDecision)
	api.HandleFunc("GET /v1/plans", s.handleListPlans)
	api.HandleFunc("GET /v1/plans/{id}", s.handleGetPlan)
	api.HandleFunc("POST /v1/plans/{id}/execute", s.handleExecutePlan)
	api.HandleFunc("POST /v1/plans/{id}/pause", s.handlePausePlan)
	api.HandleFunc("POST /v1/plans/{id}/resume", s.handleResumePlan)
	api.HandleFunc("POST /v1/plans/{id}/abort", s.handleAbortPlan)
	api.HandleFunc("GET /v1/workspaces", s.handleListWorkspaces)
	api.HandleFunc("GET /v1/workspaces/{id}", s.handleGetWorkspace)
	api.HandleFunc("GET /v1/workspaces/{id}/session", s.handleWorkspaceSession)
	for pattern, handler := range cfg.Extra {
		api.Handle(pattern, handler)
	}
	mux.Handle("/v1/", s.instrument(authed(api)))

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler exposes the route table, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins serving and returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.listener = listener
	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument wraps API handlers with request logging and metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordHTTPRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", sw.status), elapsed.Seconds())
		}
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", elapsed.Milliseconds())
	})
}

// statusWriter records the status code while passing Flush through for
// the SSE endpoint.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// userID resolves the caller identity: the authenticated user, or the
// anonymous local identity when auth is disabled.
func (s *Server) userID(r *http.Request) string {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		return user.ID
	}
	return "local"
}
