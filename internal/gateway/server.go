// Package gateway serves the assistant over HTTP: chat turns streamed as
// server-sent events or over a WebSocket, approvals, chat history, user
// settings and the external API debug endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/tariti/internal/agent"
	"github.com/haasonsaas/tariti/internal/auth"
	"github.com/haasonsaas/tariti/internal/externalapi"
	"github.com/haasonsaas/tariti/internal/observability"
	"github.com/haasonsaas/tariti/internal/ratelimit"
	"github.com/haasonsaas/tariti/internal/storage"
	"github.com/haasonsaas/tariti/internal/tools"
	"github.com/haasonsaas/tariti/pkg/models"
)

const (
	defaultKeepalive = 15 * time.Second
	chatLimitMessage = "Too many chat requests; try again later."
)

// Config holds the HTTP surface settings.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:3001".
	Addr string

	// FrontendURL is the only cross-origin caller allowed.
	FrontendURL string

	// KeepaliveInterval is the heartbeat period of open streams.
	// Default: 15s
	KeepaliveInterval time.Duration

	// DefaultOpenAIModel is reported in preferences when the user set none.
	DefaultOpenAIModel string

	// APILimit applies to every /api request, keyed by caller.
	APILimit ratelimit.Config
	// ChatLimit additionally applies to chat and approve.
	ChatLimit ratelimit.Config
}

// TurnRunner starts and resumes agent turns. *agent.Controller implements it.
type TurnRunner interface {
	Run(ctx context.Context, turn agent.Turn, sink agent.Sink) agent.Outcome
	Resume(ctx context.Context, pending *models.PendingApproval, decision agent.Decision, route agent.Route, sink agent.Sink) agent.Outcome
}

// RouteResolver picks the provider route from preferences. *agent.Router
// implements it.
type RouteResolver interface {
	RouteFor(prefs models.Preferences) (agent.Route, error)
}

// ApprovalClaimer consumes pending approvals. *agent.ApprovalGate
// implements it.
type ApprovalClaimer interface {
	Claim(ctx context.Context, id, userID string) (*models.PendingApproval, error)
}

// ToolLister lists the tools offered to the model.
type ToolLister interface {
	Definitions() []tools.Definition
}

// Deps are the collaborators of the server.
type Deps struct {
	Turns     TurnRunner
	Routes    RouteResolver
	Approvals ApprovalClaimer
	Stores    storage.StoreSet
	Tools     ToolLister
	// SystemPrompt renders the prompt shown on the developer page.
	SystemPrompt func(now time.Time) string
	Resolver     *externalapi.Resolver
	Auth         *auth.Service

	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the HTTP gateway.
type Server struct {
	config Config
	deps   Deps
	logger *slog.Logger

	apiLimiter  *ratelimit.Limiter
	chatLimiter *ratelimit.Limiter
	handler     http.Handler

	// turns tracks turns that outlive their request (WebSocket).
	turns sync.WaitGroup

	mu         sync.Mutex
	httpServer *http.Server
	startTime  time.Time
	now        func() time.Time
}

// New creates a server. Turns, Routes, Approvals and Auth are required.
func New(config Config, deps Deps) (*Server, error) {
	switch {
	case deps.Turns == nil:
		return nil, errors.New("gateway: turn runner is required")
	case deps.Routes == nil:
		return nil, errors.New("gateway: route resolver is required")
	case deps.Approvals == nil:
		return nil, errors.New("gateway: approval gate is required")
	case !deps.Auth.Enabled():
		return nil, errors.New("gateway: auth service has no credential source")
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = defaultKeepalive
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:      config,
		deps:        deps,
		logger:      logger.With("component", "gateway"),
		apiLimiter:  ratelimit.NewLimiter(config.APILimit),
		chatLimiter: ratelimit.NewLimiter(config.ChatLimit),
		startTime:   time.Now(),
		now:         time.Now,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	authn := auth.Middleware(s.deps.Auth, s.logger)
	apiLimit := ratelimit.Middleware(s.apiLimiter, callerKey, "Too many requests; try again later.")
	chatLimit := ratelimit.Middleware(s.chatLimiter, callerKey, chatLimitMessage)
	public := func(h http.HandlerFunc) http.Handler {
		return ratelimit.Middleware(s.apiLimiter, ratelimit.ClientIP, "Too many requests; try again later.")(h)
	}
	private := func(h http.HandlerFunc) http.Handler {
		return authn(apiLimit(h))
	}
	chat := func(h http.HandlerFunc) http.Handler {
		return authn(apiLimit(chatLimit(h)))
	}

	mux.Handle("POST /api/ai/chat", chat(s.handleChat))
	mux.Handle("POST /api/ai/approve", chat(s.handleApprove))
	mux.Handle("POST /api/ai/reject", private(s.handleReject))
	mux.Handle("GET /api/ai/ws", private(s.handleWebSocket))

	mux.Handle("GET /api/ai/chats", private(s.handleListChats))
	mux.Handle("POST /api/ai/chats", private(s.handleCreateChat))
	mux.Handle("GET /api/ai/chats/{id}", private(s.handleGetChat))
	mux.Handle("PATCH /api/ai/chats/{id}", private(s.handleUpdateChat))
	mux.Handle("DELETE /api/ai/chats/{id}", private(s.handleDeleteChat))
	mux.Handle("POST /api/ai/chats/{id}/share", private(s.handleShareChat))
	mux.Handle("GET /api/ai/chats/shared/{token}", public(s.handleSharedChat))

	mux.Handle("GET /api/user/preferences", private(s.handleGetPreferences))
	mux.Handle("PATCH /api/user/preferences", private(s.handleUpdatePreferences))
	mux.Handle("GET /api/user/system-prompt", private(s.handleSystemPrompt))
	mux.Handle("GET /api/user/tools", private(s.handleListTools))

	mux.Handle("GET /api/external-api/variables", private(s.handleListVariables))
	mux.Handle("POST /api/external-api/resolve", private(s.handleResolve))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	var handler http.Handler = mux
	handler = corsMiddleware(s.config.FrontendURL)(handler)
	handler = loggingMiddleware(s.logger, s.deps.Metrics)(handler)
	handler = requestIDMiddleware(handler)
	handler = recoverMiddleware(s.logger)(handler)
	return handler
}

// callerKey keys limits by the authenticated user.
func callerKey(r *http.Request) string {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		return userKey(user.ID)
	}
	return "ip:" + ratelimit.ClientIP(r)
}

func userKey(id string) string { return "user:" + id }

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("gateway: already started")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Shutdown stops accepting requests, then waits for open requests and
// detached turns to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	var err error
	if server != nil {
		if err = server.Shutdown(ctx); err != nil {
			s.logger.Warn("http server shutdown error", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown with turns still running")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
