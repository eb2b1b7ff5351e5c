// Package server exposes the coordination core over HTTP: the customer
// chat endpoint, session administration, and the agent-to-agent
// surface.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
	"github.com/mthangit/Multi-Agents-sub000/pkg/broker"
	"github.com/mthangit/Multi-Agents-sub000/pkg/clients"
	"github.com/mthangit/Multi-Agents-sub000/pkg/memory"
	"github.com/mthangit/Multi-Agents-sub000/pkg/observability"
	"github.com/mthangit/Multi-Agents-sub000/pkg/orchestrator"
	"github.com/mthangit/Multi-Agents-sub000/pkg/registry"
	"github.com/mthangit/Multi-Agents-sub000/pkg/transport"
)

// maxUploadBytes bounds multipart chat uploads.
const maxUploadBytes = 20 << 20

// Server wires the HTTP surface to the coordination components.
type Server struct {
	registry     *registry.Registry
	broker       *broker.Broker
	orchestrator *orchestrator.Orchestrator
	memory       *memory.Memory
	clients      *clients.Manager
	store        transport.Store
	hostCard     clients.AgentCard
	logger       *slog.Logger

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHostCard sets the descriptor served at /.well-known/agent.json.
func WithHostCard(card clients.AgentCard) Option {
	return func(s *Server) {
		s.hostCard = card
	}
}

// New builds the Server.
func New(reg *registry.Registry, b *broker.Broker, orch *orchestrator.Orchestrator,
	mem *memory.Memory, mgr *clients.Manager, store transport.Store, opts ...Option) *Server {
	s := &Server{
		registry:     reg,
		broker:       b,
		orchestrator: orch,
		memory:       mem,
		clients:      mgr,
		store:        store,
		logger:       slog.Default(),
		hostCard: clients.AgentCard{
			Name:        "Host Agent",
			Description: "Eyewear shop coordination host",
			Version:     "1.0.0",
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Post("/chat", s.handleChat)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/create", s.handleCreateSession)
		r.Get("/{sessionID}/history", s.handleSessionHistory)
		r.Delete("/{sessionID}/history", s.handleDeleteSessionHistory)
	})
	r.Get("/users/{userID}/sessions", s.handleUserSessions)

	r.Route("/a2a", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/unregister/{agentID}", s.handleUnregister)
		r.Get("/agents", s.handleListAgents)
		r.Get("/agents/{agentID}", s.handleGetAgent)
		r.Post("/discover", s.handleDiscover)
		r.Post("/send", s.handleSend)
		r.Post("/broadcast", s.handleBroadcast)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Post("/receive", s.handleReceive)
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
	})

	r.Get(a2a.WellKnownPath, s.handleAgentCard)
	r.Handle("/metrics", observability.Handler())
	return r
}

// Start begins serving on addr and blocks until the listener fails or
// Shutdown runs.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
