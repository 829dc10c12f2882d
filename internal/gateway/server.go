// Package gateway serves the chatbot over HTTP: REST endpoints, an ndjson
// event stream, and a websocket stream.
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

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/internal/commands"
	"github.com/man-su-97/rag-chatbot/internal/observability"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// SessionConfigs resolves and stores per-session provider configuration.
type SessionConfigs interface {
	Configure(ctx context.Context, sessionID string, provider models.Provider, model, apiKey string) (models.ProviderConfig, error)
	Resolve(sessionID string) models.ProviderConfig
}

// HistoryReader loads the persisted history of a session.
type HistoryReader interface {
	LoadMemory(ctx context.Context, sessionID string) ([]models.Message, error)
}

// RateLimiter admits or rejects a request for a client key.
type RateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// CommandInterpreter turns a message into a frontend command.
type CommandInterpreter interface {
	Interpret(ctx context.Context, message string) (*commands.Command, error)
}

// Config configures the HTTP server.
type Config struct {
	Addr              string
	CORSOrigin        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// MetricsPath serves MetricsHandler when both are set.
	MetricsPath    string
	MetricsHandler http.Handler

	// RateLimiter throttles model-calling routes per client when set.
	RateLimiter RateLimiter
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Runner      agent.Runner
	History     HistoryReader
	Configs     SessionConfigs
	Interpreter CommandInterpreter

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Server is the chatbot HTTP server.
type Server struct {
	config   Config
	runner   agent.Runner
	streamer *agent.Streamer
	history  HistoryReader
	configs  SessionConfigs
	commands CommandInterpreter
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	handler  http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
}

// New creates a server. Runner, History, and Configs are required.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, errors.New("gateway: runner is required")
	}
	if deps.History == nil {
		return nil, errors.New("gateway: history reader is required")
	}
	if deps.Configs == nil {
		return nil, errors.New("gateway: session configs are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3005"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	s := &Server{
		config:   cfg,
		runner:   deps.Runner,
		streamer: agent.NewStreamer(deps.Runner, logger, deps.Metrics),
		history:  deps.History,
		configs:  deps.Configs,
		commands: deps.Interpreter,
		logger:   logger,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("gateway: server already started")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.httpServer = server
	s.listener = listener
	s.serveErr = make(chan error, 1)

	go func() {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
			s.serveErr <- err
		}
		close(s.serveErr)
	}()

	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors reports a serve failure. The channel is closed when serving stops.
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Shutdown stops accepting requests and waits for in-flight ones up to the
// shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
