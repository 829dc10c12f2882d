package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/internal/agent/providers"
	"github.com/man-su-97/rag-chatbot/internal/commands"
	"github.com/man-su-97/rag-chatbot/internal/config"
	"github.com/man-su-97/rag-chatbot/internal/gateway"
	"github.com/man-su-97/rag-chatbot/internal/observability"
	"github.com/man-su-97/rag-chatbot/internal/ratelimit"
	"github.com/man-su-97/rag-chatbot/internal/sessions"
	"github.com/man-su-97/rag-chatbot/internal/tools/dashboard"
	"github.com/man-su-97/rag-chatbot/internal/tools/websearch"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, assembles the application, and serves until
// SIGINT or SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	levelVar := new(slog.LevelVar)
	logger := observability.NewLogger(observability.LogConfig{
		Level:    cfg.Logging.Level,
		LevelVar: levelVar,
		Format:   cfg.Logging.Format,
		Output:   os.Stderr,
	})
	slog.SetDefault(logger)

	logger.Info("starting chatbot server",
		"version", version,
		"commit", commit,
		"config", configPath,
		"provider", cfg.LLM.DefaultProvider,
		"model", cfg.LLM.DefaultModel,
		"memory", cfg.Memory.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(next *config.Config, err error) {
				if err != nil {
					logger.Warn("config reload failed", "error", err)
					return
				}
				levelVar.Set(observability.LogLevelFromString(next.Logging.Level))
				logger.Info("config reloaded", "log_level", next.Logging.Level)
			})
			if err != nil {
				logger.Warn("config watch disabled", "error", err)
			}
		}()
	}

	if err := app.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	if app.janitor != nil {
		app.janitor.Start()
	}
	logger.Info("chatbot server started", "addr", app.server.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-app.server.Errors():
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("chatbot server stopped gracefully")
	return nil
}

// application holds the assembled server and everything that must be
// released on shutdown.
type application struct {
	server  *gateway.Server
	janitor *sessions.Janitor
	closers []func() error
	logger  *slog.Logger
}

// Close stops the janitor and releases resources in reverse order.
func (a *application) Close() {
	if a.janitor != nil {
		a.janitor.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// historyStore is what the pipeline and the history endpoint need from a
// memory backend.
type historyStore interface {
	agent.MemoryBackend
	gateway.HistoryReader
	io.Closer
}

// buildApp wires configuration into a ready-to-start server.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *application, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &application{logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	var metrics *observability.Metrics
	var metricsHandler http.Handler
	if cfg.Observability.Metrics.IsEnabled() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	tc := cfg.Observability.Tracing
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    tc.ServiceName,
		ServiceVersion: firstNonEmpty(tc.ServiceVersion, version),
		Environment:    tc.Environment,
		Endpoint:       tc.Endpoint,
		SamplingRate:   tc.SamplingRate,
		Attributes:     tc.Attributes,
		EnableInsecure: tc.Insecure,
	})
	app.closers = append(app.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return shutdownTracer(sctx)
	})

	store, memStore, db, err := openHistoryStore(ctx, cfg, metrics)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, store.Close)

	locker, err := buildLocker(cfg, db, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := locker.(io.Closer); ok {
		app.closers = append(app.closers, c.Close)
	}

	configs := sessions.NewConfigStore(sessions.ProviderDefaults{
		Default:       cfg.LLM.Default(),
		Credentials:   cfg.LLM.Credentials(),
		AllowedModels: cfg.LLM.Allowed(),
	})

	tools, err := buildTools(cfg)
	if err != nil {
		return nil, err
	}

	factory := providers.NewRegistry(providers.Options{
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		RequestTimeout: cfg.LLM.RequestTimeout,
	})
	pipeline := agent.NewPipeline(factory, store, tools, agent.PipelineOptions{
		MaxIterations:    cfg.Agent.MaxIterations,
		MaxMessageLength: cfg.Agent.MaxMessageLength,
		SystemPrompt:     cfg.Agent.SystemPrompt,
		Locker:           locker,
		Logger:           logger,
		Metrics:          metrics,
		Tracer:           tracer,
	})
	var runner agent.Runner = pipeline
	if fallback, ok := cfg.LLM.FallbackProvider(); ok {
		runner = agent.NewFailover(pipeline, fallback, logger, metrics)
		logger.Info("provider failover enabled", "provider", fallback.Provider, "model", fallback.Model)
	}

	if cfg.Memory.SessionTTL > 0 {
		evictors := []sessions.Evictor{configs}
		if memStore != nil {
			evictors = append(evictors, memStore)
		}
		app.janitor, err = sessions.NewJanitor(sessions.JanitorConfig{
			Schedule: cfg.Memory.JanitorSchedule,
			TTL:      cfg.Memory.SessionTTL,
			Logger:   logger,
			Metrics:  metrics,
		}, evictors...)
		if err != nil {
			return nil, err
		}
		if memStore != nil {
			app.janitor.ReportSize(memStore.Len)
		}
	}

	deps := gateway.Deps{
		Runner:  runner,
		History: store,
		Configs: configs,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	}
	if cfg.Commands.IsEnabled() {
		deps.Interpreter = buildInterpreter(ctx, cfg, logger, metrics)
	}

	srvCfg := gateway.Config{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		CORSOrigin:        cfg.Server.CORSOrigin,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		srvCfg.RateLimiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
		})
	}
	if metricsHandler != nil {
		srvCfg.MetricsPath = cfg.Observability.Metrics.Path
		srvCfg.MetricsHandler = metricsHandler
	}
	app.server, err = gateway.New(srvCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}
	return app, nil
}

// openHistoryStore opens the configured memory backend. memStore is set for
// the in-process backend and db for the SQL backends.
func openHistoryStore(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (store historyStore, memStore *sessions.MemoryStore, db *sql.DB, err error) {
	switch cfg.Memory.Backend {
	case config.BackendPostgres:
		pc := cfg.Memory.Postgres
		pg, err := sessions.NewPostgresStore(sessions.PostgresConfig{
			URL:             pc.URL,
			MaxOpenConns:    pc.MaxOpenConns,
			MaxIdleConns:    pc.MaxIdleConns,
			ConnMaxLifetime: pc.ConnMaxLifetime,
			ConnMaxIdleTime: pc.ConnMaxIdleTime,
			ConnectTimeout:  pc.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres history (run \"chatbot migrate up\" first): %w", err)
		}
		pg.SetMetrics(metrics)
		return pg, nil, pg.DB(), nil
	case config.BackendSQLite:
		lite, err := sessions.NewSQLiteStore(ctx, sessions.SQLiteConfig{
			Path:   cfg.Memory.SQLite.Path,
			Driver: cfg.Memory.SQLite.Driver,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite history: %w", err)
		}
		lite.SetMetrics(metrics)
		return lite, nil, lite.DB(), nil
	default:
		mem := sessions.NewMemoryStore()
		return mem, mem, nil, nil
	}
}

// buildLocker picks the per-session turn lock.
func buildLocker(cfg *config.Config, db *sql.DB, logger *slog.Logger) (agent.SessionLocker, error) {
	if cfg.Locks.Backend != config.BackendPostgres {
		return sessions.NewLocalLocker(cfg.Locks.AcquireTimeout), nil
	}
	if db == nil {
		return nil, errors.New("postgres locks require the postgres memory backend")
	}
	host, _ := os.Hostname()
	return sessions.NewDBLocker(db, sessions.DBLockerConfig{
		OwnerID:        fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()),
		TTL:            cfg.Locks.TTL,
		AcquireTimeout: cfg.Locks.AcquireTimeout,
		PollInterval:   cfg.Locks.PollInterval,
		Logger:         logger,
	})
}

// buildTools registers the enabled tools.
func buildTools(cfg *config.Config) (*agent.ToolRegistry, error) {
	registry := agent.NewToolRegistry()
	registry.SetTimeout(cfg.Agent.ToolTimeout)

	if cfg.Tools.Dashboard.IsEnabled() {
		if err := registry.Register(dashboard.New()); err != nil {
			return nil, err
		}
	}
	if ws := cfg.Tools.WebSearch; ws.IsEnabled() {
		tool := websearch.New(websearch.Config{
			Endpoint:       ws.Endpoint,
			Timeout:        ws.Timeout,
			CacheTTL:       ws.CacheTTL,
			MaxResultBytes: ws.MaxResultBytes,
			UserAgent:      ws.UserAgent,
		})
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// buildInterpreter returns the command interpreter, backed by Gemini when a
// key is configured and by the pattern fallback otherwise.
func buildInterpreter(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *commands.Interpreter {
	cc := cfg.Commands
	icfg := commands.Config{
		Timeout: cc.Timeout,
		Logger:  logger,
		Metrics: metrics,
	}
	if cc.APIKey != "" {
		parser, err := commands.NewGeminiParser(ctx, commands.GeminiConfig{
			APIKey:  cc.APIKey,
			Model:   cc.Model,
			BaseURL: cc.BaseURL,
		})
		if err != nil {
			logger.Warn("command model unavailable, using pattern matching only", "error", err)
		} else {
			icfg.Model = parser
		}
	} else {
		logger.Info("no command model key configured, using pattern matching only")
	}
	return commands.NewInterpreter(icfg)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
