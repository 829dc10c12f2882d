package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks the config after defaults have been applied.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("version: %v", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535")
	}
	if rl := c.Server.RateLimit; rl.RequestsPerSecond < 0 || rl.Burst < 0 {
		add("server.rate_limit values must not be negative")
	}

	defaultProvider, err := models.ParseProvider(c.LLM.DefaultProvider)
	if err != nil {
		add("llm.default_provider: %v", err)
	} else if !modelAllowed(c.LLM.AllowedModels[string(defaultProvider)], c.LLM.DefaultModel) {
		add("llm.default_model %q is not allowed for %s", c.LLM.DefaultModel, defaultProvider)
	}
	for name := range c.LLM.Providers {
		if _, err := models.ParseProvider(name); err != nil {
			add("llm.providers: %v", err)
		}
	}
	for name := range c.LLM.AllowedModels {
		if _, err := models.ParseProvider(name); err != nil {
			add("llm.allowed_models: %v", err)
		}
	}
	if enabled(c.LLM.Fallback.Enabled) {
		if _, err := models.ParseProvider(c.LLM.Fallback.Provider); err != nil {
			add("llm.fallback.provider: %v", err)
		}
		if strings.TrimSpace(c.LLM.Fallback.Model) == "" {
			add("llm.fallback.model is required")
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens must be positive")
	}

	if c.Agent.MaxIterations < 1 {
		add("agent.max_iterations must be at least 1")
	}
	if c.Agent.MaxMessageLength < 1 {
		add("agent.max_message_length must be at least 1")
	}

	switch c.Memory.Backend {
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.Memory.Postgres.URL) == "" {
			add("memory.postgres.url is required for the postgres backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Memory.SQLite.Path) == "" {
			add("memory.sqlite.path is required for the sqlite backend")
		}
		if c.Memory.SQLite.Driver != "sqlite" && c.Memory.SQLite.Driver != "sqlite3" {
			add("memory.sqlite.driver must be sqlite or sqlite3")
		}
	default:
		add("memory.backend must be memory, postgres, or sqlite")
	}
	if c.Memory.SessionTTL < 0 {
		add("memory.session_ttl must not be negative")
	}
	if _, err := cron.ParseStandard(c.Memory.JanitorSchedule); err != nil {
		add("memory.janitor_schedule: %v", err)
	}

	switch c.Locks.Backend {
	case BackendLocal:
	case BackendPostgres:
		if c.Memory.Backend != BackendPostgres {
			add("locks.backend postgres requires memory.backend postgres")
		}
	default:
		add("locks.backend must be local or postgres")
	}

	if enabled(c.Tools.WebSearch.Enabled) {
		u, err := url.Parse(c.Tools.WebSearch.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("tools.web_search.endpoint must be an http(s) URL")
		}
	}

	if c.Commands.Timeout < 0 {
		add("commands.timeout must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level must be debug, info, warn, or error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text")
	}

	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func modelAllowed(allowed []string, model string) bool {
	if strings.TrimSpace(model) == "" {
		return false
	}
	return len(allowed) == 0 || slices.Contains(allowed, model)
}
