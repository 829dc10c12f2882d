package config

import (
	"time"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

const (
	DefaultPort             = 3005
	DefaultCORSOrigin       = "http://localhost:3000"
	DefaultProvider         = models.ProviderGoogle
	DefaultModel            = "gemini-1.5-flash"
	DefaultFallbackModel    = "gpt-4o"
	DefaultMaxTokens        = 1024
	DefaultMaxIterations    = 5
	DefaultMaxMessageLength = 5000
	DefaultSearchEndpoint   = "https://www.google.com/search"
	DefaultSessionTTL       = 24 * time.Hour
	DefaultJanitorSchedule  = "@every 5m"
)

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = DefaultCORSOrigin
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = string(DefaultProvider)
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = DefaultModel
	}
	if cfg.LLM.AllowedModels == nil {
		cfg.LLM.AllowedModels = DefaultAllowedModels()
	}
	if cfg.LLM.Fallback.Provider == "" {
		cfg.LLM.Fallback.Provider = string(models.ProviderOpenAI)
	}
	if cfg.LLM.Fallback.Model == "" && cfg.LLM.Fallback.Provider == string(models.ProviderOpenAI) {
		cfg.LLM.Fallback.Model = DefaultFallbackModel
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = DefaultMaxTokens
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = 60 * time.Second
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}
	if cfg.Agent.MaxMessageLength == 0 {
		cfg.Agent.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 30 * time.Second
	}

	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = BackendMemory
	}
	if cfg.Memory.SQLite.Path == "" {
		cfg.Memory.SQLite.Path = "chatbot.db"
	}
	if cfg.Memory.SQLite.Driver == "" {
		cfg.Memory.SQLite.Driver = "sqlite"
	}
	if cfg.Memory.SessionTTL == 0 {
		cfg.Memory.SessionTTL = DefaultSessionTTL
	}
	if cfg.Memory.JanitorSchedule == "" {
		cfg.Memory.JanitorSchedule = DefaultJanitorSchedule
	}

	if cfg.Locks.Backend == "" {
		cfg.Locks.Backend = BackendLocal
	}
	if cfg.Locks.AcquireTimeout == 0 {
		cfg.Locks.AcquireTimeout = 30 * time.Second
	}
	if cfg.Locks.TTL == 0 {
		cfg.Locks.TTL = 2 * time.Minute
	}

	if cfg.Tools.WebSearch.Endpoint == "" {
		cfg.Tools.WebSearch.Endpoint = DefaultSearchEndpoint
	}
	if cfg.Tools.WebSearch.Timeout == 0 {
		cfg.Tools.WebSearch.Timeout = 10 * time.Second
	}
	if cfg.Tools.WebSearch.CacheTTL == 0 {
		cfg.Tools.WebSearch.CacheTTL = 5 * time.Minute
	}
	if cfg.Tools.WebSearch.MaxResultBytes == 0 {
		cfg.Tools.WebSearch.MaxResultBytes = 8000
	}

	if cfg.Commands.Model == "" {
		cfg.Commands.Model = DefaultModel
	}
	if cfg.Commands.Timeout == 0 {
		cfg.Commands.Timeout = 3 * time.Second
	}
	if cfg.Commands.APIKey == "" {
		cfg.Commands.APIKey = cfg.LLM.Providers[string(models.ProviderGoogle)].APIKey
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.Metrics.Path == "" {
		cfg.Observability.Metrics.Path = "/metrics"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "rag-chatbot"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}
