package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// providerKeyEnv maps providers to the environment variable holding their key.
var providerKeyEnv = map[models.Provider]string{
	models.ProviderGoogle:    "GOOGLE_API_KEY",
	models.ProviderOpenAI:    "OPENAI_API_KEY",
	models.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// applyEnvOverrides layers process environment over file values. Provider
// keys only fill in missing file values; everything else wins over the file.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) {
	for provider, key := range providerKeyEnv {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProviderConfig{}
		}
		p := cfg.LLM.Providers[string(provider)]
		if p.APIKey == "" {
			p.APIKey = v
		}
		cfg.LLM.Providers[string(provider)] = p
	}

	if v, ok := lookup("DEFAULT_PROVIDER"); ok {
		cfg.LLM.DefaultProvider = v
	}
	if v, ok := lookup("DEFAULT_MODEL"); ok {
		cfg.LLM.DefaultModel = v
	}
	if v, ok := lookup("FALLBACK_PROVIDER"); ok {
		cfg.LLM.Fallback.Provider = v
	}
	if v, ok := lookup("FALLBACK_MODEL"); ok {
		cfg.LLM.Fallback.Model = v
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		cfg.Memory.Backend = BackendPostgres
		cfg.Memory.Postgres.URL = v
	}
	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
}
