package config

import (
	"time"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// LLMConfig configures the model providers.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	DefaultModel    string                       `yaml:"default_model"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// AllowedModels is the per-provider model allow-list. A provider with an
	// empty list accepts any model.
	AllowedModels map[string][]string `yaml:"allowed_models"`

	Fallback FallbackConfig `yaml:"fallback"`

	Temperature    float32       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`
}

// FallbackConfig selects the provider retried after a transient failure.
type FallbackConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// DefaultAllowedModels returns the built-in model allow-list.
func DefaultAllowedModels() map[string][]string {
	return map[string][]string{
		string(models.ProviderGoogle):    {"gemini-pro", "gemini-1.5-flash", "gemini-1.5-pro", "gemini-2.5-flash"},
		string(models.ProviderOpenAI):    {"gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"},
		string(models.ProviderAnthropic): {"claude-3-opus-20240229", "claude-3-sonnet-20240229", "claude-3-haiku-20240307"},
	}
}

// Credential returns the configured credentials for provider.
func (c LLMConfig) Credential(provider models.Provider) models.ProviderConfig {
	p := c.Providers[string(provider)]
	return models.ProviderConfig{
		Provider:     provider,
		APIKey:       p.APIKey,
		BaseURL:      p.BaseURL,
		Organization: p.Organization,
	}
}

// Credentials returns the configured credentials keyed by provider.
func (c LLMConfig) Credentials() map[models.Provider]models.ProviderConfig {
	out := make(map[models.Provider]models.ProviderConfig, len(models.Providers))
	for _, p := range models.Providers {
		out[p] = c.Credential(p)
	}
	return out
}

// Allowed returns the allow-list keyed by provider.
func (c LLMConfig) Allowed() map[models.Provider][]string {
	out := make(map[models.Provider][]string, len(c.AllowedModels))
	for name, list := range c.AllowedModels {
		out[models.Provider(name)] = append([]string(nil), list...)
	}
	return out
}

// Default returns the platform default provider configuration.
func (c LLMConfig) Default() models.ProviderConfig {
	cfg := c.Credential(models.Provider(c.DefaultProvider))
	cfg.Model = c.DefaultModel
	return cfg
}

// FallbackProvider returns the failover target. ok is false when failover
// is disabled or has no credential.
func (c LLMConfig) FallbackProvider() (cfg models.ProviderConfig, ok bool) {
	if !enabled(c.Fallback.Enabled) || c.Fallback.Provider == "" {
		return models.ProviderConfig{}, false
	}
	cfg = c.Credential(models.Provider(c.Fallback.Provider))
	cfg.Model = c.Fallback.Model
	if c.Fallback.APIKey != "" {
		cfg.APIKey = c.Fallback.APIKey
	}
	return cfg, cfg.APIKey != ""
}
