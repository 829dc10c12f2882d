package models

import "fmt"

// Provider identifies a language-model vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderAnthropic Provider = "anthropic"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderOpenAI, ProviderGoogle, ProviderAnthropic}

// ParseProvider converts a string into a Provider.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderOpenAI, ProviderGoogle, ProviderAnthropic:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported provider %q", s)
	}
}

// ProviderConfig selects the model backend for one pipeline invocation.
type ProviderConfig struct {
	Provider     Provider `json:"provider" yaml:"provider"`
	Model        string   `json:"model" yaml:"model"`
	APIKey       string   `json:"-" yaml:"api_key"`
	BaseURL      string   `json:"baseURL,omitempty" yaml:"base_url"`
	Organization string   `json:"organization,omitempty" yaml:"organization"`
}

// String renders the config without its API key.
func (c ProviderConfig) String() string {
	return fmt.Sprintf("%s/%s", c.Provider, c.Model)
}
