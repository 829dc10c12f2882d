package sessions

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// ProviderDefaults is the platform provider configuration a ConfigStore
// resolves against.
type ProviderDefaults struct {
	// Default is used for sessions without an override. Its APIKey is
	// filled from Credentials when empty.
	Default models.ProviderConfig

	// Credentials holds the process-level key, base URL and organization
	// per provider.
	Credentials map[models.Provider]models.ProviderConfig

	// AllowedModels is the per-provider model allow-list.
	AllowedModels map[models.Provider][]string
}

type sessionConfig struct {
	provider  models.ProviderConfig
	updatedAt time.Time
}

// ConfigStore holds per-session provider overrides.
type ConfigStore struct {
	defaults ProviderDefaults

	mu       sync.RWMutex
	sessions map[string]*sessionConfig
	now      func() time.Time
}

// NewConfigStore creates an empty override store.
func NewConfigStore(defaults ProviderDefaults) *ConfigStore {
	return &ConfigStore{
		defaults: defaults,
		sessions: make(map[string]*sessionConfig),
		now:      time.Now,
	}
}

// Configure validates and stores a provider override for a session. An
// empty apiKey uses the process key for the provider; when there is none
// the call fails with agent.ErrAuth.
func (s *ConfigStore) Configure(_ context.Context, sessionID string, provider models.Provider, model, apiKey string) (models.ProviderConfig, error) {
	if strings.TrimSpace(sessionID) == "" {
		return models.ProviderConfig{}, &agent.ValidationError{Field: "sessionId", Reason: "is required"}
	}
	if _, err := models.ParseProvider(string(provider)); err != nil {
		return models.ProviderConfig{}, &agent.ValidationError{Field: "provider", Reason: err.Error()}
	}
	if !s.Allowed(provider, model) {
		return models.ProviderConfig{}, &agent.ValidationError{
			Field:  "model",
			Reason: fmt.Sprintf("%q is not allowed for provider %s", model, provider),
		}
	}

	cfg := s.defaults.Credentials[provider]
	cfg.Provider = provider
	cfg.Model = model
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if cfg.APIKey == "" {
		return models.ProviderConfig{}, fmt.Errorf("%w: no API key configured for provider %s", agent.ErrAuth, provider)
	}

	s.mu.Lock()
	s.sessions[sessionID] = &sessionConfig{provider: cfg, updatedAt: s.now()}
	s.mu.Unlock()
	return cfg, nil
}

// Resolve returns the session override, or the platform default.
func (s *ConfigStore) Resolve(sessionID string) models.ProviderConfig {
	s.mu.Lock()
	entry, ok := s.sessions[sessionID]
	if ok {
		entry.updatedAt = s.now()
	}
	s.mu.Unlock()
	if ok {
		return entry.provider
	}

	cfg := s.defaults.Default
	creds := s.defaults.Credentials[cfg.Provider]
	if cfg.APIKey == "" {
		cfg.APIKey = creds.APIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = creds.BaseURL
	}
	if cfg.Organization == "" {
		cfg.Organization = creds.Organization
	}
	return cfg
}

// Allowed reports whether model is on the provider allow-list. An empty
// allow-list for the provider allows any non-empty model.
func (s *ConfigStore) Allowed(provider models.Provider, model string) bool {
	if strings.TrimSpace(model) == "" {
		return false
	}
	allowed, ok := s.defaults.AllowedModels[provider]
	if !ok || len(allowed) == 0 {
		return true
	}
	return slices.Contains(allowed, model)
}

// Forget drops a session override.
func (s *ConfigStore) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// EvictIdle drops overrides not used since cutoff.
func (s *ConfigStore) EvictIdle(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.sessions {
		if entry.updatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
