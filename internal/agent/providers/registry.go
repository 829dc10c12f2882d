package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// Constructor builds a model handle for one provider.
type Constructor func(cfg models.ProviderConfig, tools []agent.Tool, opts Options) (agent.ModelHandle, error)

// Registry is the agent.ModelFactory. It dispatches on the provider of the
// requested configuration and fails fast for providers it does not know.
type Registry struct {
	mu           sync.RWMutex
	constructors map[models.Provider]Constructor
	opts         Options
}

// NewRegistry creates a registry with the openai, google and anthropic
// adapters registered.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		constructors: make(map[models.Provider]Constructor),
		opts:         opts.withDefaults(),
	}
	r.Register(models.ProviderOpenAI, func(cfg models.ProviderConfig, tools []agent.Tool, opts Options) (agent.ModelHandle, error) {
		return NewOpenAIModel(cfg, tools, opts)
	})
	r.Register(models.ProviderGoogle, func(cfg models.ProviderConfig, tools []agent.Tool, opts Options) (agent.ModelHandle, error) {
		return NewGoogleModel(cfg, tools, opts)
	})
	r.Register(models.ProviderAnthropic, func(cfg models.ProviderConfig, tools []agent.Tool, opts Options) (agent.ModelHandle, error) {
		return NewAnthropicModel(cfg, tools, opts)
	})
	return r
}

// Register adds or replaces the constructor for a provider.
func (r *Registry) Register(provider models.Provider, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[provider] = ctor
}

// Providers returns the registered providers in name order.
func (r *Registry) Providers() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Provider, 0, len(r.constructors))
	for p := range r.constructors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CreateModel implements agent.ModelFactory.
func (r *Registry) CreateModel(cfg models.ProviderConfig, tools []agent.Tool) (agent.ModelHandle, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", agent.ErrUnsupportedProvider, cfg.Provider)
	}
	if len(tools) == 0 {
		tools = nil
	}
	return ctor(cfg, tools, r.opts)
}
