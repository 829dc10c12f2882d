package providers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

const (
	// DefaultMaxTokens bounds a single model response.
	DefaultMaxTokens = 1024

	// DefaultRequestTimeout bounds a single model call.
	DefaultRequestTimeout = 60 * time.Second

	chunkBuffer = 16
)

// Options are shared by every provider adapter.
type Options struct {
	// Temperature is the sampling temperature. Zero keeps replies
	// deterministic.
	Temperature float32

	// MaxTokens bounds the response length.
	MaxTokens int

	// RequestTimeout bounds each Invoke and Stream call. Zero disables it.
	RequestTimeout time.Duration

	// HTTPClient overrides the SDK HTTP client.
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	return o
}

// baseModel holds what every adapter needs to run a call.
type baseModel struct {
	provider models.Provider
	model    string
	opts     Options
}

// withTimeout applies the request timeout. The returned cancel must always
// be called.
func (b *baseModel) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.opts.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.opts.RequestTimeout)
}

// send delivers a chunk unless the consumer went away.
func send(ctx context.Context, ch chan<- *agent.ModelChunk, chunk *agent.ModelChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// turn is a provider-neutral message after system extraction and role
// folding.
type turn struct {
	assistant bool
	text      string
}

// foldMessages splits the system prompt from the conversation and folds the
// rest into alternating user and assistant turns. Tool results are shown to
// the model as user-side context because history never carries the call ids
// provider tool-result blocks require.
func foldMessages(msgs []models.Message) (string, []turn) {
	var system []string
	var turns []turn
	for _, msg := range msgs {
		text := msg.Content
		assistant := false
		switch msg.Role {
		case models.RoleSystem:
			if text != "" {
				system = append(system, text)
			}
			continue
		case models.RoleAssistant:
			assistant = true
		case models.RoleTool:
			text = "Tool result:\n" + text
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].assistant == assistant {
			turns[n-1].text += "\n\n" + text
			continue
		}
		turns = append(turns, turn{assistant: assistant, text: text})
	}
	return strings.Join(system, "\n\n"), turns
}
