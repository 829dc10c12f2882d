package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// ModelHandle is a provider-bound model, optionally bound to a tool set.
//
// Implementations normalize their vendor's wire format so that draining
// Stream and concatenating chunk text yields the same content and tool calls
// as Invoke. A handle built without tools behaves exactly like an untooled
// model.
//
// Thread Safety:
// Handles are created per model call and need not be safe for concurrent use.
type ModelHandle interface {
	// Invoke sends the messages and waits for the complete response.
	Invoke(ctx context.Context, msgs []models.Message) (*ModelResponse, error)

	// Stream sends the messages and returns incremental chunks. The channel
	// is closed when the response is complete. A chunk carrying Err is the
	// last one sent.
	Stream(ctx context.Context, msgs []models.Message) (<-chan *ModelChunk, error)
}

// ModelFactory builds model handles for a provider configuration.
type ModelFactory interface {
	CreateModel(cfg models.ProviderConfig, tools []Tool) (ModelHandle, error)
}

// ModelResponse is the normalized result of a model call.
type ModelResponse struct {
	Content   string            `json:"content"`
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`
}

// FirstToolCall returns the first requested tool call, or nil.
func (r *ModelResponse) FirstToolCall() *models.ToolCall {
	if r == nil || len(r.ToolCalls) == 0 {
		return nil
	}
	return &r.ToolCalls[0]
}

// Empty reports whether the response carries neither text nor a tool call.
func (r *ModelResponse) Empty() bool {
	return r == nil || (r.Content == "" && len(r.ToolCalls) == 0)
}

// ModelChunk is a single increment of a streaming model response.
type ModelChunk struct {
	// Text is partial response text.
	Text string

	// ToolCall is a complete tool call request.
	ToolCall *models.ToolCall

	// Err terminates the stream.
	Err error
}

// ToolKind distinguishes tools whose results the client consumes from tools
// whose results are fed back to the model.
type ToolKind string

const (
	// ToolKindAction tools produce a client command and end the turn.
	ToolKindAction ToolKind = "action"

	// ToolKindInformational tools feed their result back to the model.
	ToolKindInformational ToolKind = "informational"
)

// Tool is a capability offered to the model.
type Tool interface {
	// Name returns the tool name the model calls it by.
	Name() string

	// Description explains the tool to the model.
	Description() string

	// Schema returns the JSON schema of the tool parameters.
	Schema() json.RawMessage

	// Kind reports whether the tool is an action or informational tool.
	Kind() ToolKind

	// Execute runs the tool. Returned errors are converted into a
	// confirmation by the dispatcher and never fail the turn.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// Command is a client-side instruction produced by an action tool.
type Command struct {
	Target string         `json:"target"`
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// ToolResult is the outcome of a tool execution.
//
// Confirmation is the only part that may enter conversation history.
// Payload is surfaced to the caller and, for informational tools, Content is
// shown to the model for the rest of the turn.
type ToolResult struct {
	// Confirmation is human-readable text safe to persist.
	Confirmation string `json:"confirmation"`

	// Content is the text fed back to the model for informational tools.
	Content string `json:"content,omitempty"`

	// Payload is the structured output for the client.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Command is set by action tools.
	Command *Command `json:"command,omitempty"`

	// IsError is true when the tool failed or was not found.
	IsError bool `json:"is_error,omitempty"`

	// Kind is the kind of the tool that produced the result.
	Kind ToolKind `json:"kind,omitempty"`
}

// MemoryBackend loads and saves ordered conversation history.
type MemoryBackend interface {
	// LoadMemory returns the history for a session, or an empty slice.
	LoadMemory(ctx context.Context, sessionID string) ([]models.Message, error)

	// SaveMemory replaces the history for a session.
	SaveMemory(ctx context.Context, sessionID string, msgs []models.Message) error
}

// SessionLocker serializes turns of the same session.
type SessionLocker interface {
	Lock(ctx context.Context, sessionID string) error
	Unlock(sessionID string)
}

// SessionContext identifies one pipeline invocation. It is never mutated
// after creation; WithProvider returns a copy.
type SessionContext struct {
	SessionID    string
	StartedAt    time.Time
	ClientIP     string
	ClientDevice string
	Provider     models.ProviderConfig
}

// NewSessionContext creates a session context stamped with the current time.
func NewSessionContext(sessionID string, provider models.ProviderConfig) SessionContext {
	return SessionContext{
		SessionID: sessionID,
		StartedAt: time.Now().UTC(),
		Provider:  provider,
	}
}

// WithClient returns a copy with client metadata set.
func (sc SessionContext) WithClient(ip, device string) SessionContext {
	sc.ClientIP = ip
	sc.ClientDevice = device
	return sc
}

// WithProvider returns a copy that uses a different provider configuration.
func (sc SessionContext) WithProvider(cfg models.ProviderConfig) SessionContext {
	sc.Provider = cfg
	return sc
}
