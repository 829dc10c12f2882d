package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (1MB).
	MaxToolParamsSize = 1 << 20

	// DefaultToolTimeout bounds a single tool execution.
	DefaultToolTimeout = 30 * time.Second
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. It is also the tool dispatcher: Execute resolves a model-issued
// call by name, validates its arguments and runs it.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	schemas map[string]*jsonschema.Schema
	timeout time.Duration
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		timeout: DefaultToolTimeout,
	}
}

// SetTimeout changes the per-execution timeout. Zero disables it.
func (r *ToolRegistry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// Register adds a tool to the registry by its name.
// If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}

	var schema *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		compiled, err := jsonschema.CompileString("tool_"+name, string(raw))
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
	r.schemas[name] = schema
	return nil
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	delete(r.schemas, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tools returns all registered tools in registration order.
func (r *ToolRegistry) Tools() []Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute dispatches a tool call.
//
// An unknown tool name returns an error wrapping ErrToolNotFound. Every other
// failure, including invalid arguments, panics and timeouts, is contained in
// the returned result with IsError set and a confirmation describing it.
func (r *ToolRegistry) Execute(ctx context.Context, call models.ToolCall) (*ToolResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	schema := r.schemas[call.Name]
	timeout := r.timeout
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)
	}

	params := call.Input
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage(`{}`)
	}
	if len(params) > MaxToolParamsSize {
		return failedResult(tool, fmt.Errorf("parameters exceed maximum size of %d bytes", MaxToolParamsSize)), nil
	}
	if schema != nil {
		var doc any
		if err := json.Unmarshal(params, &doc); err != nil {
			return failedResult(tool, fmt.Errorf("invalid arguments: %w", err)), nil
		}
		if err := schema.Validate(doc); err != nil {
			return failedResult(tool, fmt.Errorf("invalid arguments: %w", err)), nil
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := runTool(ctx, tool, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			err = ErrToolTimeout
		}
		return failedResult(tool, err), nil
	}
	if result == nil {
		result = &ToolResult{}
	}
	result.Kind = tool.Kind()
	if result.Confirmation == "" {
		result.Confirmation = fmt.Sprintf("The %s tool completed.", tool.Name())
	}
	return result, nil
}

func runTool(ctx context.Context, tool Tool, params json.RawMessage) (result *ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return tool.Execute(ctx, params)
}

func failedResult(tool Tool, cause error) *ToolResult {
	toolErr := &ToolError{ToolName: tool.Name(), Cause: cause}
	return &ToolResult{
		Confirmation: fmt.Sprintf("The %s tool failed: %v", tool.Name(), cause),
		Content:      toolErr.Error(),
		IsError:      true,
		Kind:         tool.Kind(),
	}
}

// MissingToolConfirmation is the confirmation recorded when the model asks for
// a tool that is not registered.
func MissingToolConfirmation(name string) string {
	return fmt.Sprintf("The requested tool %q is not available.", name)
}
