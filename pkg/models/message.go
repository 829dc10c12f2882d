package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// Message is a single entry of a session's conversation history.
//
// Transient messages are visible to the model during a turn but are never
// persisted or returned to clients.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Transient bool      `json:"-"`
}

// NewMessage creates a message stamped with the current UTC time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now().UTC()}
}

// Persistent returns the messages that belong in long-term history,
// preserving order.
func Persistent(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Transient {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Args decodes the call input into a generic map. An empty input yields an
// empty map.
func (c ToolCall) Args() (map[string]any, error) {
	args := map[string]any{}
	if len(c.Input) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(c.Input, &args); err != nil {
		return nil, err
	}
	return args, nil
}
