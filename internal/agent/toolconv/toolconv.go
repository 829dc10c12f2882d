// Package toolconv translates registered tools into each provider SDK's
// function-calling declarations.
package toolconv

import (
	"encoding/json"

	"github.com/man-su-97/rag-chatbot/internal/agent"
)

// emptyObject is offered when a tool schema cannot be decoded.
func emptyObject() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func decodeSchema(tool agent.Tool) (map[string]any, error) {
	var schema map[string]any
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// stringList keeps the string members of a decoded JSON array.
func stringList(v any) []string {
	items, _ := v.([]any)
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
