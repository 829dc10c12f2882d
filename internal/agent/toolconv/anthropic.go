package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/man-su-97/rag-chatbot/internal/agent"
)

// ToAnthropicTools declares tools for the Messages API. Unlike the other
// providers a bad schema is an error, since Anthropic rejects the request.
func ToAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var input anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &input); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", tool.Name(), err)
		}
		param := anthropic.ToolUnionParamOfTool(input, tool.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: no tool definition", tool.Name())
		}
		param.OfTool.Description = anthropic.String(tool.Description())
		out = append(out, param)
	}
	return out, nil
}
