package toolconv

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/man-su-97/rag-chatbot/internal/agent"
)

// ToOpenAITools declares tools as OpenAI functions. OpenAI accepts JSON
// Schema as-is, so the decoded map is passed through.
func ToOpenAITools(tools []agent.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		params, err := decodeSchema(tool)
		if err != nil {
			params = emptyObject()
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  params,
			},
		})
	}
	return out
}
