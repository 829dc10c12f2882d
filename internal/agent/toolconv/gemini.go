package toolconv

import (
	"strings"

	"google.golang.org/genai"

	"github.com/man-su-97/rag-chatbot/internal/agent"
)

// ToGeminiTools declares every tool as a function of one Gemini tool.
// Tools whose schema cannot be decoded are left out.
func ToGeminiTools(tools []agent.Tool) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	for _, tool := range tools {
		schema, err := decodeSchema(tool)
		if err != nil {
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  GeminiSchema(schema),
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// GeminiSchema maps the JSON Schema subset used by tools onto genai.Schema.
// Gemini spells types in upper case.
func GeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{
		Enum:     stringList(m["enum"]),
		Required: stringList(m["required"]),
	}
	for key, v := range m {
		switch key {
		case "type":
			if t, ok := v.(string); ok {
				s.Type = genai.Type(strings.ToUpper(t))
			}
		case "description":
			s.Description, _ = v.(string)
		case "format":
			s.Format, _ = v.(string)
		case "items":
			if items, ok := v.(map[string]any); ok {
				s.Items = GeminiSchema(items)
			}
		case "properties":
			props, _ := v.(map[string]any)
			if len(props) == 0 {
				continue
			}
			s.Properties = make(map[string]*genai.Schema, len(props))
			for name, p := range props {
				if pm, ok := p.(map[string]any); ok {
					s.Properties[name] = GeminiSchema(pm)
				}
			}
		}
	}
	return s
}
