package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

type stubTool struct {
	name   string
	schema string
}

func (t stubTool) Name() string            { return t.name }
func (t stubTool) Description() string     { return "stub " + t.name }
func (t stubTool) Schema() json.RawMessage { return json.RawMessage(t.schema) }
func (t stubTool) Kind() agent.ToolKind    { return agent.ToolKindAction }
func (t stubTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Confirmation: "ok"}, nil
}

var dashboardStub = stubTool{
	name:   "dashboard",
	schema: `{"type":"object","properties":{"action":{"type":"string","enum":["add_widget","list_widgets"]}},"required":["action"]}`,
}

var conversation = []models.Message{
	{Role: models.RoleSystem, Content: "You are helpful.", Transient: true},
	{Role: models.RoleUser, Content: "Hello"},
}

// writeSSE writes server-sent event lines and flushes after each.
func writeSSE(t *testing.T, w http.ResponseWriter, lines []string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("expected http.Flusher")
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
		flusher.Flush()
	}
}

// collect drains a chunk stream into a response.
func collect(t *testing.T, ch <-chan *agent.ModelChunk) (*agent.ModelResponse, []string, error) {
	t.Helper()
	resp := &agent.ModelResponse{}
	var texts []string
	for chunk := range ch {
		if chunk.Err != nil {
			return nil, texts, chunk.Err
		}
		if chunk.Text != "" {
			texts = append(texts, chunk.Text)
			resp.Content += chunk.Text
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
	}
	return resp, texts, nil
}
