package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

func newGoogleTestModel(t *testing.T, handler http.HandlerFunc, tools ...agent.Tool) *GoogleModel {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	m, err := NewGoogleModel(models.ProviderConfig{
		Provider: models.ProviderGoogle,
		Model:    "gemini-1.5-flash",
		APIKey:   "AIza-test",
		BaseURL:  server.URL,
	}, tools, Options{})
	if err != nil {
		t.Fatalf("NewGoogleModel() error = %v", err)
	}
	return m
}

func TestGoogleModel_Invoke(t *testing.T) {
	m := newGoogleTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-1.5-flash:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Hi!"}]},"finishReason":"STOP"}]}`)
	})

	resp, err := m.Invoke(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Content != "Hi!" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestGoogleModel_Request(t *testing.T) {
	m, err := NewGoogleModel(models.ProviderConfig{Provider: models.ProviderGoogle, Model: "gemini-1.5-flash", APIKey: "k"}, []agent.Tool{dashboardStub}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	contents, config := m.request([]models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	})
	if len(contents) != 2 || contents[0].Role != "user" || contents[1].Role != "model" {
		t.Fatalf("contents = %+v", contents)
	}
	if config.SystemInstruction == nil || config.SystemInstruction.Parts[0].Text != "sys" {
		t.Errorf("SystemInstruction = %+v", config.SystemInstruction)
	}
	if config.Temperature == nil || *config.Temperature != 0 {
		t.Errorf("Temperature = %v", config.Temperature)
	}
	if len(config.Tools) != 1 || config.Tools[0].FunctionDeclarations[0].Name != "dashboard" {
		t.Errorf("Tools = %+v", config.Tools)
	}
	if config.MaxOutputTokens != DefaultMaxTokens {
		t.Errorf("MaxOutputTokens = %d", config.MaxOutputTokens)
	}
}

func TestResponseChunks(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Adding it."},
				{FunctionCall: &genai.FunctionCall{Name: "dashboard", Args: map[string]any{"action": "add_widget"}}},
			}},
		}},
	}

	chunks := responseChunks(resp)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %+v", chunks)
	}
	if chunks[0].Text != "Adding it." {
		t.Errorf("text = %q", chunks[0].Text)
	}
	call := chunks[1].ToolCall
	if call == nil || call.Name != "dashboard" || call.ID == "" || string(call.Input) != `{"action":"add_widget"}` {
		t.Errorf("tool call = %+v", call)
	}

	if responseChunks(nil) != nil || responseChunks(&genai.GenerateContentResponse{}) != nil {
		t.Error("empty responses should yield no chunks")
	}
}

func TestGoogleModel_WrapError(t *testing.T) {
	m := &GoogleModel{baseModel: baseModel{provider: models.ProviderGoogle, model: "gemini-1.5-flash"}}

	err := m.wrapError(genai.APIError{Code: 429, Message: "Resource has been exhausted", Status: "RESOURCE_EXHAUSTED"})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) || providerErr.Reason != FailoverRateLimit {
		t.Fatalf("error = %#v", err)
	}
	if agent.ClassifyError(err) != agent.ClassRateLimit {
		t.Errorf("class = %s", agent.ClassifyError(err))
	}

	err = m.wrapError(errors.New("API key not valid. Please pass a valid API key."))
	if agent.ClassifyError(err) != agent.ClassAuth {
		t.Errorf("class = %s, want auth", agent.ClassifyError(err))
	}
}
