package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

func newOpenAITestModel(t *testing.T, handler http.HandlerFunc, tools ...agent.Tool) *OpenAIModel {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	m, err := NewOpenAIModel(models.ProviderConfig{
		Provider: models.ProviderOpenAI,
		Model:    "gpt-4o",
		APIKey:   "sk-test",
		BaseURL:  server.URL + "/v1",
	}, tools, Options{})
	if err != nil {
		t.Fatalf("NewOpenAIModel() error = %v", err)
	}
	return m
}

func TestOpenAIModel_Invoke(t *testing.T) {
	var body map[string]any
	m := newOpenAITestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"dashboard","arguments":"{\"action\":\"list_widgets\"}"}}]},"finish_reason":"tool_calls"}]}`)
	}, dashboardStub)

	resp, err := m.Invoke(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	call := resp.FirstToolCall()
	if call == nil || call.Name != "dashboard" || string(call.Input) != `{"action":"list_widgets"}` {
		t.Fatalf("tool call = %+v", call)
	}

	messages, _ := body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	if first := messages[0].(map[string]any); first["role"] != "system" || first["content"] != "You are helpful." {
		t.Errorf("system message = %v", first)
	}
	if tools, _ := body["tools"].([]any); len(tools) != 1 {
		t.Errorf("tools = %v", body["tools"])
	}
}

func TestOpenAIModel_InvokeWithoutTools(t *testing.T) {
	m := newOpenAITestModel(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if strings.Contains(string(data), `"tools"`) {
			t.Errorf("unbound model sent tools: %s", data)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hi!"},"finish_reason":"stop"}]}`)
	})

	resp, err := m.Invoke(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Content != "Hi!" || len(resp.ToolCalls) != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAIModel_Stream(t *testing.T) {
	m := newOpenAITestModel(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, []string{
			`data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`,
			``,
			`data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" there"}}]}`,
			``,
			`data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"dashboard","arguments":"{\"action\":"}}]}}]}`,
			``,
			`data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"add_widget\"}"}}]},"finish_reason":"tool_calls"}]}`,
			``,
			`data: [DONE]`,
			``,
		})
	}, dashboardStub)

	ch, err := m.Stream(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	resp, texts, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if strings.Join(texts, "|") != "Hi| there" {
		t.Errorf("texts = %q", texts)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || string(resp.ToolCalls[0].Input) != `{"action":"add_widget"}` {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
}

func TestOpenAIModel_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		class  agent.ErrorClass
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, agent.ClassRateLimit},
		{"auth", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, agent.ClassAuth},
		{"server", http.StatusServiceUnavailable, `{"error":{"message":"The server is overloaded","type":"server_error"}}`, agent.ClassProviderDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newOpenAITestModel(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := m.Invoke(context.Background(), conversation)
			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("error = %v, want ProviderError", err)
			}
			if providerErr.Status != tt.status {
				t.Errorf("Status = %d", providerErr.Status)
			}
			if got := agent.ClassifyError(err); got != tt.class {
				t.Errorf("class = %s, want %s", got, tt.class)
			}
		})
	}
}
