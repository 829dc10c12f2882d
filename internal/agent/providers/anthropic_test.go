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

func newAnthropicTestModel(t *testing.T, handler http.HandlerFunc, tools ...agent.Tool) *AnthropicModel {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	m, err := NewAnthropicModel(models.ProviderConfig{
		Provider: models.ProviderAnthropic,
		Model:    "claude-3-haiku-20240307",
		APIKey:   "sk-ant-test",
		BaseURL:  server.URL,
	}, tools, Options{})
	if err != nil {
		t.Fatalf("NewAnthropicModel() error = %v", err)
	}
	return m
}

func TestAnthropicModel_Invoke(t *testing.T) {
	var body map[string]any
	m := newAnthropicTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Error("missing x-api-key header")
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-haiku-20240307",
			"content":[{"type":"text","text":"On it."},{"type":"tool_use","id":"toolu_1","name":"dashboard","input":{"action":"list_widgets"}}],
			"stop_reason":"tool_use","usage":{"input_tokens":3,"output_tokens":5}}`)
	}, dashboardStub)

	resp, err := m.Invoke(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Content != "On it." {
		t.Errorf("Content = %q", resp.Content)
	}
	call := resp.FirstToolCall()
	if call == nil || call.ID != "toolu_1" || call.Name != "dashboard" {
		t.Fatalf("tool call = %+v", call)
	}
	args, err := call.Args()
	if err != nil || args["action"] != "list_widgets" {
		t.Errorf("args = %v, %v", args, err)
	}

	system, _ := body["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("system = %v", body["system"])
	}
	if messages, _ := body["messages"].([]any); len(messages) != 1 {
		t.Errorf("messages = %v, want only the user turn", body["messages"])
	}
	if body["temperature"] != float64(0) {
		t.Errorf("temperature = %v", body["temperature"])
	}
}

func TestAnthropicModel_Stream(t *testing.T) {
	m := newAnthropicTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-3-haiku-20240307","usage":{"input_tokens":1,"output_tokens":0}}}`,
			``,
			`event: content_block_start`,
			`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
			``,
			`event: content_block_stop`,
			`data: {"type":"content_block_stop","index":0}`,
			``,
			`event: content_block_start`,
			`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"dashboard","input":{}}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"action\":"}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"add_widget\"}"}}`,
			``,
			`event: content_block_stop`,
			`data: {"type":"content_block_stop","index":1}`,
			``,
			`event: message_stop`,
			`data: {"type":"message_stop"}`,
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
	if strings.Join(texts, "|") != "Hello| world" {
		t.Errorf("texts = %q", texts)
	}
	if len(resp.ToolCalls) != 1 || string(resp.ToolCalls[0].Input) != `{"action":"add_widget"}` {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
}

func TestAnthropicModel_Error(t *testing.T) {
	m := newAnthropicTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"},"request_id":"req_42"}`)
	})

	_, err := m.Invoke(context.Background(), conversation)
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if providerErr.Reason != FailoverRateLimit || providerErr.Code != "rate_limit_error" || providerErr.RequestID != "req_42" {
		t.Errorf("providerErr = %+v", providerErr)
	}
	if !agent.ClassifyError(err).Transient() {
		t.Error("rate limit should be transient")
	}
}

func TestAnthropicModel_StreamError(t *testing.T) {
	m := newAnthropicTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	})

	ch, err := m.Stream(context.Background(), conversation)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	_, _, err = collect(t, ch)
	if agent.ClassifyError(err) != agent.ClassAuth {
		t.Fatalf("error = %v, want auth class", err)
	}
}
