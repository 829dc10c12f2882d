package agent

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// chunkFactory streams a fixed sequence of text chunks.
type chunkFactory struct {
	chunks []string
}

func (f *chunkFactory) CreateModel(models.ProviderConfig, []Tool) (ModelHandle, error) {
	return f, nil
}

func (f *chunkFactory) Invoke(context.Context, []models.Message) (*ModelResponse, error) {
	return &ModelResponse{Content: strings.Join(f.chunks, "")}, nil
}

func (f *chunkFactory) Stream(context.Context, []models.Message) (<-chan *ModelChunk, error) {
	ch := make(chan *ModelChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- &ModelChunk{Text: c}
	}
	close(ch)
	return ch, nil
}

func TestDiff(t *testing.T) {
	tests := []struct {
		prev, cur, want string
	}{
		{"", "Hi", "Hi"},
		{"Hi", "Hi there", " there"},
		{"Hi there", "Hi there", ""},
		{"Hi there", "Hi", ""},
	}
	for _, tt := range tests {
		if got := Diff(tt.prev, tt.cur); got != tt.want {
			t.Errorf("Diff(%q, %q) = %q, want %q", tt.prev, tt.cur, got, tt.want)
		}
	}
}

func TestAccumulator_NeverRepeatsPrefix(t *testing.T) {
	var acc Accumulator
	var got []string
	for _, cur := range []string{"Hi", "Hi there", "Hi there", "Hi there!"} {
		if d := acc.Next(cur); d != "" {
			got = append(got, d)
		}
	}
	want := []string{"Hi", " there", "!"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("deltas = %q, want %q", got, want)
	}
	if acc.Sent() != "Hi there!" {
		t.Errorf("Sent() = %q", acc.Sent())
	}
}

func TestStreamer_TokenDiffsAreMonotonic(t *testing.T) {
	factory := &chunkFactory{chunks: []string{"Hi", " there", "!"}}
	p := NewPipeline(factory, newMemoryStub(), nil, PipelineOptions{})
	sink := &recordingSink{}

	result, err := NewStreamer(p, nil, nil).Stream(context.Background(), testSession("s1"), "Hello", sink)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := sink.tokens(); !reflect.DeepEqual(got, []string{"Hi", " there", "!"}) {
		t.Errorf("tokens = %q", got)
	}
	if got := sink.types(); got[len(got)-1] != EventDone {
		t.Errorf("last event = %s, want done", got[len(got)-1])
	}
	if strings.Join(sink.tokens(), "") != "Hi there!" {
		t.Error("concatenated tokens differ from final content")
	}
	if !result.Streamed {
		t.Error("result should be marked streamed")
	}
}

func TestStreamer_EndToEnd(t *testing.T) {
	model := &scriptedModel{stream: true, chunkSize: 1, responses: []*ModelResponse{{Content: "Hi!"}}}
	mem := newMemoryStub()
	p := newTestPipeline(t, model, mem)
	sink := &recordingSink{}

	result, err := NewStreamer(p, nil, nil).Stream(context.Background(), testSession("s1"), "Hello", sink)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := strings.Join(sink.tokens(), ""); got != "Hi!" {
		t.Errorf("streamed text = %q, want Hi!", got)
	}
	if result.Reply == nil || *result.Reply != "Hi!" {
		t.Errorf("Reply = %v", result.Reply)
	}
	saved, _ := mem.LoadMemory(context.Background(), "s1")
	if len(saved) != 2 || saved[1].Content != "Hi!" {
		t.Errorf("saved = %+v", saved)
	}
}

func TestStreamer_ZeroChunksFallsBackToInvoke(t *testing.T) {
	model := &scriptedModel{emptyStrm: true, responses: []*ModelResponse{{Content: "whole answer"}}}
	p := newTestPipeline(t, model, newMemoryStub())
	sink := &recordingSink{}

	if _, err := NewStreamer(p, nil, nil).Stream(context.Background(), testSession("s1"), "Hello", sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := sink.tokens(); !reflect.DeepEqual(got, []string{"whole answer"}) {
		t.Errorf("tokens = %q, want exactly one token", got)
	}
	if model.streamCalls.Load() != 1 || model.calls.Load() != 1 {
		t.Errorf("stream calls=%d invoke calls=%d", model.streamCalls.Load(), model.calls.Load())
	}
}

func TestStreamer_StreamErrorFallsBackToInvoke(t *testing.T) {
	model := &scriptedModel{streamErr: errors.New("streaming not supported"), responses: []*ModelResponse{{Content: "fallback"}}}
	p := newTestPipeline(t, model, newMemoryStub())
	sink := &recordingSink{}

	if _, err := NewStreamer(p, nil, nil).Stream(context.Background(), testSession("s1"), "Hello", sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := sink.types(); !reflect.DeepEqual(got, []EventType{EventToken, EventDone}) {
		t.Errorf("events = %v", got)
	}
}

func TestStreamer_CommandShortCircuit(t *testing.T) {
	dashboard := &stubTool{
		name: "dashboard",
		kind: ToolKindAction,
		result: &ToolResult{
			Confirmation: "Added widget.",
			Command:      &Command{Target: "dashboard", Action: "add_widget", Params: map[string]any{"name": "Sales"}},
		},
	}
	model := &scriptedModel{stream: true, responses: []*ModelResponse{{
		ToolCalls: []models.ToolCall{toolCall("dashboard", `{"action":"add_widget","name":"Sales"}`)},
	}}}
	p := newTestPipeline(t, model, newMemoryStub(), dashboard)
	sink := &recordingSink{}

	if _, err := NewStreamer(p, nil, nil).Stream(context.Background(), testSession("s1"), "add a widget", sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := sink.types(); !reflect.DeepEqual(got, []EventType{EventCommand, EventDone}) {
		t.Fatalf("events = %v, want [command done]", got)
	}
	cmd := sink.events[0].Command
	if cmd.Target != "dashboard" || cmd.Action != "add_widget" || cmd.Params["name"] != "Sales" {
		t.Errorf("command = %+v", cmd)
	}
}

func TestStreamer_ErrorEmitsSingleTerminal(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("API key not valid")}}
	p := newTestPipeline(t, model, newMemoryStub())
	sink := &recordingSink{}

	_, err := NewStreamer(p, nil, nil).Stream(context.Background(), testSession("s1"), "Hello", sink)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
	types := sink.types()
	if !reflect.DeepEqual(types, []EventType{EventError}) {
		t.Fatalf("events = %v, want [error]", types)
	}
	if sink.events[0].Message != "API key not valid" {
		t.Errorf("message = %q", sink.events[0].Message)
	}
}

func TestStreamer_ValidationErrorEvent(t *testing.T) {
	p := newTestPipeline(t, &scriptedModel{}, newMemoryStub())
	sink := &recordingSink{}

	_, err := NewStreamer(p, nil, nil).Stream(context.Background(), testSession("s1"), "", sink)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if len(sink.events) != 1 || sink.events[0].Type != EventError {
		t.Fatalf("events = %+v", sink.events)
	}
	if !strings.Contains(sink.events[0].Message, "message") {
		t.Errorf("message = %q", sink.events[0].Message)
	}
}

func TestStreamer_SinkFailureStopsTurn(t *testing.T) {
	model := &scriptedModel{stream: true, responses: []*ModelResponse{{Content: "Hi!"}}}
	mem := newMemoryStub()
	p := newTestPipeline(t, model, mem)
	sink := &recordingSink{err: errors.New("client went away")}

	_, err := NewStreamer(p, nil, nil).Stream(context.Background(), testSession("s1"), "Hello", sink)
	if err == nil {
		t.Fatal("expected error")
	}
	if model.calls.Load() != 1 {
		t.Errorf("model calls = %d, sink failure must not trigger invoke fallback", model.calls.Load())
	}
	if mem.saves.Load() != 0 {
		t.Error("aborted turn should not be saved")
	}
}

func TestStreamEvent_JSON(t *testing.T) {
	tests := []struct {
		event StreamEvent
		want  string
	}{
		{TokenEvent("Hi"), `{"type":"token","content":"Hi"}`},
		{CommandEvent(Command{Target: "dashboard", Action: "list_widgets"}), `{"type":"command","target":"dashboard","action":"list_widgets","params":{}}`},
		{DoneEvent(), `{"type":"done"}`},
		{ErrorEvent("boom"), `{"type":"error","message":"boom"}`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.event)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(data) != tt.want {
			t.Errorf("Marshal(%s) = %s, want %s", tt.event.Type, data, tt.want)
		}
	}

	var parsed StreamEvent
	if err := json.Unmarshal([]byte(`{"type":"command","target":"dashboard","action":"add_widget","params":{"id":"w1"}}`), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Command == nil || parsed.Command.Params["id"] != "w1" {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestPublicMessage(t *testing.T) {
	if got := PublicMessage(&LoopError{Phase: PhaseInvokeModel, Cause: errors.New("quota exceeded")}); got != "quota exceeded" {
		t.Errorf("PublicMessage(loop) = %q", got)
	}
	if got := PublicMessage(&ValidationError{Field: "message", Reason: "must not be empty"}); got != "validation failed: message must not be empty" {
		t.Errorf("PublicMessage(validation) = %q", got)
	}
}
