package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

func newTestPipeline(t *testing.T, model *scriptedModel, mem *memoryStub, tools ...Tool) *Pipeline {
	t.Helper()
	registry := NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register(%s): %v", tool.Name(), err)
		}
	}
	return NewPipeline(newStubFactory(model), mem, registry, PipelineOptions{})
}

func TestPipeline_Run_PlainReply(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{{Content: "Hi!"}}}
	mem := newMemoryStub()
	p := newTestPipeline(t, model, mem)

	result, err := p.Run(context.Background(), testSession("s1"), "Hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reply == nil || *result.Reply != "Hi!" {
		t.Fatalf("Reply = %v, want Hi!", result.Reply)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(result.Messages))
	}
	if result.Messages[0].Role != models.RoleUser || result.Messages[0].Content != "Hello" {
		t.Errorf("Messages[0] = %+v", result.Messages[0])
	}
	if result.Messages[1].Role != models.RoleAssistant || result.Messages[1].Content != "Hi!" {
		t.Errorf("Messages[1] = %+v", result.Messages[1])
	}
	if mem.saves.Load() != 1 {
		t.Errorf("saves = %d, want 1", mem.saves.Load())
	}
	if result.Streamed {
		t.Error("blocking run should not be marked streamed")
	}
}

func TestPipeline_Run_SystemPromptNotPersisted(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{{Content: "Hi!"}}}
	mem := newMemoryStub()
	p := newTestPipeline(t, model, mem)

	if _, err := p.Run(context.Background(), testSession("s1"), "Hello"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := model.inputs[0][0]; got.Role != models.RoleSystem {
		t.Fatalf("first model input role = %s, want system", got.Role)
	}
	for _, msg := range mem.lastSave {
		if msg.Role == models.RoleSystem {
			t.Fatal("system prompt was persisted")
		}
	}
}

func TestPipeline_Run_RoundTrip(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{{Content: "Hi!"}, {Content: "Still here."}}}
	mem := newMemoryStub()
	p := newTestPipeline(t, model, mem)
	ctx := context.Background()

	if _, err := p.Run(ctx, testSession("s1"), "Hello"); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	result, err := p.Run(ctx, testSession("s1"), "Are you there?")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if len(result.Messages) != 4 {
		t.Fatalf("len(Messages) = %d, want 4", len(result.Messages))
	}
	saved, _ := mem.LoadMemory(ctx, "s1")
	if len(saved) != 4 || saved[2].Content != "Are you there?" || saved[3].Content != "Still here." {
		t.Errorf("saved history = %+v", saved)
	}

	// The second model call sees the first exchange.
	second := model.inputs[1]
	var contents []string
	for _, m := range second {
		if m.Role != models.RoleSystem {
			contents = append(contents, m.Content)
		}
	}
	if strings.Join(contents, "|") != "Hello|Hi!|Are you there?" {
		t.Errorf("second model input = %v", contents)
	}
}

func TestPipeline_Run_ValidationShortCircuits(t *testing.T) {
	tests := []struct {
		name    string
		sc      SessionContext
		message string
		field   string
	}{
		{"empty session", testSession("  "), "Hello", "sessionId"},
		{"empty message", testSession("s1"), "   ", "message"},
		{"too long", testSession("s1"), strings.Repeat("a", DefaultMaxMessageLength+1), "message"},
		{"missing key", testSession("s1").WithProvider(models.ProviderConfig{Provider: models.ProviderGoogle, Model: "gemini-1.5-flash"}), "Hello", "apiKey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &scriptedModel{}
			mem := newMemoryStub()
			factory := newStubFactory(model)
			p := NewPipeline(factory, mem, nil, PipelineOptions{})

			_, err := p.Run(context.Background(), tt.sc, tt.message)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
			if !errors.Is(err, ErrValidation) {
				t.Error("error should match ErrValidation")
			}
			if mem.loads.Load() != 0 || mem.saves.Load() != 0 {
				t.Error("memory backend should not be called")
			}
			if len(factory.created) != 0 {
				t.Error("model factory should not be called")
			}
		})
	}
}

func TestPipeline_Run_MessageLengthCountsCharacters(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{{Content: "ok"}}}
	p := newTestPipeline(t, model, newMemoryStub())

	// 5000 multi-byte characters are within the limit.
	msg := strings.Repeat("é", DefaultMaxMessageLength)
	if _, err := p.Run(context.Background(), testSession("s1"), msg); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestPipeline_Run_ActionToolExcludesPayload(t *testing.T) {
	payload := `{"tool":"dashboard","action":"add_widget","params":{"name":"Sales","secret_marker":"xyz"}}`
	dashboard := &stubTool{
		name: "dashboard",
		kind: ToolKindAction,
		result: &ToolResult{
			Confirmation: "Added widget Sales.",
			Payload:      []byte(payload),
			Command:      &Command{Target: "dashboard", Action: "add_widget", Params: map[string]any{"name": "Sales"}},
		},
	}
	model := &scriptedModel{responses: []*ModelResponse{{
		ToolCalls: []models.ToolCall{toolCall("dashboard", `{"action":"add_widget","name":"Sales"}`)},
	}}}
	mem := newMemoryStub()
	p := newTestPipeline(t, model, mem, dashboard)

	result, err := p.Run(context.Background(), testSession("s1"), "add a sales widget")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if model.calls.Load() != 1 {
		t.Errorf("model calls = %d, want 1 (action tools end the turn)", model.calls.Load())
	}
	if result.Reply != nil {
		t.Errorf("Reply = %q, want nil", *result.Reply)
	}
	if result.Command == nil || result.Command.Action != "add_widget" {
		t.Fatalf("Command = %+v", result.Command)
	}
	if len(result.ToolPayloads) != 1 || string(result.ToolPayloads[0]) != payload {
		t.Errorf("ToolPayloads = %s, want the dashboard payload", result.ToolPayloads)
	}

	saved := mem.lastSave
	if len(saved) != 2 {
		t.Fatalf("saved = %+v, want user + confirmation", saved)
	}
	if saved[1].Role != models.RoleAssistant || saved[1].Content != "Added widget Sales." {
		t.Errorf("confirmation = %+v", saved[1])
	}
	for _, msg := range saved {
		if strings.Contains(msg.Content, "secret_marker") || strings.Contains(msg.Content, payload) {
			t.Fatalf("payload leaked into history: %q", msg.Content)
		}
	}
}

func TestPipeline_Run_InformationalToolLoopsBack(t *testing.T) {
	search := &stubTool{
		name: "web-search",
		result: &ToolResult{
			Confirmation: `Searched the web for "go".`,
			Content:      "Go is a programming language.",
			Payload:      []byte(`{"tool":"web-search"}`),
		},
	}
	model := &scriptedModel{responses: []*ModelResponse{
		{ToolCalls: []models.ToolCall{toolCall("web-search", `{"query":"go"}`)}},
		{Content: "Go is a language from Google."},
	}}
	mem := newMemoryStub()
	p := newTestPipeline(t, model, mem, search)

	result, err := p.Run(context.Background(), testSession("s1"), "what is go?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if model.calls.Load() != 2 {
		t.Fatalf("model calls = %d, want 2", model.calls.Load())
	}
	if result.Reply == nil || *result.Reply != "Go is a language from Google." {
		t.Errorf("Reply = %v", result.Reply)
	}
	if len(result.ToolPayloads) != 1 || string(result.ToolPayloads[0]) != `{"tool":"web-search"}` {
		t.Errorf("ToolPayloads = %s, want the search payload", result.ToolPayloads)
	}

	// The second call sees the search result as a tool message.
	var sawTool bool
	for _, m := range model.inputs[1] {
		if m.Role == models.RoleTool && m.Content == "Go is a programming language." {
			sawTool = true
		}
	}
	if !sawTool {
		t.Error("search result not fed back to the model")
	}

	var roles []string
	for _, m := range mem.lastSave {
		roles = append(roles, string(m.Role))
		if m.Role == models.RoleTool {
			t.Errorf("tool result persisted: %q", m.Content)
		}
	}
	if strings.Join(roles, ",") != "user,assistant,assistant" {
		t.Errorf("persisted roles = %v", roles)
	}
}

func TestPipeline_Run_UnknownToolDoesNotFail(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{
		{ToolCalls: []models.ToolCall{toolCall("calendar", `{}`)}},
		{Content: "I can't do that."},
	}}
	mem := newMemoryStub()
	p := newTestPipeline(t, model, mem)

	result, err := p.Run(context.Background(), testSession("s1"), "book a meeting")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Messages[1].Content != MissingToolConfirmation("calendar") {
		t.Errorf("Messages[1] = %q", result.Messages[1].Content)
	}
	if result.Reply == nil || *result.Reply != "I can't do that." {
		t.Errorf("Reply = %v", result.Reply)
	}
}

func TestPipeline_Run_ToolFailureBecomesConfirmation(t *testing.T) {
	search := &stubTool{name: "web-search", err: errors.New("connection refused")}
	model := &scriptedModel{responses: []*ModelResponse{
		{ToolCalls: []models.ToolCall{toolCall("web-search", `{"query":"x"}`)}},
		{Content: "Search is unavailable."},
	}}
	p := newTestPipeline(t, model, newMemoryStub(), search)

	result, err := p.Run(context.Background(), testSession("s1"), "search x")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(result.Messages[1].Content, "connection refused") {
		t.Errorf("confirmation = %q, want failure description", result.Messages[1].Content)
	}
}

func TestPipeline_Run_OnlyFirstToolCallHonored(t *testing.T) {
	first := &stubTool{name: "first", kind: ToolKindAction, result: &ToolResult{Confirmation: "first done"}}
	second := &stubTool{name: "second", kind: ToolKindAction}
	model := &scriptedModel{responses: []*ModelResponse{{
		ToolCalls: []models.ToolCall{toolCall("first", `{}`), toolCall("second", `{}`)},
	}}}
	p := newTestPipeline(t, model, newMemoryStub(), first, second)

	if _, err := p.Run(context.Background(), testSession("s1"), "do both"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.calls.Load() != 1 || second.calls.Load() != 0 {
		t.Errorf("calls first=%d second=%d, want 1 and 0", first.calls.Load(), second.calls.Load())
	}
}

func TestPipeline_Run_MaxIterations(t *testing.T) {
	search := &stubTool{name: "web-search", result: &ToolResult{Confirmation: "searched", Content: "nothing"}}
	loop := make([]*ModelResponse, 10)
	for i := range loop {
		loop[i] = &ModelResponse{ToolCalls: []models.ToolCall{toolCall("web-search", `{"query":"again"}`)}}
	}
	model := &scriptedModel{responses: loop}
	mem := newMemoryStub()
	p := NewPipeline(newStubFactory(model), mem, nil, PipelineOptions{MaxIterations: 3})
	if err := p.Tools().Register(search); err != nil {
		t.Fatal(err)
	}

	result, err := p.Run(context.Background(), testSession("s1"), "loop forever")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if model.calls.Load() != 3 {
		t.Errorf("model calls = %d, want 3", model.calls.Load())
	}
	if result.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", result.Iterations)
	}
	if result.Reply != nil {
		t.Errorf("Reply = %q, want nil", *result.Reply)
	}
	if mem.saves.Load() != 1 {
		t.Error("history should still be saved")
	}
}

func TestPipeline_Run_EmptyResponseRetriesWithoutTools(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{{}, {Content: "plain answer"}}}
	factory := newStubFactory(model)
	registry := NewToolRegistry()
	if err := registry.Register(&stubTool{name: "web-search"}); err != nil {
		t.Fatal(err)
	}
	p := NewPipeline(factory, newMemoryStub(), registry, PipelineOptions{})

	result, err := p.Run(context.Background(), testSession("s1"), "hi")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reply == nil || *result.Reply != "plain answer" {
		t.Fatalf("Reply = %v", result.Reply)
	}
	if len(factory.tools) != 2 || factory.tools[0] != 1 || factory.tools[1] != 0 {
		t.Errorf("tools bound per call = %v, want [1 0]", factory.tools)
	}
}

func TestPipeline_Run_EmptyResponseYieldsNilReply(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{{}, {}}}
	mem := newMemoryStub()
	p := newTestPipeline(t, model, mem)

	result, err := p.Run(context.Background(), testSession("s1"), "hi")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reply != nil {
		t.Errorf("Reply = %q, want nil", *result.Reply)
	}
	if len(result.Messages) != 1 {
		t.Errorf("Messages = %+v, want only the user message", result.Messages)
	}
}

func TestPipeline_Run_MemoryLoadFailureDegrades(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{{Content: "Hi!"}}}
	mem := newMemoryStub()
	mem.loadErr = errors.New("connection reset")
	p := newTestPipeline(t, model, mem)

	result, err := p.Run(context.Background(), testSession("s1"), "Hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Messages) != 2 {
		t.Errorf("Messages = %+v, want fresh history", result.Messages)
	}
}

func TestPipeline_Run_MemorySaveFailureIsSwallowed(t *testing.T) {
	model := &scriptedModel{responses: []*ModelResponse{{Content: "Hi!"}}}
	mem := newMemoryStub()
	mem.saveErr = errors.New("disk full")
	p := newTestPipeline(t, model, mem)

	result, err := p.Run(context.Background(), testSession("s1"), "Hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Reply == nil || *result.Reply != "Hi!" {
		t.Errorf("Reply = %v", result.Reply)
	}
}

func TestPipeline_Run_ModelErrorClassified(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"rate limit", errRateLimited, ErrProviderTransient},
		{"auth", errors.New("API key not valid. Please pass a valid API key."), ErrAuth},
		{"invalid", errors.New("model gpt-9 is not allowed"), ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &scriptedModel{errs: []error{tt.err}}
			mem := newMemoryStub()
			p := newTestPipeline(t, model, mem)

			_, err := p.Run(context.Background(), testSession("s1"), "Hello")
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("error = %v, want %v", err, tt.sentinel)
			}
			var loopErr *LoopError
			if !errors.As(err, &loopErr) || loopErr.Phase != PhaseInvokeModel {
				t.Errorf("error = %#v, want LoopError at invoke_model", err)
			}
			if mem.saves.Load() != 0 {
				t.Error("failed turn should not be saved")
			}
		})
	}
}

func TestPipeline_Run_UnsupportedProvider(t *testing.T) {
	p := newTestPipeline(t, &scriptedModel{}, newMemoryStub())
	sc := testSession("s1").WithProvider(models.ProviderConfig{Provider: "cohere", Model: "command", APIKey: "k"})

	_, err := p.Run(context.Background(), sc, "Hello")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("error = %v, want ErrInvalidRequest", err)
	}
}

type countingLocker struct {
	locks, unlocks int
	err            error
}

func (l *countingLocker) Lock(context.Context, string) error {
	if l.err != nil {
		return l.err
	}
	l.locks++
	return nil
}

func (l *countingLocker) Unlock(string) { l.unlocks++ }

func TestPipeline_Run_Locker(t *testing.T) {
	locker := &countingLocker{}
	model := &scriptedModel{responses: []*ModelResponse{{Content: "Hi!"}}}
	p := NewPipeline(newStubFactory(model), newMemoryStub(), nil, PipelineOptions{Locker: locker})

	if _, err := p.Run(context.Background(), testSession("s1"), "Hello"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if locker.locks != 1 || locker.unlocks != 1 {
		t.Errorf("locks=%d unlocks=%d, want 1/1", locker.locks, locker.unlocks)
	}

	lockErr := errors.New("lock wait timed out")
	locker.err = lockErr
	_, err := p.Run(context.Background(), testSession("s1"), "Hello")
	if !errors.Is(err, lockErr) {
		t.Fatalf("error = %v, want lock error", err)
	}
}
