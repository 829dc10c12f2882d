package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// scriptedModel replays a fixed list of responses, one per call.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*ModelResponse
	errs      []error
	stream    bool // emit responses as chunked streams
	chunkSize int
	streamErr error // returned by Stream instead of a channel
	emptyStrm bool  // Stream returns a closed channel

	calls       atomic.Int32
	streamCalls atomic.Int32
	inputs      [][]models.Message
	toolsBound  []int
}

func (m *scriptedModel) next(input []models.Message) (*ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := int(m.calls.Add(1)) - 1
	m.inputs = append(m.inputs, append([]models.Message(nil), input...))
	var err error
	if idx < len(m.errs) {
		err = m.errs[idx]
	}
	if err != nil {
		return nil, err
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return &ModelResponse{Content: "done"}, nil
}

type scriptedHandle struct {
	model *scriptedModel
}

func (h *scriptedHandle) Invoke(_ context.Context, msgs []models.Message) (*ModelResponse, error) {
	return h.model.next(msgs)
}

func (h *scriptedHandle) Stream(ctx context.Context, msgs []models.Message) (<-chan *ModelChunk, error) {
	m := h.model
	m.streamCalls.Add(1)
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	ch := make(chan *ModelChunk, 64)
	if m.emptyStrm || !m.stream {
		close(ch)
		return ch, nil
	}
	resp, err := m.next(msgs)
	go func() {
		defer close(ch)
		if err != nil {
			ch <- &ModelChunk{Err: err}
			return
		}
		size := m.chunkSize
		if size <= 0 {
			size = len(resp.Content)
		}
		for text := resp.Content; text != ""; {
			n := min(size, len(text))
			select {
			case ch <- &ModelChunk{Text: text[:n]}:
			case <-ctx.Done():
				return
			}
			text = text[n:]
		}
		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			ch <- &ModelChunk{ToolCall: &call}
		}
	}()
	return ch, nil
}

// stubFactory hands out handles per provider.
type stubFactory struct {
	models map[models.Provider]*scriptedModel
	err    error

	mu      sync.Mutex
	created []models.ProviderConfig
	tools   []int
}

func newStubFactory(model *scriptedModel) *stubFactory {
	return &stubFactory{models: map[models.Provider]*scriptedModel{models.ProviderGoogle: model}}
}

func (f *stubFactory) CreateModel(cfg models.ProviderConfig, tools []Tool) (ModelHandle, error) {
	f.mu.Lock()
	f.created = append(f.created, cfg)
	f.tools = append(f.tools, len(tools))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.models[cfg.Provider]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	return &scriptedHandle{model: m}, nil
}

// memoryStub is an in-memory MemoryBackend with call counters.
type memoryStub struct {
	mu       sync.Mutex
	data     map[string][]models.Message
	loadErr  error
	saveErr  error
	loads    atomic.Int32
	saves    atomic.Int32
	lastSave []models.Message
}

func newMemoryStub() *memoryStub {
	return &memoryStub{data: map[string][]models.Message{}}
}

func (m *memoryStub) LoadMemory(_ context.Context, sessionID string) ([]models.Message, error) {
	m.loads.Add(1)
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.data[sessionID]...), nil
}

func (m *memoryStub) SaveMemory(_ context.Context, sessionID string, msgs []models.Message) error {
	m.saves.Add(1)
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sessionID] = append([]models.Message(nil), msgs...)
	m.lastSave = m.data[sessionID]
	return nil
}

// stubTool is a configurable Tool.
type stubTool struct {
	name   string
	kind   ToolKind
	schema string
	result *ToolResult
	err    error
	panics bool
	calls  atomic.Int32
	last   json.RawMessage
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub tool " + t.name }
func (t *stubTool) Kind() ToolKind {
	if t.kind == "" {
		return ToolKindInformational
	}
	return t.kind
}

func (t *stubTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(t.schema)
}

func (t *stubTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.calls.Add(1)
	t.last = params
	if t.panics {
		panic("boom")
	}
	if t.err != nil {
		return nil, t.err
	}
	if t.result == nil {
		return &ToolResult{Confirmation: "ok"}, nil
	}
	copied := *t.result
	return &copied, nil
}

// recordingSink collects stream events.
type recordingSink struct {
	mu     sync.Mutex
	events []StreamEvent
	err    error
}

func (s *recordingSink) Send(_ context.Context, event StreamEvent) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func (s *recordingSink) tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Type == EventToken {
			out = append(out, e.Content)
		}
	}
	return out
}

func testSession(id string) SessionContext {
	return NewSessionContext(id, models.ProviderConfig{
		Provider: models.ProviderGoogle,
		Model:    "gemini-1.5-flash",
		APIKey:   "test-key",
	})
}

func toolCall(name, input string) models.ToolCall {
	return models.ToolCall{Name: name, Input: json.RawMessage(input)}
}

var errRateLimited = errors.New("googleapi: Error 429: Resource has been exhausted (e.g. check quota)")
