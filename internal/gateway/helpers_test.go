package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/internal/commands"
	"github.com/man-su-97/rag-chatbot/internal/observability"
	"github.com/man-su-97/rag-chatbot/internal/sessions"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// stubRunner replays scripted output through the observer.
type stubRunner struct {
	mu       sync.Mutex
	contents []string
	command  *agent.Command
	err      error
	panicMsg string
	block    bool
	calls    []agent.SessionContext
}

func (r *stubRunner) record(sc agent.SessionContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sc)
}

func (r *stubRunner) lastCall() agent.SessionContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return agent.SessionContext{}
	}
	return r.calls[len(r.calls)-1]
}

func (r *stubRunner) Run(ctx context.Context, sc agent.SessionContext, message string) (*agent.TurnResult, error) {
	r.record(sc)
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	if r.err != nil {
		return nil, r.err
	}
	reply := "Hi!"
	if len(r.contents) > 0 {
		reply = r.contents[len(r.contents)-1]
	}
	return &agent.TurnResult{
		SessionID: sc.SessionID,
		Reply:     &reply,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: message},
			{Role: models.RoleAssistant, Content: reply},
		},
	}, nil
}

func (r *stubRunner) RunStreaming(ctx context.Context, sc agent.SessionContext, message string, obs agent.Observer) (*agent.TurnResult, error) {
	r.record(sc)
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := obs.OnModelCall(0); err != nil {
		return nil, err
	}
	for _, c := range r.contents {
		if err := obs.OnContent(c); err != nil {
			return nil, err
		}
	}
	if r.command != nil {
		if err := obs.OnCommand(*r.command); err != nil {
			return nil, err
		}
	}
	return &agent.TurnResult{SessionID: sc.SessionID, Streamed: true}, nil
}

type testEnv struct {
	server  *Server
	runner  *stubRunner
	memory  *sessions.MemoryStore
	configs *sessions.ConfigStore
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T, runner *stubRunner, withInterpreter bool) *testEnv {
	t.Helper()
	if runner == nil {
		runner = &stubRunner{}
	}
	memory := sessions.NewMemoryStore()
	configs := sessions.NewConfigStore(sessions.ProviderDefaults{
		Default: models.ProviderConfig{Provider: models.ProviderGoogle, Model: "gemini-1.5-flash"},
		Credentials: map[models.Provider]models.ProviderConfig{
			models.ProviderGoogle: {APIKey: "g-key"},
			models.ProviderOpenAI: {APIKey: "sk-key"},
		},
		AllowedModels: map[models.Provider][]string{
			models.ProviderGoogle:    {"gemini-1.5-flash"},
			models.ProviderOpenAI:    {"gpt-4o"},
			models.ProviderAnthropic: {"claude-3-haiku-20240307"},
		},
	})
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	deps := Deps{
		Runner:  runner,
		History: memory,
		Configs: configs,
		Metrics: metrics,
	}
	if withInterpreter {
		deps.Interpreter = commands.NewInterpreter(commands.Config{})
	}
	srv, err := New(Config{
		CORSOrigin:     "http://localhost:3000",
		MetricsPath:    "/metrics",
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
	}, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{server: srv, runner: runner, memory: memory, configs: configs, metrics: metrics}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

var errBoom = errors.New("boom")
