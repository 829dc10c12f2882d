package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// Pipeline is the conversation state machine:
//
//	Validate -> LoadMemory -> InvokeModel -> (ExecuteTool -> InvokeModel)* -> SaveMemory
//
// Action tools end the turn after their command is issued. Informational
// tools feed their result back to the model until it answers in text or the
// iteration bound is reached.
//
// Thread Safety:
// Pipeline is safe for concurrent use. Each call owns its message list; turns
// of the same session are serialized only when a SessionLocker is set.
type Pipeline struct {
	factory ModelFactory
	memory  MemoryBackend
	tools   *ToolRegistry
	opts    PipelineOptions
}

// NewPipeline creates a pipeline executor. tools may be nil.
func NewPipeline(factory ModelFactory, memory MemoryBackend, tools *ToolRegistry, opts PipelineOptions) *Pipeline {
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Pipeline{
		factory: factory,
		memory:  memory,
		tools:   tools,
		opts:    mergePipelineOptions(DefaultPipelineOptions(), opts),
	}
}

// Tools returns the tool registry bound to every model call.
func (p *Pipeline) Tools() *ToolRegistry {
	return p.tools
}

// Run executes a turn to completion.
func (p *Pipeline) Run(ctx context.Context, sc SessionContext, message string) (*TurnResult, error) {
	return p.run(ctx, sc, message, nil)
}

// RunStreaming executes a turn and reports model output to obs as it is
// produced. Each model call is streamed when the provider supports it and
// falls back to a single invoke otherwise.
func (p *Pipeline) RunStreaming(ctx context.Context, sc SessionContext, message string, obs Observer) (*TurnResult, error) {
	if obs == nil {
		return nil, errors.New("observer is required for streaming")
	}
	result, err := p.run(ctx, sc, message, obs)
	if result != nil {
		result.Streamed = true
	}
	return result, err
}

// turn is the evolving accumulator threaded through the stages.
type turn struct {
	sc        SessionContext
	msgs      []models.Message
	reply     *string
	command   *Command
	payloads  []json.RawMessage
	iteration int
	obs       Observer
	logger    *slog.Logger
}

func (p *Pipeline) run(ctx context.Context, sc SessionContext, message string, obs Observer) (result *TurnResult, err error) {
	start := time.Now()
	mode := "blocking"
	if obs != nil {
		mode = "stream"
	}

	ctx, span := p.opts.Tracer.TraceTurn(ctx, sc.SessionID, mode)
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			p.opts.Tracer.RecordError(span, err)
		}
		p.opts.Metrics.RecordTurn(mode, status, time.Since(start).Seconds())
		span.End()
	}()

	// Validate
	if err := ValidateTurn(sc, message, p.opts.MaxMessageLength); err != nil {
		return nil, err
	}

	t := &turn{
		sc:     sc,
		obs:    obs,
		logger: p.opts.Logger.With("session_id", sc.SessionID, "provider", string(sc.Provider.Provider), "model", sc.Provider.Model),
	}

	if p.opts.Locker != nil {
		if err := p.opts.Locker.Lock(ctx, sc.SessionID); err != nil {
			return nil, &LoopError{Phase: PhaseLoadMemory, Class: ClassUnknown, Message: "acquire session lock", Cause: err}
		}
		defer p.opts.Locker.Unlock(sc.SessionID)
	}

	// LoadMemory
	t.msgs = p.loadMemory(ctx, t)
	t.msgs = append(t.msgs, models.NewMessage(models.RoleUser, message))

	// InvokeModel / ExecuteTool loop
	if err := p.loop(ctx, t); err != nil {
		return nil, err
	}

	// SaveMemory
	persisted := models.Persistent(t.msgs)
	p.saveMemory(ctx, t, persisted)

	return &TurnResult{
		SessionID:    sc.SessionID,
		Reply:        t.reply,
		Messages:     persisted,
		Command:      t.command,
		ToolPayloads: t.payloads,
		Provider:     sc.Provider,
		Iterations:   t.iteration,
	}, nil
}

func (p *Pipeline) loadMemory(ctx context.Context, t *turn) []models.Message {
	ctx, span := p.opts.Tracer.TraceStage(ctx, string(PhaseLoadMemory), 0)
	defer span.End()

	history, err := p.memory.LoadMemory(ctx, t.sc.SessionID)
	if err != nil {
		memErr := &MemoryError{Op: "load", SessionID: t.sc.SessionID, Cause: err}
		p.opts.Tracer.RecordError(span, memErr)
		p.opts.Metrics.RecordError("memory", "load_failed")
		t.logger.WarnContext(ctx, "memory load failed, continuing without history", "error", memErr)
		return nil
	}
	t.logger.DebugContext(ctx, "memory loaded", "messages", len(history))
	return models.Persistent(history)
}

func (p *Pipeline) saveMemory(ctx context.Context, t *turn, msgs []models.Message) {
	ctx, span := p.opts.Tracer.TraceStage(ctx, string(PhaseSaveMemory), t.iteration)
	defer span.End()

	if err := p.memory.SaveMemory(ctx, t.sc.SessionID, msgs); err != nil {
		memErr := &MemoryError{Op: "save", SessionID: t.sc.SessionID, Cause: err}
		p.opts.Tracer.RecordError(span, memErr)
		p.opts.Metrics.RecordError("memory", "save_failed")
		t.logger.ErrorContext(ctx, "memory save failed", "error", memErr)
		return
	}
	t.logger.DebugContext(ctx, "memory saved", "messages", len(msgs))
}

func (p *Pipeline) loop(ctx context.Context, t *turn) error {
	tools := p.tools.Tools()

	for {
		t.iteration++
		resp, err := p.invokeModel(ctx, t, tools)
		if err != nil {
			return err
		}

		if resp.Content != "" {
			content := resp.Content
			t.reply = &content
		} else {
			t.reply = nil
		}

		call := resp.FirstToolCall()
		if call == nil {
			if resp.Content != "" {
				t.msgs = append(t.msgs, models.NewMessage(models.RoleAssistant, resp.Content))
			}
			return nil
		}
		if len(resp.ToolCalls) > 1 {
			t.logger.DebugContext(ctx, "ignoring additional tool calls", "count", len(resp.ToolCalls)-1)
		}
		if resp.Content != "" {
			t.msgs = append(t.msgs, models.NewMessage(models.RoleAssistant, resp.Content))
		}

		finished, err := p.executeTool(ctx, t, *call)
		if err != nil {
			return err
		}
		if finished {
			return nil
		}

		if t.iteration >= p.opts.MaxIterations {
			t.logger.WarnContext(ctx, "tool loop reached iteration limit, finalizing turn",
				"iterations", t.iteration,
				"error", ErrMaxIterations,
			)
			return nil
		}
	}
}

// invokeModel runs the InvokeModel stage, including the untooled retry for
// empty responses.
func (p *Pipeline) invokeModel(ctx context.Context, t *turn, tools []Tool) (*ModelResponse, error) {
	ctx, span := p.opts.Tracer.TraceStage(ctx, string(PhaseInvokeModel), t.iteration)
	defer span.End()

	input := withSystemPrompt(p.opts.SystemPrompt, t.msgs)

	resp, err := p.callModel(ctx, t, tools, input)
	if err != nil {
		p.opts.Tracer.RecordError(span, err)
		return nil, err
	}
	if !resp.Empty() || len(tools) == 0 {
		return resp, nil
	}

	t.logger.InfoContext(ctx, "model returned neither text nor tool call, retrying without tools")
	resp, err = p.callModel(ctx, t, nil, input)
	if err != nil {
		p.opts.Tracer.RecordError(span, err)
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) callModel(ctx context.Context, t *turn, tools []Tool, input []models.Message) (*ModelResponse, error) {
	cfg := t.sc.Provider
	handle, err := p.factory.CreateModel(cfg, tools)
	if err != nil {
		return nil, newModelError(t.iteration, err)
	}

	if t.obs != nil {
		if err := t.obs.OnModelCall(t.iteration); err != nil {
			return nil, err
		}
	}

	ctx, span := p.opts.Tracer.TraceLLMRequest(ctx, string(cfg.Provider), cfg.Model)
	defer span.End()
	start := time.Now()

	var resp *ModelResponse
	if t.obs == nil {
		resp, err = handle.Invoke(ctx, input)
	} else {
		resp, err = p.streamModel(ctx, t, handle, input)
	}

	status := "success"
	if err != nil {
		status = "error"
		p.opts.Tracer.RecordError(span, err)
	}
	p.opts.Metrics.RecordLLMRequest(string(cfg.Provider), cfg.Model, status, time.Since(start).Seconds())

	if err != nil {
		if isSinkError(err) {
			return nil, err
		}
		return nil, newModelError(t.iteration, err)
	}
	if resp == nil {
		resp = &ModelResponse{}
	}
	return resp, nil
}

// streamModel tries the provider stream first and falls back to a single
// invoke when the stream fails or yields no chunks.
func (p *Pipeline) streamModel(ctx context.Context, t *turn, handle ModelHandle, input []models.Message) (*ModelResponse, error) {
	resp, chunks, err := p.drainStream(ctx, t, handle, input)
	switch {
	case err == nil && chunks > 0:
		return resp, nil
	case isSinkError(err):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		t.logger.WarnContext(ctx, "model stream failed, falling back to invoke", "error", err)
	default:
		t.logger.DebugContext(ctx, "model stream produced no chunks, falling back to invoke")
	}

	resp, err = handle.Invoke(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := t.obs.OnContent(resp.Content); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) drainStream(ctx context.Context, t *turn, handle ModelHandle, input []models.Message) (*ModelResponse, int, error) {
	stream, err := handle.Stream(ctx, input)
	if err != nil {
		return nil, 0, err
	}

	resp := &ModelResponse{}
	count := 0
	for chunk := range stream {
		if chunk == nil {
			continue
		}
		if chunk.Err != nil {
			drain(stream)
			return nil, count, chunk.Err
		}
		count++
		if chunk.Text != "" {
			resp.Content += chunk.Text
			if err := t.obs.OnContent(resp.Content); err != nil {
				drain(stream)
				return nil, count, err
			}
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, count, err
	}
	return resp, count, nil
}

func drain(ch <-chan *ModelChunk) {
	go func() {
		for range ch {
		}
	}()
}

// executeTool runs the ExecuteTool stage. It reports whether the turn is
// finished.
func (p *Pipeline) executeTool(ctx context.Context, t *turn, call models.ToolCall) (bool, error) {
	ctx, span := p.opts.Tracer.TraceStage(ctx, string(PhaseExecuteTool), t.iteration)
	defer span.End()
	p.opts.Tracer.SetAttributes(span, "tool.name", call.Name)

	toolCtx, toolSpan := p.opts.Tracer.TraceToolExecution(ctx, call.Name)
	start := time.Now()
	result, err := p.tools.Execute(toolCtx, call)
	toolSpan.End()

	if err != nil {
		if !errors.Is(err, ErrToolNotFound) {
			return false, &LoopError{Phase: PhaseExecuteTool, Iteration: t.iteration, Class: ClassUnknown, Cause: err}
		}
		p.opts.Metrics.RecordToolExecution(call.Name, "not_found", time.Since(start).Seconds())
		t.logger.WarnContext(ctx, "model requested unknown tool", "tool", call.Name)
		confirmation := MissingToolConfirmation(call.Name)
		t.msgs = append(t.msgs,
			models.NewMessage(models.RoleAssistant, confirmation),
			models.Message{
				Role:      models.RoleTool,
				Content:   fmt.Sprintf("Tool %q does not exist. Answer without it.", call.Name),
				CreatedAt: time.Now().UTC(),
				Transient: true,
			},
		)
		return false, nil
	}

	status := "success"
	if result.IsError {
		status = "error"
		t.logger.WarnContext(ctx, "tool execution failed", "tool", call.Name, "confirmation", result.Confirmation)
	}
	p.opts.Metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())

	t.msgs = append(t.msgs, models.NewMessage(models.RoleAssistant, result.Confirmation))
	if !result.IsError && len(result.Payload) > 0 {
		t.payloads = append(t.payloads, result.Payload)
	}

	if result.Kind == ToolKindAction && !result.IsError {
		if result.Command != nil {
			t.command = result.Command
			if t.obs != nil {
				if err := t.obs.OnCommand(*result.Command); err != nil {
					return true, err
				}
			}
		}
		return true, nil
	}

	content := result.Content
	if content == "" {
		content = result.Confirmation
	}
	t.msgs = append(t.msgs, models.Message{
		Role:      models.RoleTool,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Transient: true,
	})
	return false, nil
}
