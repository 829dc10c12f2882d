package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/man-su-97/rag-chatbot/internal/observability"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// Runner executes conversation turns. Pipeline and Failover implement it.
type Runner interface {
	// Run executes a turn to completion.
	Run(ctx context.Context, sc SessionContext, message string) (*TurnResult, error)

	// RunStreaming executes a turn, reporting model output to obs as it
	// becomes available.
	RunStreaming(ctx context.Context, sc SessionContext, message string, obs Observer) (*TurnResult, error)
}

// Observer receives intermediate pipeline output. A returned error aborts
// the turn.
type Observer interface {
	// OnModelCall is called before every model call. Content reported
	// afterwards is cumulative for that call only.
	OnModelCall(iteration int) error

	// OnContent receives the cumulative text of the current model call.
	OnContent(content string) error

	// OnCommand receives the command of an executed action tool.
	OnCommand(cmd Command) error
}

// TurnResult is the outcome of a conversation turn.
type TurnResult struct {
	SessionID string           `json:"sessionId"`
	Reply     *string          `json:"reply"`
	Messages  []models.Message `json:"messages"`
	Command   *Command         `json:"command,omitempty"`
	Streamed  bool             `json:"streamed"`

	// ToolPayloads holds the structured output of the tools run this turn,
	// in call order. It is returned to the caller and never persisted.
	ToolPayloads []json.RawMessage `json:"toolPayloads,omitempty"`

	// Provider is the configuration that produced the reply.
	Provider models.ProviderConfig `json:"-"`

	// Iterations is the number of model calls made.
	Iterations int `json:"-"`
}

// Diff returns the suffix of cur that extends prev, or "" when cur is not
// longer than prev.
func Diff(prev, cur string) string {
	if len(cur) > len(prev) {
		return cur[len(prev):]
	}
	return ""
}

// Accumulator turns cumulative content into new-suffix deltas.
type Accumulator struct {
	last string
}

// Next records cur and returns the part not yet sent.
func (a *Accumulator) Next(cur string) string {
	delta := Diff(a.last, cur)
	if delta != "" {
		a.last = cur
	}
	return delta
}

// Sent returns everything reported so far.
func (a *Accumulator) Sent() string {
	return a.last
}

// Reset starts a new segment.
func (a *Accumulator) Reset() {
	a.last = ""
}

// EventType tags a StreamEvent.
type EventType string

const (
	EventToken   EventType = "token"
	EventCommand EventType = "command"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// StreamEvent is one client-visible event of a streamed turn.
type StreamEvent struct {
	Type    EventType
	Content string
	Command *Command
	Message string
}

// TokenEvent creates a token event.
func TokenEvent(content string) StreamEvent {
	return StreamEvent{Type: EventToken, Content: content}
}

// CommandEvent creates a command event.
func CommandEvent(cmd Command) StreamEvent {
	return StreamEvent{Type: EventCommand, Command: &cmd}
}

// DoneEvent creates the success terminator.
func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}

// ErrorEvent creates the failure terminator.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}

// Terminal reports whether the event ends a stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// MarshalJSON renders the wire shape of each event type.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventToken:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventCommand:
		cmd := Command{}
		if e.Command != nil {
			cmd = *e.Command
		}
		if cmd.Params == nil {
			cmd.Params = map[string]any{}
		}
		return json.Marshal(struct {
			Type   EventType      `json:"type"`
			Target string         `json:"target"`
			Action string         `json:"action"`
			Params map[string]any `json:"params"`
		}{e.Type, cmd.Target, cmd.Action, cmd.Params})
	case EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}

// UnmarshalJSON parses any event wire shape.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    EventType      `json:"type"`
		Content string         `json:"content"`
		Target  string         `json:"target"`
		Action  string         `json:"action"`
		Params  map[string]any `json:"params"`
		Message string         `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = StreamEvent{Type: raw.Type, Content: raw.Content, Message: raw.Message}
	if raw.Type == EventCommand {
		e.Command = &Command{Target: raw.Target, Action: raw.Action, Params: raw.Params}
	}
	return nil
}

// EventSink delivers stream events to a client.
type EventSink interface {
	Send(ctx context.Context, event StreamEvent) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event StreamEvent) error

// Send implements EventSink.
func (f EventSinkFunc) Send(ctx context.Context, event StreamEvent) error {
	return f(ctx, event)
}

// Streamer converts a streamed turn into an ordered event sequence: zero or
// more token and command events followed by exactly one done or error event.
type Streamer struct {
	runner  Runner
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewStreamer creates a streamer over runner.
func NewStreamer(runner Runner, logger *slog.Logger, metrics *observability.Metrics) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{runner: runner, logger: logger, metrics: metrics}
}

// Stream runs a turn and writes its events to sink. On failure the error
// event is sent before the error is returned.
func (s *Streamer) Stream(ctx context.Context, sc SessionContext, message string, sink EventSink) (*TurnResult, error) {
	obs := &sinkObserver{ctx: ctx, sink: sink, metrics: s.metrics}

	result, err := s.runner.RunStreaming(ctx, sc, message, obs)
	if err != nil {
		s.logger.WarnContext(ctx, "stream turn failed",
			"session_id", sc.SessionID,
			"error", err,
		)
		if sendErr := obs.send(ErrorEvent(PublicMessage(err))); sendErr != nil {
			s.logger.DebugContext(ctx, "failed to send error event", "error", sendErr)
		}
		return nil, err
	}

	if err := obs.send(DoneEvent()); err != nil {
		return result, err
	}
	return result, nil
}

// PublicMessage returns the message shown to clients for a turn failure.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Error()
	}
	var loopErr *LoopError
	if errors.As(err, &loopErr) && loopErr.Cause != nil {
		return loopErr.Cause.Error()
	}
	return err.Error()
}

type sinkObserver struct {
	ctx     context.Context
	sink    EventSink
	acc     Accumulator
	metrics *observability.Metrics
	done    bool
}

func (o *sinkObserver) OnModelCall(int) error {
	o.acc.Reset()
	return nil
}

func (o *sinkObserver) OnContent(content string) error {
	delta := o.acc.Next(content)
	if delta == "" {
		return nil
	}
	return o.send(TokenEvent(delta))
}

func (o *sinkObserver) OnCommand(cmd Command) error {
	return o.send(CommandEvent(cmd))
}

func (o *sinkObserver) send(event StreamEvent) error {
	if o.done {
		return nil
	}
	if event.Terminal() {
		o.done = true
	}
	if err := o.sink.Send(o.ctx, event); err != nil {
		return &sinkError{err: err}
	}
	o.metrics.RecordStreamEvent(string(event.Type))
	return nil
}

// sinkError marks a client delivery failure so the pipeline does not treat
// it as a model failure.
type sinkError struct {
	err error
}

func (e *sinkError) Error() string { return "stream sink: " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

func isSinkError(err error) bool {
	var se *sinkError
	return errors.As(err, &se)
}
