// Package commands turns a natural-language widget request into a structured
// frontend command without running the chat pipeline.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/man-su-97/rag-chatbot/internal/observability"
)

// TypeAddWidget is the only command type the interpreter produces.
const TypeAddWidget = "ADD_WIDGET"

// DefaultTimeout bounds the structured-output model call.
const DefaultTimeout = 3 * time.Second

// ChartTypes are the chart types a widget command may carry.
var ChartTypes = []string{"line", "bar", "pie", "table"}

// ErrUninterpretable is returned when neither the model nor the fallback
// parser understood the message.
var ErrUninterpretable = errors.New("unable to interpret command")

var addWidgetPattern = regexp.MustCompile(`(?i)add(?: a)? widget(?: called)? "([^"]+)" with(?: a)? (line|bar|pie|table) chart`)

// Command is a structured frontend command.
type Command struct {
	Type    string           `json:"type"`
	Payload AddWidgetPayload `json:"payload"`
}

// AddWidgetPayload describes the widget to add.
type AddWidgetPayload struct {
	WidgetID  string `json:"widgetId"`
	ChartType string `json:"chartType"`
}

// Validate checks the command shape.
func (c *Command) Validate() error {
	if c == nil {
		return errors.New("command is empty")
	}
	if c.Type != TypeAddWidget {
		return fmt.Errorf("unsupported command type %q", c.Type)
	}
	if strings.TrimSpace(c.Payload.WidgetID) == "" {
		return errors.New("widgetId is required")
	}
	for _, ct := range ChartTypes {
		if c.Payload.ChartType == ct {
			return nil
		}
	}
	return fmt.Errorf("unsupported chart type %q", c.Payload.ChartType)
}

// Parser interprets a message into a command.
type Parser interface {
	Parse(ctx context.Context, message string) (*Command, error)
}

// Config configures an Interpreter.
type Config struct {
	// Model is the structured-output parser tried first. Nil skips it.
	Model Parser

	// Timeout bounds the model call.
	Timeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Interpreter tries the model parser under a timeout and falls back to a
// deterministic pattern.
type Interpreter struct {
	model   Parser
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewInterpreter creates an Interpreter.
func NewInterpreter(cfg Config) *Interpreter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "commands"),
		metrics: cfg.Metrics,
	}
}

// Interpret returns the command for message, or an error wrapping
// ErrUninterpretable.
func (i *Interpreter) Interpret(ctx context.Context, message string) (*Command, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrUninterpretable)
	}

	if i.model != nil {
		cmd, err := i.interpretWithModel(ctx, message)
		if err == nil {
			i.logger.Debug("interpreted command with model", "type", cmd.Type)
			return cmd, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		i.logger.Warn("model interpretation failed, using fallback parser", "error", err)
		i.metrics.RecordError("commands", "model_failed")
	}

	cmd, ok := ParseFallback(message)
	if !ok {
		return nil, fmt.Errorf("%w: no widget command found", ErrUninterpretable)
	}
	return cmd, nil
}

func (i *Interpreter) interpretWithModel(ctx context.Context, message string) (*Command, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd, err := i.model.Parse(ctx, message)
	if err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model command: %w", err)
	}
	return cmd, nil
}

// ParseFallback matches the deterministic add-widget phrasing, for example
// `add a widget called "sales" with a bar chart`.
func ParseFallback(message string) (*Command, bool) {
	m := addWidgetPattern.FindStringSubmatch(message)
	if len(m) != 3 {
		return nil, false
	}
	return &Command{
		Type: TypeAddWidget,
		Payload: AddWidgetPayload{
			WidgetID:  m[1],
			ChartType: strings.ToLower(m[2]),
		},
	}, true
}
