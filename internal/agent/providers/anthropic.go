package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/internal/agent/toolconv"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// AnthropicModel is a ModelHandle for the Anthropic Messages API.
//
// The system prompt is a request field rather than a message, and the
// conversation must alternate user and assistant turns.
type AnthropicModel struct {
	baseModel
	client anthropic.Client
	tools  []anthropic.ToolUnionParam
}

// anthropicErrorPayload is the JSON body of an API error.
type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// NewAnthropicModel creates an Anthropic handle bound to tools.
func NewAnthropicModel(cfg models.ProviderConfig, tools []agent.Tool, opts Options) (*AnthropicModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key is required", agent.ErrAuth)
	}

	converted, err := toolconv.ToAnthropicTools(tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if opts.HTTPClient != nil {
		requestOpts = append(requestOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &AnthropicModel{
		baseModel: baseModel{provider: models.ProviderAnthropic, model: cfg.Model, opts: opts.withDefaults()},
		client:    anthropic.NewClient(requestOpts...),
		tools:     converted,
	}, nil
}

// Invoke implements agent.ModelHandle.
func (m *AnthropicModel) Invoke(ctx context.Context, msgs []models.Message) (*agent.ModelResponse, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	msg, err := m.client.Messages.New(ctx, m.params(msgs))
	if err != nil {
		return nil, m.wrapError(err)
	}

	out := &agent.ModelResponse{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(block.Input),
			})
		}
	}
	return out, nil
}

// Stream implements agent.ModelHandle.
func (m *AnthropicModel) Stream(ctx context.Context, msgs []models.Message) (<-chan *agent.ModelChunk, error) {
	ctx, cancel := m.withTimeout(ctx)
	stream := m.client.Messages.NewStreaming(ctx, m.params(msgs))

	chunks := make(chan *agent.ModelChunk, chunkBuffer)
	go func() {
		defer cancel()
		defer close(chunks)
		defer stream.Close()
		m.processStream(ctx, stream, chunks)
	}()
	return chunks, nil
}

func (m *AnthropicModel) params(msgs []models.Message) anthropic.MessageNewParams {
	system, turns := foldMessages(msgs)

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		if t.assistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.text)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(m.model),
		Messages:    messages,
		MaxTokens:   int64(m.opts.MaxTokens),
		Temperature: anthropic.Float(float64(m.opts.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(m.tools) > 0 {
		params.Tools = m.tools
	}
	return params
}

func (m *AnthropicModel) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.ModelChunk) {
	var current *models.ToolCall
	var input strings.Builder

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				current = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				input.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !send(ctx, chunks, &agent.ModelChunk{Text: delta.Text}) {
					return
				}
			case "input_json_delta":
				input.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if current != nil {
				if input.Len() > 0 {
					current.Input = json.RawMessage(input.String())
				}
				if !send(ctx, chunks, &agent.ModelChunk{ToolCall: current}) {
					return
				}
				current = nil
			}

		case "message_stop":
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, chunks, &agent.ModelChunk{Err: m.wrapError(err)})
	}
}

func (m *AnthropicModel) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError(string(m.provider), m.model, err)
	}

	providerErr := &ProviderError{
		Provider: string(m.provider),
		Model:    m.model,
		Cause:    err,
		Reason:   FailoverUnknown,
		Message:  "anthropic request failed",
	}
	providerErr = providerErr.WithStatus(apiErr.StatusCode)
	requestID := apiErr.RequestID

	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				providerErr = providerErr.WithCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				requestID = payload.RequestID
			}
		}
	}
	if requestID != "" {
		providerErr = providerErr.WithRequestID(requestID)
	}
	return providerErr
}
