package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/internal/agent/toolconv"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// OpenAIModel is a ModelHandle for OpenAI chat completions.
//
// Key differences from the other adapters:
//   - The system prompt travels as the first message
//   - Tool calls stream incrementally by index and must be accumulated
//
// Thread Safety:
// OpenAIModel is safe for concurrent use. Each call creates an independent
// request and, for Stream, one goroutine.
type OpenAIModel struct {
	baseModel
	client *openai.Client
	tools  []openai.Tool
}

// NewOpenAIModel creates an OpenAI handle bound to tools.
func NewOpenAIModel(cfg models.ProviderConfig, tools []agent.Tool, opts Options) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai API key is required", agent.ErrAuth)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Organization != "" {
		clientCfg.OrgID = cfg.Organization
	}
	if opts.HTTPClient != nil {
		clientCfg.HTTPClient = opts.HTTPClient
	}

	return &OpenAIModel{
		baseModel: baseModel{provider: models.ProviderOpenAI, model: cfg.Model, opts: opts.withDefaults()},
		client:    openai.NewClientWithConfig(clientCfg),
		tools:     toolconv.ToOpenAITools(tools),
	}, nil
}

// Invoke implements agent.ModelHandle.
func (m *OpenAIModel) Invoke(ctx context.Context, msgs []models.Message) (*agent.ModelResponse, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	resp, err := m.client.CreateChatCompletion(ctx, m.request(msgs, false))
	if err != nil {
		return nil, m.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return &agent.ModelResponse{}, nil
	}

	msg := resp.Choices[0].Message
	out := &agent.ModelResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream implements agent.ModelHandle.
func (m *OpenAIModel) Stream(ctx context.Context, msgs []models.Message) (<-chan *agent.ModelChunk, error) {
	ctx, cancel := m.withTimeout(ctx)

	stream, err := m.client.CreateChatCompletionStream(ctx, m.request(msgs, true))
	if err != nil {
		cancel()
		return nil, m.wrapError(err)
	}

	chunks := make(chan *agent.ModelChunk, chunkBuffer)
	go func() {
		defer cancel()
		m.processStream(ctx, stream, chunks)
	}()
	return chunks, nil
}

func (m *OpenAIModel) request(msgs []models.Message, stream bool) openai.ChatCompletionRequest {
	system, turns := foldMessages(msgs)

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.assistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.text})
	}

	// go-openai omits a zero temperature from the request body.
	temperature := m.opts.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	req := openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    messages,
		MaxTokens:   m.opts.MaxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
	if len(m.tools) > 0 {
		req.Tools = m.tools
	}
	return req
}

func (m *OpenAIModel) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.ModelChunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	flush := func() bool {
		indexes := make([]int, 0, len(toolCalls))
		for idx := range toolCalls {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			tc := toolCalls[idx]
			if tc.Name == "" {
				continue
			}
			if !send(ctx, chunks, &agent.ModelChunk{ToolCall: tc}) {
				return false
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
		return true
	}

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flush()
			return
		}
		if err != nil {
			send(ctx, chunks, &agent.ModelChunk{Err: m.wrapError(err)})
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			if !send(ctx, chunks, &agent.ModelChunk{Text: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := toolCalls[index]
			if call == nil {
				call = &models.ToolCall{}
				toolCalls[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Input = append(call.Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flush() {
				return
			}
		}
	}
}

func (m *OpenAIModel) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	providerErr := NewProviderError(string(m.provider), m.model, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithMessage(apiErr.Message)
		if apiErr.HTTPStatusCode != 0 {
			providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		} else if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		providerErr = providerErr.WithStatus(reqErr.HTTPStatusCode)
	}
	return providerErr
}
