package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/internal/agent/toolconv"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// GoogleModel is a ModelHandle for Gemini via the Gemini API backend.
//
// Gemini returns function call arguments as a decoded map and assigns no
// call ids, so ids are generated locally.
type GoogleModel struct {
	baseModel
	client *genai.Client
	tools  []*genai.Tool
}

var toolCallSeq atomic.Uint64

// NewGoogleModel creates a Gemini handle bound to tools.
func NewGoogleModel(cfg models.ProviderConfig, tools []agent.Tool, opts Options) (*GoogleModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: google API key is required", agent.ErrAuth)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if opts.HTTPClient != nil {
		clientCfg.HTTPClient = opts.HTTPClient
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleModel{
		baseModel: baseModel{provider: models.ProviderGoogle, model: cfg.Model, opts: opts.withDefaults()},
		client:    client,
		tools:     toolconv.ToGeminiTools(tools),
	}, nil
}

// Invoke implements agent.ModelHandle.
func (m *GoogleModel) Invoke(ctx context.Context, msgs []models.Message) (*agent.ModelResponse, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	contents, config := m.request(msgs)
	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, config)
	if err != nil {
		return nil, m.wrapError(err)
	}

	out := &agent.ModelResponse{}
	for _, chunk := range responseChunks(resp) {
		out.Content += chunk.Text
		if chunk.ToolCall != nil {
			out.ToolCalls = append(out.ToolCalls, *chunk.ToolCall)
		}
	}
	return out, nil
}

// Stream implements agent.ModelHandle.
func (m *GoogleModel) Stream(ctx context.Context, msgs []models.Message) (<-chan *agent.ModelChunk, error) {
	ctx, cancel := m.withTimeout(ctx)
	contents, config := m.request(msgs)

	chunks := make(chan *agent.ModelChunk, chunkBuffer)
	go func() {
		defer cancel()
		defer close(chunks)
		m.processStream(ctx, m.client.Models.GenerateContentStream(ctx, m.model, contents, config), chunks)
	}()
	return chunks, nil
}

func (m *GoogleModel) processStream(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *agent.ModelChunk) {
	for resp, err := range seq {
		if err != nil {
			send(ctx, chunks, &agent.ModelChunk{Err: m.wrapError(err)})
			return
		}
		for _, chunk := range responseChunks(resp) {
			if !send(ctx, chunks, chunk) {
				return
			}
		}
	}
}

func (m *GoogleModel) request(msgs []models.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, turns := foldMessages(msgs)

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.assistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.text, role))
	}

	temperature := m.opts.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(min(m.opts.MaxTokens, math.MaxInt32)), // #nosec G115 -- bounded by min
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(m.tools) > 0 {
		config.Tools = m.tools
	}
	return contents, config
}

// responseChunks flattens the first candidate of a response.
func responseChunks(resp *genai.GenerateContentResponse) []*agent.ModelChunk {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return nil
	}

	var out []*agent.ModelChunk
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			out = append(out, &agent.ModelChunk{Text: part.Text})
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, toolCallSeq.Add(1))
			}
			out = append(out, &agent.ModelChunk{ToolCall: &models.ToolCall{
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: args,
			}})
		}
	}
	return out
}

func (m *GoogleModel) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	providerErr := NewProviderError(string(m.provider), m.model, err)

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if apiErr.Code != 0 {
			providerErr = providerErr.WithStatus(apiErr.Code)
		}
		if apiErr.Status != "" {
			providerErr = providerErr.WithCode(apiErr.Status)
		}
	}
	return providerErr
}
