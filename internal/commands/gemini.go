package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used for command parsing.
const DefaultModel = "gemini-1.5-flash"

const systemInstruction = "You are a command parser. Your only job is to convert natural language text into a structured command."

// GeminiConfig configures the Gemini structured-output parser.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiParser asks Gemini for a JSON command constrained by a response
// schema.
type GeminiParser struct {
	client *genai.Client
	model  string
}

// NewGeminiParser creates a parser. An API key is required.
func NewGeminiParser(ctx context.Context, cfg GeminiConfig) (*GeminiParser, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiParser{client: client, model: cfg.Model}, nil
}

// Parse implements Parser.
func (p *GeminiParser) Parse(ctx context.Context, message string) (*Command, error) {
	temperature := float32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    commandSchema(),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(message), config)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, errors.New("gemini returned no content")
	}
	var cmd Command
	if err := json.Unmarshal([]byte(text), &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return &cmd, nil
}

func commandSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"type": {
				Type: genai.TypeString,
				Enum: []string{TypeAddWidget},
			},
			"payload": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"widgetId": {
						Type:        genai.TypeString,
						Description: "A unique identifier for the new widget",
					},
					"chartType": {
						Type:        genai.TypeString,
						Enum:        ChartTypes,
						Description: "The type of chart to display in the widget",
					},
				},
				Required: []string{"widgetId", "chartType"},
			},
		},
		Required: []string{"type", "payload"},
	}
}
