package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-rivu-backend/config"
	"ai-rivu-backend/model"

	"google.golang.org/genai"
)

var (
	ErrNoAPIKey      = errors.New("llm api key is not configured")
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

// Generator produces the text of an exam paper
type Generator interface {
	Generate(ctx context.Context, req model.PaperRequest) (*model.PaperResponse, error)
}

// GeminiGenerator calls the Gemini API
type GeminiGenerator struct {
	client          *genai.Client
	model           string
	maxOutputTokens int32
}

// NewGeminiGenerator creates a generator from configuration
func NewGeminiGenerator(ctx context.Context, cfg config.LLMConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{
		client:          client,
		model:           cfg.Model,
		maxOutputTokens: int32(cfg.MaxOutputTokens),
	}, nil
}

// Model returns the model identifier
func (g *GeminiGenerator) Model() string {
	return g.model
}

func (g *GeminiGenerator) Generate(ctx context.Context, req model.PaperRequest) (*model.PaperResponse, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
		Temperature: genai.Ptr(float32(0.4)),
	}
	if g.maxOutputTokens > 0 {
		cfg.MaxOutputTokens = g.maxOutputTokens
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(req)), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, ErrEmptyResponse
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &model.PaperResponse{
		Subject:   req.Subject,
		ClassName: req.ClassName,
		Content:   text,
		Tokens:    tokens,
	}, nil
}
