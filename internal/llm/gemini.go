package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/RichardoC/persona-chat/internal/models"
	"google.golang.org/genai"
)

// GeminiProvider talks to the Gemini API.
type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out []ModelInfo
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to list models: %w", err)
		}
		out = append(out, ModelInfo{
			Name:       strings.TrimPrefix(m.Name, "models/"),
			Generative: slices.Contains(m.SupportedActions, "generateContent"),
		})
	}
	return out, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, geminiContents(req), geminiConfig(req))
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned an empty response")
	}
	return text, nil
}

func (p *GeminiProvider) Close() error {
	return nil
}

func geminiRole(r models.Role) genai.Role {
	if r == models.RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func geminiContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		contents = append(contents, genai.NewContentFromText(m.Content, geminiRole(m.Role)))
	}
	return append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))
}

func geminiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Sampling.Temperature),
		TopP:        genai.Ptr(req.Sampling.TopP),
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	return cfg
}
