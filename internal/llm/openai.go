package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/RichardoC/persona-chat/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIProvider talks to any OpenAI-compatible endpoint, Ollama included.
type OpenAIProvider struct {
	llm        llms.Model
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewOpenAIProvider(baseURL, token string, httpClient *http.Client) (*OpenAIProvider, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, err
	}
	return &OpenAIProvider{
		llm:        llm,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}, nil
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels reads GET {base}/models. The listing carries no capability
// flags, so every model counts as generative.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model listing returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to parse model list: %w", err)
	}

	out := make([]ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		out = append(out, ModelInfo{Name: m.ID, Generative: true})
	}
	return out, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := p.llm.GenerateContent(ctx, openAIMessages(req),
		llms.WithModel(req.Model),
		llms.WithTemperature(float64(req.Sampling.Temperature)),
		llms.WithTopP(float64(req.Sampling.TopP)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", errors.New("completion returned no content")
	}
	return resp.Choices[0].Content, nil
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func openAIRole(r models.Role) llms.ChatMessageType {
	if r == models.RoleAssistant {
		return llms.ChatMessageTypeAI
	}
	return llms.ChatMessageTypeHuman
}

func openAIMessages(req Request) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemInstruction))
	}
	for _, m := range req.History {
		msgs = append(msgs, llms.TextParts(openAIRole(m.Role), m.Content))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))
}
