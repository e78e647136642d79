package llm

import (
	"context"

	"github.com/RichardoC/persona-chat/internal/models"
)

// Message is one prior turn as handed to a provider. Providers translate
// Role into their own vocabulary.
type Message struct {
	Role    models.Role
	Content string
}

type Sampling struct {
	Temperature float32
	TopP        float32
}

type Request struct {
	Model             string
	SystemInstruction string
	Sampling          Sampling
	History           []Message
	// Prompt is the new user message. It is never part of History.
	Prompt string
}

type ModelInfo struct {
	Name string
	// Generative is set when the model can answer chat requests.
	Generative bool
}

// Provider is a hosted text generation service.
type Provider interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
	Generate(ctx context.Context, req Request) (string, error)
	Close() error
}

// HistoryFor derives the provider history from a stored conversation. When
// the last turn is a user turn it is the pending message and is left out.
// The result depends only on turns, so repeated calls agree.
func HistoryFor(turns []models.Turn) []Message {
	if n := len(turns); n > 0 && turns[n-1].Role == models.RoleUser {
		turns = turns[:n-1]
	}
	history := make([]Message, 0, len(turns))
	for _, t := range turns {
		history = append(history, Message{Role: t.Role, Content: t.Content})
	}
	return history
}
