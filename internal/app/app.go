// Package app assembles the chat backend from configuration: grounding,
// system prompt, provider, model selection, session store and turn service.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RichardoC/persona-chat/internal/config"
	"github.com/RichardoC/persona-chat/internal/db"
	"github.com/RichardoC/persona-chat/internal/grounding"
	"github.com/RichardoC/persona-chat/internal/llm"
	"github.com/RichardoC/persona-chat/internal/prompt"
	"go.uber.org/zap"
)

// ProviderFactory builds the provider once the credential is known.
type ProviderFactory func(ctx context.Context, cfg *config.Config, apiKey string) (llm.Provider, error)

func DefaultProviderFactory(ctx context.Context, cfg *config.Config, apiKey string) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIProvider(cfg.LLM.BaseURL, apiKey, nil)
	default:
		return llm.NewGeminiProvider(ctx, apiKey)
	}
}

// Options carries the replaceable collaborators of New.
type Options struct {
	Logger      *zap.Logger
	NewProvider ProviderFactory
	// CountTokens sizes the system prompt on first use of
	// App.PromptTokens. Defaults to prompt.CountTokens.
	CountTokens func(string) int
}

type App struct {
	Config       *config.Config
	Grounding *grounding.Result
	Provider  llm.Provider
	Store     db.Store
	Service   *llm.Service

	promptTokens func() int
	logger       *zap.Logger
}

// New wires the backend. It fails with config.ErrMissingCredential before
// any provider call and with llm.ErrInitialization when the provider
// cannot be set up.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newProvider := opts.NewProvider
	if newProvider == nil {
		newProvider = DefaultProviderFactory
	}
	countTokens := opts.CountTokens
	if countTokens == nil {
		countTokens = prompt.CountTokens
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	apiKey, err := cfg.Credential()
	if err != nil {
		return nil, err
	}
	policy, err := llm.ParseFailurePolicy(cfg.Chat.OnTurnError)
	if err != nil {
		return nil, err
	}
	timeout, _ := cfg.LLM.TimeoutDuration()

	cache := grounding.NewCache(cfg.Grounding.Dir, groundingOptions(cfg.Grounding), logger)
	res, err := cache.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to load grounding: %w", err)
	}

	system := prompt.Compose(prompt.Persona{
		Name:     cfg.Persona.Name,
		Headline: cfg.Persona.Headline,
		Audience: cfg.Persona.Audience,
		Themes:   cfg.Persona.Themes,
		MaxWords: cfg.Persona.MaxWords,
	}, res.Primary, res.Supplementary)
	logger.Info("system prompt composed", zap.Int("approx_tokens", prompt.EstimateTokens(system)))

	provider, err := newProvider(ctx, cfg, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", llm.ErrInitialization, err)
	}

	model := cfg.LLM.Model
	if model == "" {
		model, err = llm.SelectModel(ctx, provider, cfg.LLM.Preferences)
		if err != nil {
			provider.Close()
			return nil, err
		}
	}
	logger.Info("model selected", zap.String("provider", cfg.LLM.Provider), zap.String("model", model))

	store, err := newStore(cfg.Session)
	if err != nil {
		provider.Close()
		return nil, err
	}

	svc := llm.New(provider, store, logger, llm.Options{
		Model:             model,
		SystemInstruction: system,
		Sampling:          llm.Sampling{Temperature: cfg.LLM.Temperature, TopP: cfg.LLM.TopP},
		Policy:            policy,
		Timeout:           timeout,
		Greeting:          cfg.Persona.Greeting,
	})

	a := &App{
		Config:    cfg,
		Grounding: res,
		Provider:  provider,
		Store:     store,
		Service:   svc,
		logger:    logger,
	}
	a.promptTokens = sync.OnceValue(func() int {
		return countTokens(system)
	})
	return a, nil
}

// PromptTokens sizes the system instruction. The count is computed on the
// first call so startup never waits on the tokenizer's BPE download.
func (a *App) PromptTokens() int {
	return a.promptTokens()
}

// RunSweeper expires idle sessions until ctx is done. It returns at once
// when no TTL is configured.
func (a *App) RunSweeper(ctx context.Context) error {
	ttl, _ := a.Config.Session.TTLDuration()
	if ttl == 0 {
		return nil
	}
	interval := min(ttl, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := a.Store.Expire(ctx, now.Add(-ttl))
			if err != nil {
				a.logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Info("expired idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (a *App) Close() error {
	if err := a.Provider.Close(); err != nil {
		return err
	}
	return a.Store.Close()
}

func groundingOptions(c config.GroundingConfig) grounding.Options {
	opts := grounding.DefaultOptions()
	if len(c.Extensions) > 0 {
		opts.Extensions = c.Extensions
	}
	opts.PrimaryMarkers = c.PrimaryMarkers
	opts.SupplementaryMarkers = c.SupplementaryMarkers
	opts.Manifest = c.Manifest
	return opts
}

func newStore(c config.SessionConfig) (db.Store, error) {
	switch c.Store {
	case "sqlite":
		return db.NewSQLiteStore(c.SQLiteDSN)
	default:
		return db.NewMemoryStore(), nil
	}
}
