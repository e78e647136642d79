package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RichardoC/persona-chat/internal/config"
	"github.com/RichardoC/persona-chat/internal/llm"
	"github.com/RichardoC/persona-chat/internal/models"
	"github.com/RichardoC/persona-chat/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	// genai links in opencensus, whose view worker starts at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type stubProvider struct {
	models  []llm.ModelInfo
	listErr error
	reply   string
	genErr  error
	last    llm.Request
}

func (s *stubProvider) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	return s.models, s.listErr
}

func (s *stubProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	s.last = req
	return s.reply, s.genErr
}

func (s *stubProvider) Close() error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resume_2025.txt"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note_2022.txt"), []byte("B"), 0o644))

	cfg := config.DefaultConfig()
	cfg.Grounding.Dir = dir
	cfg.SecretsFile = ""
	cfg.Persona.Name = "Jordan Lee"
	return cfg
}

func options(t *testing.T, p *stubProvider, calls *int) Options {
	return Options{
		Logger:      zaptest.NewLogger(t),
		CountTokens: prompt.EstimateTokens,
		NewProvider: func(ctx context.Context, cfg *config.Config, apiKey string) (llm.Provider, error) {
			*calls++
			assert.Equal(t, "test-key", apiKey)
			return p, nil
		},
	}
}

func TestNew_MissingCredential(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	calls := 0

	_, err := New(context.Background(), testConfig(t), options(t, &stubProvider{}, &calls))
	assert.ErrorIs(t, err, config.ErrMissingCredential)
	assert.Zero(t, calls, "no provider may be created without a credential")
}

func TestNew_ListingFailure(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")
	calls := 0
	p := &stubProvider{listErr: errors.New("network unreachable")}

	a, err := New(context.Background(), testConfig(t), options(t, p, &calls))
	assert.ErrorIs(t, err, llm.ErrInitialization)
	assert.Nil(t, a)
}

func TestNew_NoCompatibleModel(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")
	calls := 0
	p := &stubProvider{models: []llm.ModelInfo{{Name: "embedding-001"}}}

	_, err := New(context.Background(), testConfig(t), options(t, p, &calls))
	assert.ErrorIs(t, err, llm.ErrNoCompatibleModel)
}

func TestNew_WiresGroundedService(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")
	calls := 0
	p := &stubProvider{
		models: []llm.ModelInfo{{Name: "gemini-1.5-pro", Generative: true}, {Name: "gemini-2.0-flash", Generative: true}},
		reply:  "Hi there",
	}
	ctx := context.Background()

	a, err := New(ctx, testConfig(t), options(t, p, &calls))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 1, calls)
	assert.Equal(t, "gemini-2.0-flash", a.Service.Model())
	assert.Positive(t, a.PromptTokens())
	assert.Equal(t, 1, a.Grounding.Count()[models.TierPrimary])

	sys := a.Service.SystemInstruction()
	assert.Contains(t, sys, "--- SOURCE: resume_2025.txt [PRIMARY] ---\nA")
	assert.Contains(t, sys, "--- SOURCE: note_2022.txt [SUPPLEMENTARY] ---\nB")
	assert.Contains(t, sys, "Jordan Lee")

	sess, err := a.Service.StartSession(ctx)
	require.NoError(t, err)
	reply, err := a.Service.Ask(ctx, sess.ID, "Why law?")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply.Content)
	assert.Equal(t, "gemini-2.0-flash", p.last.Model)
	assert.Equal(t, float32(0.7), p.last.Sampling.Temperature)
}

func TestNew_ExplicitModelSkipsListing(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")
	calls := 0
	p := &stubProvider{listErr: errors.New("listing must not be called")}
	cfg := testConfig(t)
	cfg.LLM.Model = "gemini-1.5-flash"

	a, err := New(context.Background(), cfg, options(t, p, &calls))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "gemini-1.5-flash", a.Service.Model())
}

func TestNew_MissingGroundingDirectory(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")
	calls := 0
	p := &stubProvider{models: []llm.ModelInfo{{Name: "gemini-pro", Generative: true}}}
	cfg := testConfig(t)
	cfg.Grounding.Dir = filepath.Join(t.TempDir(), "missing")

	a, err := New(context.Background(), cfg, options(t, p, &calls))
	require.NoError(t, err)
	defer a.Close()
	assert.Empty(t, a.Grounding.Primary)
	assert.Empty(t, a.Grounding.Supplementary)
}

func TestNew_SQLiteStore(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")
	calls := 0
	p := &stubProvider{models: []llm.ModelInfo{{Name: "gemini-pro", Generative: true}}, reply: "ok"}
	cfg := testConfig(t)
	cfg.Session.Store = "sqlite"
	ctx := context.Background()

	a, err := New(ctx, cfg, options(t, p, &calls))
	require.NoError(t, err)
	defer a.Close()

	sess, err := a.Service.StartSession(ctx)
	require.NoError(t, err)
	_, err = a.Service.Ask(ctx, sess.ID, "hello")
	require.NoError(t, err)

	turns, err := a.Service.Transcript(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, turns, 3)
}

func TestRunSweeper(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")
	calls := 0
	p := &stubProvider{models: []llm.ModelInfo{{Name: "gemini-pro", Generative: true}}}
	cfg := testConfig(t)
	cfg.Session.TTL = "30ms"

	a, err := New(context.Background(), cfg, options(t, p, &calls))
	require.NoError(t, err)
	defer a.Close()

	sess, err := a.Service.StartSession(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunSweeper(ctx) }()

	require.Eventually(t, func() bool {
		_, err := a.Store.Get(context.Background(), sess.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunSweeper_DisabledReturns(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")
	calls := 0
	p := &stubProvider{models: []llm.ModelInfo{{Name: "gemini-pro", Generative: true}}}

	a, err := New(context.Background(), testConfig(t), options(t, p, &calls))
	require.NoError(t, err)
	defer a.Close()

	assert.NoError(t, a.RunSweeper(context.Background()))
}

func TestNew_CountsPromptTokensOnDemand(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")
	calls, counted := 0, 0
	p := &stubProvider{models: []llm.ModelInfo{{Name: "gemini-2.0-flash", Generative: true}}}
	opts := options(t, p, &calls)
	opts.CountTokens = func(s string) int {
		counted++
		return prompt.EstimateTokens(s)
	}

	a, err := New(context.Background(), testConfig(t), opts)
	require.NoError(t, err)
	defer a.Close()
	assert.Zero(t, counted, "startup must not run the tokenizer")

	first := a.PromptTokens()
	assert.Positive(t, first)
	assert.Equal(t, first, a.PromptTokens())
	assert.Equal(t, 1, counted)
}
