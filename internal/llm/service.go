package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/persona-chat/internal/db"
	"github.com/RichardoC/persona-chat/internal/models"
	"go.uber.org/zap"
)

// FailurePolicy decides what happens to the user turn when the provider
// fails to answer it.
type FailurePolicy string

const (
	// FailureKeep leaves the unanswered user turn in the transcript.
	FailureKeep FailurePolicy = "keep"
	// FailureRollback removes it again.
	FailureRollback FailurePolicy = "rollback"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(s)) {
	case FailureKeep, "":
		return FailureKeep, nil
	case FailureRollback:
		return FailureRollback, nil
	}
	return "", fmt.Errorf("unknown turn failure policy %q", s)
}

type Options struct {
	Model             string
	SystemInstruction string
	Sampling          Sampling
	Policy            FailurePolicy
	// Timeout bounds a single provider call. Zero means no limit.
	Timeout time.Duration
	// Greeting seeds every new session as an assistant turn.
	Greeting string
}

// Service runs conversation turns against a provider.
type Service struct {
	provider Provider
	store    db.Store
	logger   *zap.Logger
	opts     Options

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(provider Provider, store db.Store, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Policy == "" {
		opts.Policy = FailureKeep
	}
	return &Service{
		provider: provider,
		store:    store,
		logger:   logger,
		opts:     opts,
		inflight: make(map[string]struct{}),
	}
}

func (s *Service) Model() string {
	return s.opts.Model
}

func (s *Service) SystemInstruction() string {
	return s.opts.SystemInstruction
}

// StartSession creates a session seeded with the greeting.
func (s *Service) StartSession(ctx context.Context) (*models.Session, error) {
	sess, err := s.store.Create(ctx)
	if err != nil {
		return nil, err
	}
	if s.opts.Greeting != "" {
		greeting := models.Turn{Role: models.RoleAssistant, Content: s.opts.Greeting}
		if err := s.store.AppendTurn(ctx, sess.ID, greeting); err != nil {
			return nil, fmt.Errorf("failed to seed greeting: %w", err)
		}
	}
	s.logger.Debug("session started", zap.String("session", sess.ID))
	return sess, nil
}

func (s *Service) Session(ctx context.Context, id string) (*models.Session, error) {
	return s.store.Get(ctx, id)
}

// EndSession discards a session and its transcript.
func (s *Service) EndSession(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func (s *Service) Transcript(ctx context.Context, id string) ([]models.Turn, error) {
	return s.store.Turns(ctx, id)
}

// Ask appends text as a user turn, sends it with the prior transcript and
// appends the reply. When the provider fails, or the reply cannot be stored,
// it returns a *TurnError and the user turn is kept or removed according to
// the failure policy.
func (s *Service) Ask(ctx context.Context, sessionID, text string) (models.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Turn{}, ErrEmptyMessage
	}

	if !s.acquire(sessionID) {
		return models.Turn{}, ErrSessionBusy
	}
	defer s.release(sessionID)

	user := models.Turn{Role: models.RoleUser, Content: text, CreatedAt: time.Now().UTC()}
	if err := s.store.AppendTurn(ctx, sessionID, user); err != nil {
		return models.Turn{}, err
	}

	turns, err := s.store.Turns(ctx, sessionID)
	if err != nil {
		return models.Turn{}, err
	}

	req := Request{
		Model:             s.opts.Model,
		SystemInstruction: s.opts.SystemInstruction,
		Sampling:          s.opts.Sampling,
		History:           HistoryFor(turns),
		Prompt:            text,
	}

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.provider.Generate(callCtx, req)
	if err != nil {
		return models.Turn{}, s.fail(ctx, sessionID, err)
	}

	assistant := models.Turn{Role: models.RoleAssistant, Content: reply, CreatedAt: time.Now().UTC()}
	if err := s.store.AppendTurn(ctx, sessionID, assistant); err != nil {
		// The session may have been reset or expired while the reply was pending.
		return models.Turn{}, s.fail(ctx, sessionID, fmt.Errorf("failed to store reply: %w", err))
	}

	s.logger.Info("turn answered",
		zap.String("session", sessionID),
		zap.Int("history", len(req.History)),
		zap.Duration("latency", time.Since(start)))
	return assistant, nil
}

func (s *Service) fail(ctx context.Context, sessionID string, cause error) error {
	turnErr := &TurnError{Err: cause}
	if s.opts.Policy == FailureRollback {
		// The request context may already be done; the rollback must still land.
		if err := s.store.RemoveLastTurn(context.WithoutCancel(ctx), sessionID); err != nil {
			s.logger.Error("failed to roll back user turn",
				zap.String("session", sessionID),
				zap.Error(err))
		} else {
			turnErr.RolledBack = true
		}
	}
	s.logger.Warn("turn failed",
		zap.String("session", sessionID),
		zap.Bool("rolled_back", turnErr.RolledBack),
		zap.Error(cause))
	return turnErr
}

func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}
