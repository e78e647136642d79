package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RichardoC/persona-chat/internal/db"
	"github.com/RichardoC/persona-chat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	// genai links in opencensus, whose view worker starts at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newTestService(t *testing.T, p Provider, opts Options) (*Service, db.Store) {
	t.Helper()
	store := db.NewMemoryStore()
	if opts.Model == "" {
		opts.Model = "gemini-test"
	}
	return New(p, store, zaptest.NewLogger(t), opts), store
}

func TestAsk_AppendsUserThenAssistant(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{reply: "Because of the contracts work."}
	svc, store := newTestService(t, p, Options{
		SystemInstruction: "persona",
		Sampling:          Sampling{Temperature: 0.7, TopP: 0.95},
		Greeting:          "Hello! Ask me anything.",
	})

	sess, err := svc.StartSession(ctx)
	require.NoError(t, err)
	before, err := store.Turns(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, before, 1)

	reply, err := svc.Ask(ctx, sess.ID, "  Why law?  ")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.Equal(t, "Because of the contracts work.", reply.Content)

	after, err := store.Turns(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before)+2)
	assert.Equal(t, models.Turn{Role: models.RoleUser, Content: "Why law?"}, stripTime(after[1]))
	assert.Equal(t, models.Turn{Role: models.RoleAssistant, Content: "Because of the contracts work."}, stripTime(after[2]))

	calls := p.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gemini-test", calls[0].Model)
	assert.Equal(t, "persona", calls[0].SystemInstruction)
	assert.Equal(t, Sampling{Temperature: 0.7, TopP: 0.95}, calls[0].Sampling)
	assert.Equal(t, "Why law?", calls[0].Prompt)
	assert.Equal(t, []Message{{Role: models.RoleAssistant, Content: "Hello! Ask me anything."}}, calls[0].History)
}

func TestAsk_HistoryNeverContainsNewMessage(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{reply: "ok"}
	svc, _ := newTestService(t, p, Options{})

	sess, err := svc.StartSession(ctx)
	require.NoError(t, err)

	questions := []string{"one", "two", "three"}
	for _, q := range questions {
		_, err := svc.Ask(ctx, sess.ID, q)
		require.NoError(t, err)
	}

	for i, req := range p.calls() {
		assert.Len(t, req.History, 2*i)
		for _, m := range req.History {
			assert.NotEqual(t, questions[i], m.Content)
		}
		if n := len(req.History); n > 0 {
			assert.Equal(t, models.RoleAssistant, req.History[n-1].Role)
		}
	}
}

func TestAsk_ProviderFailureKeepsUserTurn(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("503 unavailable")
	p := &fakeProvider{genErr: cause}
	svc, store := newTestService(t, p, Options{})

	sess, err := svc.StartSession(ctx)
	require.NoError(t, err)

	_, err = svc.Ask(ctx, sess.ID, "Why law?")
	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.ErrorIs(t, err, cause)
	assert.False(t, turnErr.RolledBack)

	turns, err := store.Turns(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, models.RoleUser, turns[0].Role)

	// The session stays usable after a failure.
	p.genErr = nil
	p.reply = "recovered"
	_, err = svc.Ask(ctx, sess.ID, "Again?")
	require.NoError(t, err)
}

func TestAsk_ProviderFailureRollback(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{genErr: errors.New("boom")}
	svc, store := newTestService(t, p, Options{Policy: FailureRollback, Greeting: "Hi"})

	sess, err := svc.StartSession(ctx)
	require.NoError(t, err)

	_, err = svc.Ask(ctx, sess.ID, "Why law?")
	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.True(t, turnErr.RolledBack)

	turns, err := store.Turns(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "Hi", turns[0].Content)
}

func TestAsk_SessionResetWhileAnswering(t *testing.T) {
	for _, policy := range []FailurePolicy{FailureKeep, FailureRollback} {
		t.Run(string(policy), func(t *testing.T) {
			ctx := context.Background()
			p := &fakeProvider{reply: "too late"}
			svc, _ := newTestService(t, p, Options{Policy: policy})
			sess, err := svc.StartSession(ctx)
			require.NoError(t, err)
			p.during = func() {
				require.NoError(t, svc.EndSession(ctx, sess.ID))
			}

			_, err = svc.Ask(ctx, sess.ID, "Why law?")
			var turnErr *TurnError
			require.ErrorAs(t, err, &turnErr)
			assert.ErrorIs(t, err, db.ErrSessionNotFound)
			assert.False(t, turnErr.RolledBack)

			// The guard is released so a fresh session can be used at once.
			next, err := svc.StartSession(ctx)
			require.NoError(t, err)
			p.during = nil
			_, err = svc.Ask(ctx, next.ID, "Why law?")
			require.NoError(t, err)
		})
	}
}

func TestAsk_EmptyMessage(t *testing.T) {
	p := &fakeProvider{reply: "x"}
	svc, _ := newTestService(t, p, Options{})
	sess, err := svc.StartSession(context.Background())
	require.NoError(t, err)

	_, err = svc.Ask(context.Background(), sess.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, p.calls())
}

func TestAsk_UnknownSession(t *testing.T) {
	p := &fakeProvider{reply: "x"}
	svc, _ := newTestService(t, p, Options{})

	_, err := svc.Ask(context.Background(), "nope", "hi")
	assert.ErrorIs(t, err, db.ErrSessionNotFound)
	assert.Empty(t, p.calls())
}

func TestAsk_BusySession(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{reply: "slow", block: make(chan struct{})}
	svc, _ := newTestService(t, p, Options{})
	sess, err := svc.StartSession(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Ask(ctx, sess.ID, "first")
		done <- err
	}()

	require.Eventually(t, func() bool { return len(p.calls()) == 1 }, time.Second, 5*time.Millisecond)

	_, err = svc.Ask(ctx, sess.ID, "second")
	assert.ErrorIs(t, err, ErrSessionBusy)

	other, err := svc.StartSession(ctx)
	require.NoError(t, err)
	otherDone := make(chan error, 1)
	go func() {
		_, err := svc.Ask(ctx, other.ID, "elsewhere")
		otherDone <- err
	}()
	require.Eventually(t, func() bool { return len(p.calls()) == 2 }, time.Second, 5*time.Millisecond)

	close(p.block)
	require.NoError(t, <-done)
	require.NoError(t, <-otherDone)
}

func TestAsk_Timeout(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{block: make(chan struct{})}
	defer close(p.block)
	svc, store := newTestService(t, p, Options{Timeout: 20 * time.Millisecond})
	sess, err := svc.StartSession(ctx)
	require.NoError(t, err)

	_, err = svc.Ask(ctx, sess.ID, "hello?")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	turns, err := store.Turns(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &fakeProvider{}, Options{})
	sess, err := svc.StartSession(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.EndSession(ctx, sess.ID))
	_, err = svc.Transcript(ctx, sess.ID)
	assert.ErrorIs(t, err, db.ErrSessionNotFound)
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailureKeep, p)

	p, err = ParseFailurePolicy("Rollback")
	require.NoError(t, err)
	assert.Equal(t, FailureRollback, p)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}

func stripTime(t models.Turn) models.Turn {
	t.CreatedAt = time.Time{}
	return t
}
