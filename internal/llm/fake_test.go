package llm

import (
	"context"
	"sync"
)

// fakeProvider records requests and answers from a script.
type fakeProvider struct {
	mu       sync.Mutex
	models   []ModelInfo
	listErr  error
	reply    string
	genErr   error
	requests []Request
	// block, when set, holds Generate until it is closed.
	block chan struct{}
	// during runs inside Generate before it answers.
	during func()
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.models, nil
}

func (f *fakeProvider) Generate(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.during != nil {
		f.during()
	}
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.reply, nil
}

func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}
