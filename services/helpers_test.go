package services

import (
	"context"
	"sync"
)

// fakeEmbedder serves canned vectors. Texts listed in vectors get that exact
// vector, everything else gets def. err, when set, fails every call.
type fakeEmbedder struct {
	vectors map[string][]float32
	def     []float32
	err     error

	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	if f.def != nil {
		return f.def
	}
	return []float32{1, 0}
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.vectorFor(text)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.vectorFor(text), nil
}

// fakeLLM records every request and answers through the reply hook, or "ok"
// when no hook is set. Safe for concurrent use.
type fakeLLM struct {
	mu    sync.Mutex
	reqs  []CompletionRequest
	reply func(req CompletionRequest) (string, error)
}

func (f *fakeLLM) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(req)
	}
	return "ok", nil
}

func (f *fakeLLM) requests() []CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CompletionRequest, len(f.reqs))
	copy(out, f.reqs)
	return out
}
