package rag

import (
	"context"
	"sync"

	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/types"
)

// fakeEmbedder 确定性嵌入：由调用方注入文本到向量的映射.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float64
	dim     int
	calls   int
	err     error
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float64), dim: dim}
}

func (f *fakeEmbedder) set(text string, vec []float64) *fakeEmbedder {
	f.vectors[text] = vec
	return f
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if vec, ok := f.vectors[text]; ok {
			out[i] = vec
		} else {
			out[i] = make([]float64, f.dim)
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Name() string    { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return f.dim }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeGenerator 按系统提示词路由固定回复，记录全部请求.
type fakeGenerator struct {
	mu        sync.Mutex
	responses map[string]string // system prompt 前缀 -> content
	fallback  string
	err       error
	requests  []*llm.CompletionRequest
}

func newFakeGenerator(fallback string) *fakeGenerator {
	return &fakeGenerator{responses: make(map[string]string), fallback: fallback}
}

func (f *fakeGenerator) respondTo(systemPrefix, content string) *fakeGenerator {
	f.responses[systemPrefix] = content
	return f
}

func (f *fakeGenerator) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	content := f.fallback
	if len(req.Messages) > 0 && req.Messages[0].Role == llm.RoleSystem {
		system := req.Messages[0].Content
		for prefix, resp := range f.responses {
			if len(system) >= len(prefix) && system[:len(prefix)] == prefix {
				content = resp
				break
			}
		}
	}
	return &llm.CompletionResponse{
		Content: content,
		Model:   req.Model,
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeGenerator) lastRequest() *llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

var genUnavailable = types.NewError(types.ErrGenerationUnavailable, "provider down").
	WithHTTPStatus(502).WithRetryable(true)
