package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

func TestOpenAIProvider_ImplementsGenerator(t *testing.T) {
	var _ Generator = (*OpenAIProvider)(nil)
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello back"}},
			},
			"usage": map[string]int{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
		})
	}))
	defer ts.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: ts.URL, APIKey: "sk-test", Model: "test-model"}, zap.NewNop())
	resp, err := p.Complete(context.Background(), &CompletionRequest{
		Messages:    []Message{{Role: RoleUser, Content: "hello"}},
		Temperature: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "test-model", gotBody["model"])
	assert.NotContains(t, gotBody, "response_format")
}

func TestOpenAIProvider_JSONFormatForwarded(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "{}"}}},
		})
	}))
	defer ts.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: ts.URL}, zap.NewNop())
	_, err := p.Complete(context.Background(), &CompletionRequest{
		Messages:       []Message{{Role: RoleUser, Content: "x"}},
		ResponseFormat: FormatJSON,
	})
	require.NoError(t, err)

	format, ok := gotBody["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIProvider_ServerErrorRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: ts.URL}, zap.NewNop())
	_, err := p.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrGenerationUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, http.StatusBadGateway, types.HTTPStatusFor(err))
}

func TestOpenAIProvider_AuthErrorNotRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: ts.URL}, zap.NewNop())
	_, err := p.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.False(t, types.IsRetryable(err))
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer ts.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: ts.URL}, zap.NewNop())
	_, err := p.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrGenerationUnavailable, types.GetErrorCode(err))
}

func TestOpenAIProvider_UnreachableHost(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	_, err := p.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrGenerationUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}
