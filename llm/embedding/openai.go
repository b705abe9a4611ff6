package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// OpenAIConfig OpenAI 兼容嵌入提供者配置.
type OpenAIConfig struct {
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"api_key"`
	Model      string        `json:"model"`
	Dimensions int           `json:"dimensions"`
	Timeout    time.Duration `json:"timeout"`
}

// OpenAIProvider 通过 OpenAI 兼容的 embeddings API 实现 Provider.
type OpenAIProvider struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewOpenAIProvider 创建 OpenAI 兼容嵌入提供者.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims := cfg.Dimensions
	if dims == 0 && model == "text-embedding-3-small" {
		dims = 1536
	}
	return &OpenAIProvider{
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		dimensions: dims,
		logger:     logger.With(zap.String("component", "embedding_openai")),
	}
}

// Name 返回提供者名称.
func (p *OpenAIProvider) Name() string { return "openai" }

// Dimensions 返回默认嵌入维度.
func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed 为给定输入批量生成嵌入，结果顺序与输入一致.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	payload, err := json.Marshal(embeddingRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "marshal embedding request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build embedding request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "embedding request failed").
			WithCause(err).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "read embedding response").
			WithCause(err).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
	}

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("embedding request rejected",
			zap.Int("status", resp.StatusCode),
			zap.Int("inputs", len(texts)))
		return nil, types.NewError(types.ErrEmbeddingUnavailable,
			fmt.Sprintf("embedding API returned status %d", resp.StatusCode)).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "decode embedding response").
			WithCause(err).WithHTTPStatus(http.StatusBadGateway)
	}
	if parsed.Error != nil {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, parsed.Error.Message).
			WithHTTPStatus(http.StatusBadGateway)
	}
	if len(parsed.Data) != len(texts) {
		return nil, types.NewError(types.ErrEmbeddingUnavailable,
			fmt.Sprintf("embedding count mismatch: want %d, got %d", len(texts), len(parsed.Data))).
			WithHTTPStatus(http.StatusBadGateway)
	}

	// API 按 index 标识顺序，保险起见重排.
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	out := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
