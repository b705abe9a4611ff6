package rag

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/llm/embedding"
	"github.com/BaSui01/ragflow/types"
)

// SemanticReranker 用嵌入重新计算 query-chunk 余弦相似度并重排候选.
//
// 与首轮稠密检索的区别：这里对 chunk 原文重新嵌入，
// 而不是复用索引里的存储向量，因此分数可能与首轮不同
// （不同模型版本、不同截断策略都会造成差异）.
type SemanticReranker struct {
	embedder embedding.Provider
	logger   *zap.Logger
}

// NewSemanticReranker 创建语义重排器.
func NewSemanticReranker(embedder embedding.Provider, logger *zap.Logger) *SemanticReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticReranker{
		embedder: embedder,
		logger:   logger.With(zap.String("component", "semantic_reranker")),
	}
}

// Rerank 按与 query 的余弦相似度降序返回候选副本.
// 空候选集直接返回空切片，不调用嵌入服务.
// 嵌入失败返回 ErrEmbeddingUnavailable，由调用方决定是否中止.
func (r *SemanticReranker) Rerank(ctx context.Context, query string, candidates []RetrievalCandidate) ([]RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return []RetrievalCandidate{}, nil
	}

	// query 和所有候选原文合并为一次嵌入调用
	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, cand := range candidates {
		texts = append(texts, cand.Chunk.Content)
	}

	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "embedding count mismatch during rerank")
	}

	queryVec := vectors[0]
	ranked := make([]RetrievalCandidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].Score = cosineSimilarity(queryVec, vectors[i+1])
		ranked[i].Stage = StageSemantic
	}

	// 稳定排序：分数相同保持输入顺序
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	r.logger.Debug("semantic rerank completed", zap.Int("candidates", len(ranked)))
	return ranked, nil
}

// cosineSimilarity 计算两个向量的余弦相似度.
// 零范数向量按范数 1 处理，避免除零（零向量得分为 0）.
func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 {
		normA = 1
	}
	if normB == 0 {
		normB = 1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
