package rag

import (
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// LexicalConfig BM25 配置
type LexicalConfig struct {
	K1 float64 `json:"k1"` // BM25 参数 k1 (1.2-2.0)
	B  float64 `json:"b"`  // BM25 参数 b (0.75)
}

// DefaultLexicalConfig 返回默认 BM25 配置
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{K1: 1.5, B: 0.75}
}

// LexicalReranker 对稠密检索返回的候选集做 BM25 风格的稀疏重排.
//
// 只作用于候选子集而非全量语料——这是刻意的召回上限：
// 词法信号只能重排，不能找回稠密检索漏掉的 chunk.
// 统计量（IDF、平均文档长度）来自候选子集自身，
// 因此分数在不同候选集之间不可比.
type LexicalReranker struct {
	config LexicalConfig
	logger *zap.Logger
}

// NewLexicalReranker 创建词法重排器.
func NewLexicalReranker(config LexicalConfig, logger *zap.Logger) *LexicalReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LexicalReranker{
		config: config,
		logger: logger.With(zap.String("component", "lexical_reranker")),
	}
}

// Scores 为每个候选计算 BM25 分数，顺序与输入一致.
func (r *LexicalReranker) Scores(query string, candidates []RetrievalCandidate) []float64 {
	scores := make([]float64, len(candidates))
	if len(candidates) == 0 {
		return scores
	}

	queryTerms := tokenize(query)

	// 候选子集自身的统计量
	docTerms := make([][]string, len(candidates))
	docLens := make([]float64, len(candidates))
	termDocCount := make(map[string]int)
	totalLen := 0.0
	for i, cand := range candidates {
		terms := tokenize(cand.Chunk.Content)
		docTerms[i] = terms
		docLens[i] = float64(len(terms))
		totalLen += docLens[i]

		seen := make(map[string]bool)
		for _, term := range terms {
			if !seen[term] {
				termDocCount[term]++
				seen[term] = true
			}
		}
	}
	avgDocLen := totalLen / float64(len(candidates))
	if avgDocLen == 0 {
		avgDocLen = 1
	}

	N := float64(len(candidates))
	idf := make(map[string]float64, len(termDocCount))
	for term, df := range termDocCount {
		idf[term] = math.Log((N-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}

	for i := range candidates {
		termFreq := make(map[string]int)
		for _, term := range docTerms[i] {
			termFreq[term]++
		}

		score := 0.0
		for _, qTerm := range queryTerms {
			tf, ok := termFreq[qTerm]
			if !ok {
				continue
			}
			numerator := float64(tf) * (r.config.K1 + 1.0)
			denominator := float64(tf) + r.config.K1*(1.0-r.config.B+r.config.B*(docLens[i]/avgDocLen))
			score += idf[qTerm] * (numerator / denominator)
		}
		scores[i] = score
	}

	return scores
}

// Rank 返回按 BM25 分数降序排列的候选副本，分数相同时保持输入顺序.
// 当前管道只记录分数而不采用该排序（见编排器），Rank 用于观测输出.
func (r *LexicalReranker) Rank(query string, candidates []RetrievalCandidate) []RetrievalCandidate {
	scores := r.Scores(query, candidates)

	ranked := make([]RetrievalCandidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].Score = scores[i]
		ranked[i].Stage = StageLexical
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

// tokenize 分词：转小写并按空白分割.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
