package rag

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ContextBuilder 在 token 预算内贪心装配上下文文本.
//
// 装箱策略是首次溢出即停：按候选顺序逐条追加，
// 第一条放不下的候选让装配终止，不会跳过它去尝试后面更短的候选.
// 这样保证上下文严格遵循重排序，不会出现低位候选越过高位候选的情况.
type ContextBuilder struct {
	tokenizer Tokenizer
	logger    *zap.Logger
}

// NewContextBuilder 创建上下文装配器.
func NewContextBuilder(tokenizer Tokenizer, logger *zap.Logger) *ContextBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextBuilder{
		tokenizer: tokenizer,
		logger:    logger.With(zap.String("component", "context_builder")),
	}
}

// Build 返回装配好的上下文文本和实际纳入的候选.
// budget <= 0 或候选为空时返回空上下文；
// 第一条候选就超出预算时同样返回空上下文和零候选.
func (b *ContextBuilder) Build(candidates []RetrievalCandidate, budget int) (string, []RetrievalCandidate) {
	if budget <= 0 || len(candidates) == 0 {
		return "", []RetrievalCandidate{}
	}

	var sb strings.Builder
	used := make([]RetrievalCandidate, 0, len(candidates))
	remaining := budget

	for _, cand := range candidates {
		rendered := renderChunk(cand.Chunk)
		cost := b.tokenizer.CountTokens(rendered)
		if cost > remaining {
			break
		}
		sb.WriteString(rendered)
		used = append(used, cand)
		remaining -= cost
	}

	b.logger.Debug("context built",
		zap.Int("budget", budget),
		zap.Int("candidates", len(candidates)),
		zap.Int("used", len(used)),
		zap.Int("remaining_tokens", remaining))

	return sb.String(), used
}

// renderChunk 渲染单条候选："[source#chunk_index] content\n".
func renderChunk(c Chunk) string {
	return fmt.Sprintf("[%s] %s\n", c.Key(), c.Content)
}
