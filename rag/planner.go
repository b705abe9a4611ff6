package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/llm"
)

// QueryPlan 规划阶段输出.
type QueryPlan struct {
	RewrittenQuery string   `json:"rewritten_query"`
	Entities       []string `json:"entities"`
	Subqueries     []string `json:"subqueries"`
	// Queries 实际用于检索的查询列表：重写查询在前，子查询去重后续接.
	Queries []string `json:"queries"`
}

// QueryPlanner 把原始查询扩展为一组定向检索查询.
//
// 规划是可降级的：生成调用失败向上传播（中止管道），
// 但输出解析失败只会降级为 [原始查询]，不会让请求失败.
type QueryPlanner struct {
	generator llm.Generator
	model     string
	logger    *zap.Logger
}

// NewQueryPlanner 创建查询规划器.
func NewQueryPlanner(generator llm.Generator, model string, logger *zap.Logger) *QueryPlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryPlanner{
		generator: generator,
		model:     model,
		logger:    logger.With(zap.String("component", "planner")),
	}
}

type planPayload struct {
	RewrittenQuery string   `json:"rewritten_query"`
	Entities       []string `json:"entities"`
	Subqueries     []string `json:"subqueries"`
}

// Plan 调用生成模型重写查询并提出至多 3 条子查询.
func (p *QueryPlanner) Plan(ctx context.Context, query, docID string) (*QueryPlan, error) {
	if docID == "" {
		docID = "none"
	}
	resp, err := p.generator.Complete(ctx, &llm.CompletionRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Rewrite the query and propose up to 3 targeted retrieval queries. " +
				"Return JSON with keys: rewritten_query, entities, subqueries."},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Query: %s\nDoc ID: %s", query, docID)},
		},
		ResponseFormat: llm.FormatJSON,
		Temperature:    0,
		MaxTokens:      200,
	})
	if err != nil {
		return nil, err
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(resp.Content), &payload); err != nil {
		p.logger.Warn("plan parse failed, degrading to original query", zap.Error(err))
		return degradedPlan(query), nil
	}

	rewritten := payload.RewrittenQuery
	if rewritten == "" {
		rewritten = query
	}
	subqueries := payload.Subqueries
	if len(subqueries) > 3 {
		subqueries = subqueries[:3]
	}

	queries := []string{rewritten}
	for _, q := range subqueries {
		if q != "" && q != rewritten {
			queries = append(queries, q)
		}
	}

	return &QueryPlan{
		RewrittenQuery: rewritten,
		Entities:       payload.Entities,
		Subqueries:     subqueries,
		Queries:        queries,
	}, nil
}

// degradedPlan 解析失败时的兜底计划.
func degradedPlan(query string) *QueryPlan {
	return &QueryPlan{
		RewrittenQuery: query,
		Queries:        []string{query},
	}
}

type followupsPayload struct {
	FollowUps []string `json:"follow_ups"`
}

// Followups 基于回答和上下文生成至多 3 条追问.
// 输出解析失败降级为空列表，不向上传播.
func (p *QueryPlanner) Followups(ctx context.Context, query, answer, contextText string) ([]string, error) {
	resp, err := p.generator.Complete(ctx, &llm.CompletionRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Generate 2-3 concise follow-up questions based on the answer " +
				"and missing context. Return JSON with key: follow_ups."},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Query: %s\nAnswer: %s\nContext:\n%s",
				query, answer, contextPreview(contextText, 800))},
		},
		ResponseFormat: llm.FormatJSON,
		Temperature:    0.3,
		MaxTokens:      120,
	})
	if err != nil {
		return nil, err
	}

	var payload followupsPayload
	if err := json.Unmarshal([]byte(resp.Content), &payload); err != nil {
		p.logger.Warn("followups parse failed, degrading to empty", zap.Error(err))
		return []string{}, nil
	}

	followups := make([]string, 0, 3)
	for _, q := range payload.FollowUps {
		if q == "" {
			continue
		}
		followups = append(followups, q)
		if len(followups) == 3 {
			break
		}
	}
	return followups, nil
}
