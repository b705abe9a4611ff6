package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/llm/embedding"
	"github.com/BaSui01/ragflow/types"
)

// 阶段名，用于 span 命名、延迟指标和错误归因.
const (
	StagePlanning        = "planning"
	StageDenseRetrieval  = "dense_retrieval"
	StageBM25Retrieval   = "bm25_retrieval"
	StageReranking       = "reranking"
	StageContextBuilding = "context_building"
	StageToolRouting     = "tool_routing"
	StageGeneration      = "generation"
	StageFollowups       = "followups"
)

// Retriever 稠密检索接口，由 VectorEngine 实现.
type Retriever interface {
	Search(ctx context.Context, queryVector []float64, k int, tenantID, docID string) ([]RetrievalCandidate, error)
}

// PipelineConfig 管道级默认配置，可被单次请求覆盖.
type PipelineConfig struct {
	Model                string `yaml:"model" json:"model"`
	EnablePlanning       bool   `yaml:"enable_planning" json:"enable_planning"`
	EnableTools          bool   `yaml:"enable_tools" json:"enable_tools"`
	EnableDocActions     bool   `yaml:"enable_doc_actions" json:"enable_doc_actions"`
	EnableFollowups      bool   `yaml:"enable_followups" json:"enable_followups"`
	DefaultTopK          int    `yaml:"default_top_k" json:"default_top_k"`
	DefaultContextBudget int    `yaml:"default_context_budget" json:"default_context_budget"`
}

// DefaultPipelineConfig 返回默认管道配置.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Model:                "gpt-4.1-mini",
		EnablePlanning:       false,
		EnableTools:          true,
		EnableDocActions:     true,
		EnableFollowups:      true,
		DefaultTopK:          5,
		DefaultContextBudget: 1500,
	}
}

// Request 单次问答请求.
// 指针型开关为 nil 时落到管道默认配置，与数值字段的零值回退一致.
type Request struct {
	Query           string   `json:"query"`
	TopK            int      `json:"k,omitempty"`
	TenantID        string   `json:"-"`
	DocID           string   `json:"doc_id,omitempty"`
	ContextBudget   int      `json:"max_context_tokens,omitempty"`
	MaxAnswerTokens int      `json:"max_answer_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`

	Rerank           *bool `json:"rerank,omitempty"`
	IncludeCitations *bool `json:"include_citations,omitempty"`
	EnablePlanning   *bool `json:"enable_planning,omitempty"`
	EnableTools      *bool `json:"enable_tools,omitempty"`
	EnableFollowups  *bool `json:"enable_followups,omitempty"`
}

// Result 管道输出.
type Result struct {
	Query      string                `json:"query"`
	Answer     string                `json:"answer"`
	Context    string                `json:"context"`
	Candidates []RetrievalCandidate  `json:"results"`
	Reranked   []RetrievalCandidate  `json:"-"`
	Used       []RetrievalCandidate  `json:"-"`
	Citations  map[string][]Citation `json:"citations"`
	ToolUsed   ToolAction            `json:"tool_used,omitempty"`
	ToolOutput string                `json:"tool_output,omitempty"`
	FollowUps  []string              `json:"follow_ups"`
	Plan       *QueryPlan            `json:"plan,omitempty"`
	Usage      llm.Usage             `json:"usage"`
}

// Citation 引用条目.
type Citation struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
}

// Orchestrator 把检索、重排、上下文装配、工具路由和生成
// 串成一条问答管道.
//
// 失败语义分两类：协作方失败（嵌入、存储、生成调用）携带阶段名
// 中止整条管道；模型输出不合预期（规划/追问/工具选择解析失败）
// 只降级，不中止. 生成阶段永远执行，即便上下文为空.
type Orchestrator struct {
	config    PipelineConfig
	retriever Retriever
	embedder  embedding.Provider
	generator llm.Generator
	planner   *QueryPlanner
	lexical   *LexicalReranker
	semantic  *SemanticReranker
	builder   *ContextBuilder
	tools     *ToolRouter
	tracer    Tracer
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewOrchestrator 装配问答管道.
// tracer 为 nil 时使用 NoopTracer；collector 可以为 nil.
func NewOrchestrator(
	config PipelineConfig,
	retriever Retriever,
	embedder embedding.Provider,
	generator llm.Generator,
	tokenizer Tokenizer,
	tracer Tracer,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = NoopTracer{}
	}
	if tokenizer == nil {
		tokenizer = CharCounter{}
	}
	return &Orchestrator{
		config:    config,
		retriever: retriever,
		embedder:  embedder,
		generator: generator,
		planner:   NewQueryPlanner(generator, config.Model, logger),
		lexical:   NewLexicalReranker(DefaultLexicalConfig(), logger),
		semantic:  NewSemanticReranker(embedder, logger),
		builder:   NewContextBuilder(tokenizer, logger),
		tools:     NewToolRouter(generator, config.Model, logger),
		tracer:    tracer,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
}

// Answer 执行完整管道并返回结果.
func (o *Orchestrator) Answer(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Query == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "query must not be empty").
			WithHTTPStatus(400)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = o.config.DefaultTopK
	}
	budget := req.ContextBudget
	if budget <= 0 {
		budget = o.config.DefaultContextBudget
	}
	maxAnswerTokens := req.MaxAnswerTokens
	if maxAnswerTokens <= 0 {
		maxAnswerTokens = 300
	}
	// 显式传 0 是合法值（确定性生成），缺省才落回 0.2
	temperature := 0.2
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	rerank := boolOr(req.Rerank, true)
	enablePlanning := boolOr(req.EnablePlanning, o.config.EnablePlanning)
	enableTools := boolOr(req.EnableTools, o.config.EnableTools)
	enableFollowups := boolOr(req.EnableFollowups, o.config.EnableFollowups)

	o.metrics.ObserveQueryLength(len(req.Query))

	result := &Result{
		Query:     req.Query,
		ToolUsed:  ToolNone,
		FollowUps: []string{},
	}

	// 规划
	plannedQueries := []string{req.Query}
	if enablePlanning {
		plan, err := o.runPlanning(ctx, req)
		if err != nil {
			return nil, stageError(err, StagePlanning)
		}
		result.Plan = plan
		if len(plan.Queries) > 0 {
			plannedQueries = plan.Queries
		}
	}

	// 稠密检索
	candidates, err := o.runDenseRetrieval(ctx, plannedQueries, topK, req.TenantID, req.DocID)
	if err != nil {
		return nil, err
	}
	result.Candidates = candidates
	o.metrics.ObserveRetrieved(len(candidates))

	// 词法打分：只记录，不改变候选顺序
	o.runLexicalScoring(ctx, req.Query, candidates)

	// 语义重排
	reranked := candidates
	if rerank {
		reranked, err = o.runReranking(ctx, req.Query, candidates)
		if err != nil {
			return nil, stageError(err, StageReranking)
		}
	}
	result.Reranked = reranked
	o.metrics.ObserveReranked(len(reranked))

	// 上下文装配
	contextText, used := o.runContextBuilding(ctx, reranked, budget)
	result.Context = contextText
	result.Used = used
	o.metrics.ObserveContextLength(len(contextText))
	o.metrics.ObserveUsed(len(used))

	// 工具路由：仅在上下文非空时触发
	if enableTools && contextText != "" {
		toolUsed, toolOutput, err := o.runToolRouting(ctx, req.Query, contextText, used)
		if err != nil {
			return nil, stageError(err, StageToolRouting)
		}
		result.ToolUsed = toolUsed
		result.ToolOutput = toolOutput
	}

	// 生成
	answer, usage, err := o.runGeneration(ctx, req.Query, contextText,
		result.ToolUsed, result.ToolOutput, maxAnswerTokens, temperature)
	if err != nil {
		return nil, stageError(err, StageGeneration)
	}
	result.Answer = answer
	result.Usage = usage
	o.metrics.AddTokens("prompt", usage.PromptTokens)
	o.metrics.AddTokens("completion", usage.CompletionTokens)
	o.metrics.AddTokens("total", usage.TotalTokens)

	// 追问
	if enableFollowups {
		followups, err := o.runFollowups(ctx, req.Query, answer, contextText)
		if err != nil {
			return nil, stageError(err, StageFollowups)
		}
		result.FollowUps = followups
	}

	if boolOr(req.IncludeCitations, true) {
		result.Citations = buildCitations(used, reranked)
	}

	o.logger.Info("query completed",
		zap.Int("query_length", len(req.Query)),
		zap.Int("retrieved", len(candidates)),
		zap.Int("reranked", len(reranked)),
		zap.Int("used", len(used)),
		zap.String("tool", string(result.ToolUsed)),
		zap.Int("total_tokens", usage.TotalTokens))

	return result, nil
}

func (o *Orchestrator) runPlanning(ctx context.Context, req *Request) (*QueryPlan, error) {
	ctx, span := o.tracer.StartSpan(ctx, StagePlanning)
	defer span.End()
	start := time.Now()

	plan, err := o.planner.Plan(ctx, req.Query, req.DocID)
	o.metrics.ObserveStage(StagePlanning, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute("queries", len(plan.Queries))
	o.logger.Info("planning completed",
		zap.Strings("queries", plan.Queries), zap.String("doc_id", req.DocID))
	return plan, nil
}

// runDenseRetrieval 按规划顺序逐条查询索引，
// 用 (source, chunk_index) 去重，先到先得：
// 同一 chunk 被多条查询命中时保留首次命中的得分和位次.
func (o *Orchestrator) runDenseRetrieval(ctx context.Context, queries []string, topK int, tenantID, docID string) ([]RetrievalCandidate, error) {
	ctx, span := o.tracer.StartSpan(ctx, StageDenseRetrieval)
	defer span.End()
	span.SetAttribute("k", topK)
	start := time.Now()

	vectors, err := o.embedder.Embed(ctx, queries)
	if err != nil {
		span.RecordError(err)
		return nil, stageError(err, StageDenseRetrieval)
	}
	if len(vectors) != len(queries) {
		err := types.NewError(types.ErrEmbeddingUnavailable,
			fmt.Sprintf("expected %d query vectors, got %d", len(queries), len(vectors))).
			WithStage(StageDenseRetrieval)
		span.RecordError(err)
		return nil, err
	}

	seen := make(map[string]bool)
	candidates := make([]RetrievalCandidate, 0, topK*len(queries))
	for _, vec := range vectors {
		hits, err := o.retriever.Search(ctx, vec, topK, tenantID, docID)
		if err != nil {
			span.RecordError(err)
			return nil, stageError(err, StageDenseRetrieval)
		}
		for _, hit := range hits {
			key := hit.Chunk.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, hit)
		}
	}

	o.metrics.ObserveStage(StageDenseRetrieval, time.Since(start))
	span.SetAttribute("candidates", len(candidates))
	return candidates, nil
}

// runLexicalScoring 计算 BM25 分数用于观测，候选顺序保持稠密检索结果.
// 逐条 (chunk, score) 对写入 span 和日志.
func (o *Orchestrator) runLexicalScoring(ctx context.Context, query string, candidates []RetrievalCandidate) {
	_, span := o.tracer.StartSpan(ctx, StageBM25Retrieval)
	defer span.End()
	start := time.Now()

	scores := o.lexical.Scores(query, candidates)
	pairs := make([]string, len(scores))
	for i, score := range scores {
		pairs[i] = fmt.Sprintf("%s=%.4f", candidates[i].Chunk.Key(), score)
	}
	o.metrics.ObserveStage(StageBM25Retrieval, time.Since(start))
	span.SetAttribute("candidates", len(scores))
	span.SetAttribute("chunk_scores", strings.Join(pairs, " "))
	o.logger.Debug("lexical scores computed", zap.Strings("chunk_scores", pairs))
}

func (o *Orchestrator) runReranking(ctx context.Context, query string, candidates []RetrievalCandidate) ([]RetrievalCandidate, error) {
	ctx, span := o.tracer.StartSpan(ctx, StageReranking)
	defer span.End()
	start := time.Now()

	reranked, err := o.semantic.Rerank(ctx, query, candidates)
	o.metrics.ObserveStage(StageReranking, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute("candidates", len(reranked))
	return reranked, nil
}

func (o *Orchestrator) runContextBuilding(ctx context.Context, candidates []RetrievalCandidate, budget int) (string, []RetrievalCandidate) {
	_, span := o.tracer.StartSpan(ctx, StageContextBuilding)
	defer span.End()
	start := time.Now()

	contextText, used := o.builder.Build(candidates, budget)
	o.metrics.ObserveStage(StageContextBuilding, time.Since(start))
	span.SetAttribute("budget", budget)
	span.SetAttribute("used", len(used))
	return contextText, used
}

func (o *Orchestrator) runToolRouting(ctx context.Context, query, contextText string, used []RetrievalCandidate) (ToolAction, string, error) {
	ctx, span := o.tracer.StartSpan(ctx, StageToolRouting)
	defer span.End()
	start := time.Now()

	tool, err := o.tools.SelectTool(ctx, query, contextText, o.config.EnableDocActions)
	if err != nil {
		span.RecordError(err)
		o.metrics.ObserveStage(StageToolRouting, time.Since(start))
		return ToolNone, "", err
	}
	span.SetAttribute("tool", string(tool))
	if tool == ToolNone {
		o.metrics.ObserveStage(StageToolRouting, time.Since(start))
		return ToolNone, "", nil
	}

	usedChunks := make([]Chunk, len(used))
	for i, c := range used {
		usedChunks[i] = c.Chunk
	}
	output, err := o.tools.RunTool(ctx, tool, query, contextText, usedChunks)
	o.metrics.ObserveStage(StageToolRouting, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return ToolNone, "", err
	}
	o.logger.Info("tool executed",
		zap.String("tool", string(tool)), zap.Int("output_chars", len(output)))
	return tool, output, nil
}

func (o *Orchestrator) runGeneration(ctx context.Context, query, contextText string, tool ToolAction, toolOutput string, maxTokens int, temperature float64) (string, llm.Usage, error) {
	ctx, span := o.tracer.StartSpan(ctx, StageGeneration)
	defer span.End()
	start := time.Now()

	toolBlock := ""
	if tool != ToolNone && toolOutput != "" {
		toolBlock = fmt.Sprintf("\n\nTool output (%s):\n%s\n", tool, toolOutput)
	}

	resp, err := o.generator.Complete(ctx, &llm.CompletionRequest{
		Model: o.config.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are an enterprise RAG assistant."},
			{Role: llm.RoleUser, Content: fmt.Sprintf("%s%s\n\nQuestion: %s", contextText, toolBlock, query)},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	o.metrics.ObserveStage(StageGeneration, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return "", llm.Usage{}, err
	}
	span.SetAttribute("prompt_tokens", resp.Usage.PromptTokens)
	span.SetAttribute("completion_tokens", resp.Usage.CompletionTokens)
	return resp.Content, resp.Usage, nil
}

func (o *Orchestrator) runFollowups(ctx context.Context, query, answer, contextText string) ([]string, error) {
	ctx, span := o.tracer.StartSpan(ctx, StageFollowups)
	defer span.End()
	start := time.Now()

	followups, err := o.planner.Followups(ctx, query, answer, contextText)
	o.metrics.ObserveStage(StageFollowups, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute("count", len(followups))
	return followups, nil
}

// buildCitations used 为实际纳入上下文的引用，
// related 为重排后未纳入的剩余候选.
func buildCitations(used, reranked []RetrievalCandidate) map[string][]Citation {
	usedKeys := make(map[string]bool, len(used))
	usedCitations := make([]Citation, 0, len(used))
	for _, c := range used {
		usedKeys[c.Chunk.Key()] = true
		usedCitations = append(usedCitations, Citation{
			Source:     c.Chunk.Source,
			ChunkIndex: c.Chunk.ChunkIndex,
		})
	}
	related := make([]Citation, 0, len(reranked))
	for _, c := range reranked {
		if usedKeys[c.Chunk.Key()] {
			continue
		}
		related = append(related, Citation{
			Source:     c.Chunk.Source,
			ChunkIndex: c.Chunk.ChunkIndex,
		})
	}
	return map[string][]Citation{"used": usedCitations, "related": related}
}

// stageError 给协作方错误打上阶段标记.
func stageError(err error, stage string) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		if typed.Stage == "" {
			typed.Stage = stage
		}
		return typed
	}
	return types.NewError(types.ErrInternalError, err.Error()).
		WithCause(err).WithStage(stage)
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
