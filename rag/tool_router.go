package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/llm"
)

// ToolAction 工具动作，封闭集合.
type ToolAction string

const (
	ToolNone               ToolAction = "none"
	ToolSummarize          ToolAction = "summarize"
	ToolExtractFacts       ToolAction = "extract_facts"
	ToolCompare            ToolAction = "compare"
	ToolGenerateChecklist  ToolAction = "generate_checklist"
	ToolDraftEmail         ToolAction = "draft_email"
	ToolFindTables         ToolAction = "find_tables"
	ToolListDefinitions    ToolAction = "list_definitions"
	ToolCitationsBySection ToolAction = "citations_by_section"
)

// allTools 路由器可选的全部动作，顺序即提示词中的呈现顺序.
var allTools = []ToolAction{
	ToolSummarize,
	ToolExtractFacts,
	ToolCompare,
	ToolGenerateChecklist,
	ToolDraftEmail,
	ToolFindTables,
	ToolListDefinitions,
	ToolCitationsBySection,
	ToolNone,
}

// docActionTools 文档动作：本地确定性执行，不经过生成模型.
var docActionTools = map[ToolAction]bool{
	ToolFindTables:         true,
	ToolListDefinitions:    true,
	ToolCitationsBySection: true,
}

// IsDocAction 判断是否为本地文档动作.
func (t ToolAction) IsDocAction() bool {
	return docActionTools[t]
}

// llmToolSystemPrompts LLM 工具的系统提示词.
var llmToolSystemPrompts = map[ToolAction]string{
	ToolSummarize:         "Summarize the context succinctly for the query. Keep citations.",
	ToolExtractFacts:      "Extract factual statements from the context with citations.",
	ToolCompare:           "Compare the key entities or options in the context. Use citations.",
	ToolGenerateChecklist: "Generate a checklist based on the context. Use citations.",
	ToolDraftEmail:        "Draft a professional email using the context. Cite sources if relevant.",
}

// ToolRouter 在封闭动作集内选择并执行工具.
//
// 路由结果永远落在集合内：模型返回无法解析或集合外的名字时
// 一律降级为 none，路由本身不会让请求失败.
// 文档动作在本地执行且不会中止管道；LLM 工具失败才向上传播.
type ToolRouter struct {
	generator llm.Generator
	model     string
	logger    *zap.Logger
}

// NewToolRouter 创建工具路由器.
func NewToolRouter(generator llm.Generator, model string, logger *zap.Logger) *ToolRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolRouter{
		generator: generator,
		model:     model,
		logger:    logger.With(zap.String("component", "tool_router")),
	}
}

type toolChoice struct {
	Tool   string `json:"tool"`
	Reason string `json:"reason"`
}

// SelectTool 基于查询和上下文预览选择动作.
// enableDocActions=false 时文档动作从候选集中剔除.
// 生成调用失败返回 error；解析失败或返回集合外名字时降级为 none.
func (r *ToolRouter) SelectTool(ctx context.Context, query, contextText string, enableDocActions bool) (ToolAction, error) {
	allowed := make([]ToolAction, 0, len(allTools))
	for _, t := range allTools {
		if !enableDocActions && t.IsDocAction() {
			continue
		}
		allowed = append(allowed, t)
	}

	names := make([]string, len(allowed))
	for i, t := range allowed {
		names[i] = string(t)
	}

	prompt := fmt.Sprintf(
		"Choose the best tool for the user query based on the context. "+
			"Return JSON with keys: tool, reason. "+
			"Allowed tools: %s.\n\nQuery: %s\n\nContext (preview):\n%s",
		strings.Join(names, ", "), query, contextPreview(contextText, 1200))

	resp, err := r.generator.Complete(ctx, &llm.CompletionRequest{
		Model: r.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a strict tool router."},
			{Role: llm.RoleUser, Content: prompt},
		},
		ResponseFormat: llm.FormatJSON,
		Temperature:    0,
		MaxTokens:      120,
	})
	if err != nil {
		return ToolNone, err
	}

	var choice toolChoice
	if err := json.Unmarshal([]byte(resp.Content), &choice); err != nil {
		r.logger.Warn("tool choice parse failed, degrading to none", zap.Error(err))
		return ToolNone, nil
	}

	selected := ToolAction(choice.Tool)
	for _, t := range allowed {
		if selected == t {
			return selected, nil
		}
	}
	r.logger.Warn("tool outside allowed set, degrading to none", zap.String("tool", choice.Tool))
	return ToolNone, nil
}

// RunTool 执行选中的动作并返回工具输出.
// 文档动作本地执行，结果确定；LLM 工具走一次生成调用.
// tool 为 none 时返回空串.
func (r *ToolRouter) RunTool(ctx context.Context, tool ToolAction, query, contextText string, usedChunks []Chunk) (string, error) {
	switch tool {
	case ToolNone:
		return "", nil
	case ToolFindTables:
		return findTables(contextText), nil
	case ToolListDefinitions:
		return listDefinitions(contextText), nil
	case ToolCitationsBySection:
		return citationsBySection(usedChunks), nil
	}
	return r.runLLMTool(ctx, tool, query, contextText)
}

func (r *ToolRouter) runLLMTool(ctx context.Context, tool ToolAction, query, contextText string) (string, error) {
	system, ok := llmToolSystemPrompts[tool]
	if !ok {
		system = "You are a helpful assistant."
	}
	resp, err := r.generator.Complete(ctx, &llm.CompletionRequest{
		Model: r.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Context:\n%s\n\nTask: %s", contextText, query)},
		},
		MaxTokens:   400,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// findTables 收集上下文里的表格行（含 | 或制表符的连续行段）.
func findTables(contextText string) string {
	var blocks []string
	var current []string
	for _, line := range strings.Split(contextText, "\n") {
		if strings.Contains(line, "|") || strings.Contains(line, "\t") {
			current = append(current, line)
			continue
		}
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	if len(blocks) == 0 {
		return "No tables found in the provided context."
	}
	return strings.Join(blocks, "\n\n")
}

var definitionLine = regexp.MustCompile(`^\s*([A-Za-z0-9][^:]{1,60}):\s+(.+)$`)

// listDefinitions 提取 "Term: definition" 形式的行.
func listDefinitions(contextText string) string {
	var results []string
	for _, line := range strings.Split(contextText, "\n") {
		m := definitionLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		results = append(results, fmt.Sprintf("- %s: %s",
			strings.TrimSpace(m[1]), strings.TrimSpace(m[2])))
	}
	if len(results) == 0 {
		return "No definition-style lines found in the provided context."
	}
	return strings.Join(results, "\n")
}

// citationsBySection 列出实际纳入上下文的 chunk 引用及片段.
func citationsBySection(usedChunks []Chunk) string {
	if len(usedChunks) == 0 {
		return "No citations available."
	}
	entries := make([]string, 0, len(usedChunks))
	for _, c := range usedChunks {
		snippet := truncateRunes(c.Content, 160)
		snippet = strings.ReplaceAll(snippet, "\n", " ")
		entries = append(entries, fmt.Sprintf("[%s] %s", c.Key(), snippet))
	}
	return strings.Join(entries, "\n")
}

// contextPreview 截断上下文用于提示词，limit 以 rune 计.
func contextPreview(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return truncateRunes(text, limit) + "\n...[truncated]"
}

// truncateRunes 在 rune 边界截断，避免切断多字节字符.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
