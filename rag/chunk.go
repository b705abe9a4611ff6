package rag

import "fmt"

// Chunk 一段已摄取的文本及其租户/文档来源与嵌入向量.
// ID 由元数据存储分配一次，单调递增且不可变，是索引与元数据之间唯一的关联句柄.
type Chunk struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	DocID      string    `json:"doc_id"`
	Source     string    `json:"source"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float64 `json:"embedding,omitempty"`
}

// Key 返回 (source, chunk_index) 去重键.
func (c Chunk) Key() string {
	return fmt.Sprintf("%s#%d", c.Source, c.ChunkIndex)
}

// Query 一次检索请求，仅在请求生命周期内存在.
type Query struct {
	Text          string `json:"text"`
	TopK          int    `json:"top_k"`
	TenantID      string `json:"tenant_id"`
	DocID         string `json:"doc_id,omitempty"`
	ContextBudget int    `json:"context_budget"`
}

// CandidateStage 标识候选产生于哪个检索阶段.
type CandidateStage string

const (
	StageDense    CandidateStage = "dense"
	StageLexical  CandidateStage = "lexical"
	StageSemantic CandidateStage = "semantic"
)

// RetrievalCandidate 管道内的临时候选值，从不持久化.
type RetrievalCandidate struct {
	Chunk Chunk          `json:"chunk"`
	Score float64        `json:"score"`
	Stage CandidateStage `json:"stage"`
}
