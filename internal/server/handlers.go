package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/types"
)

// errorBody 统一错误响应.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Stage string `json:"stage,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var typed *types.Error
	if errors.As(err, &typed) {
		body.Error = typed.Message
		body.Code = string(typed.Code)
		body.Stage = typed.Stage
	}
	s.writeJSON(w, types.HTTPStatusFor(err), body)
}

// clientKey 限流与租户键：browser_id 优先，其次会话头，最后来源 IP.
func clientKey(r *http.Request) string {
	if id := BrowserIDFrom(r.Context()); id != "" {
		return id
	}
	if sid := r.Header.Get("X-Session-ID"); sid != "" {
		return sid
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleQuery POST /api/query 执行完整问答管道.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.metrics.IncRequests("/api/query")

	var req rag.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.IncErrors("/api/query")
		s.writeError(w, types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithHTTPStatus(http.StatusBadRequest))
		return
	}
	if err := validateQueryRequest(&req); err != nil {
		s.metrics.IncErrors("/api/query")
		s.writeError(w, err)
		return
	}

	key := clientKey(r)
	if err := s.limiter.Check(r.Context(), "query", key,
		s.cfg.RateLimit.QueryLimit, s.cfg.RateLimit.Window); err != nil {
		s.metrics.IncErrors("/api/query")
		s.writeError(w, err)
		return
	}
	req.TenantID = key

	result, err := s.pipeline.Answer(r.Context(), &req)
	if err != nil {
		s.metrics.IncErrors("/api/query")
		s.logger.Error("query failed",
			zap.String("request_id", RequestIDFrom(r.Context())), zap.Error(err))
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// validateQueryRequest 校验请求参数范围.
func validateQueryRequest(req *rag.Request) error {
	invalid := func(msg string) error {
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(http.StatusBadRequest)
	}
	if strings.TrimSpace(req.Query) == "" {
		return invalid("query must not be empty")
	}
	if req.TopK != 0 && (req.TopK < 1 || req.TopK > 50) {
		return invalid("k must be between 1 and 50")
	}
	if req.ContextBudget != 0 && (req.ContextBudget < 200 || req.ContextBudget > 6000) {
		return invalid("max_context_tokens must be between 200 and 6000")
	}
	if req.MaxAnswerTokens != 0 && (req.MaxAnswerTokens < 50 || req.MaxAnswerTokens > 1000) {
		return invalid("max_answer_tokens must be between 50 and 1000")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 1) {
		return invalid("temperature must be between 0 and 1")
	}
	return nil
}

// ingestTextRequest POST /api/ingest/text 请求体.
type ingestTextRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	DocID  string `json:"doc_id,omitempty"`
}

// ingestTextResponse 摄取结果.
type ingestTextResponse struct {
	DocID     string `json:"doc_id"`
	Chunks    int    `json:"chunks"`
	IndexSize int    `json:"index_size"`
}

// handleIngestText POST /api/ingest/text 分块、嵌入并写入向量引擎.
func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	s.metrics.IncRequests("/api/ingest/text")

	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.IncErrors("/api/ingest/text")
		s.writeError(w, types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithHTTPStatus(http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.metrics.IncErrors("/api/ingest/text")
		s.writeError(w, types.NewError(types.ErrInvalidRequest, "text must not be empty").
			WithHTTPStatus(http.StatusBadRequest))
		return
	}
	if req.Source == "" {
		req.Source = "inline"
	}
	if req.DocID == "" {
		req.DocID = uuid.NewString()
	}

	key := clientKey(r)
	if err := s.limiter.Check(r.Context(), "upload", key,
		s.cfg.RateLimit.UploadLimit, s.cfg.RateLimit.Window); err != nil {
		s.metrics.IncErrors("/api/ingest/text")
		s.writeError(w, err)
		return
	}

	contents := s.splitter.Split(req.Text)
	if len(contents) == 0 {
		s.metrics.IncErrors("/api/ingest/text")
		s.writeError(w, types.NewError(types.ErrInvalidRequest, "text produced no chunks").
			WithHTTPStatus(http.StatusBadRequest))
		return
	}

	embeddings, err := s.embedder.Embed(r.Context(), contents)
	if err != nil {
		s.metrics.IncErrors("/api/ingest/text")
		s.writeError(w, err)
		return
	}

	chunks := make([]rag.Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = rag.Chunk{
			TenantID:   key,
			DocID:      req.DocID,
			Source:     req.Source,
			ChunkIndex: i,
			Content:    content,
		}
	}

	ids, err := s.ingestor.AddChunks(r.Context(), chunks, embeddings)
	if err != nil {
		s.metrics.IncErrors("/api/ingest/text")
		s.logger.Error("ingest failed",
			zap.String("doc_id", req.DocID),
			zap.Int("stored", len(ids)),
			zap.Error(err))
		s.writeError(w, err)
		return
	}

	s.logger.Info("document ingested",
		zap.String("doc_id", req.DocID),
		zap.String("source", req.Source),
		zap.Int("chunks", len(ids)))

	s.writeJSON(w, http.StatusOK, ingestTextResponse{
		DocID:     req.DocID,
		Chunks:    len(ids),
		IndexSize: s.ingestor.IndexSize(),
	})
}

// handleHealth GET /health 存活探针.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"index_size": s.ingestor.IndexSize(),
	})
}
