// Package server HTTP 接入层：路由、中间件和请求准入.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/internal/ratelimit"
	"github.com/BaSui01/ragflow/llm/embedding"
	"github.com/BaSui01/ragflow/rag"
)

// Pipeline 问答管道接口，由 rag.Orchestrator 实现.
type Pipeline interface {
	Answer(ctx context.Context, req *rag.Request) (*rag.Result, error)
}

// Ingestor 摄取接口，由 rag.VectorEngine 实现.
type Ingestor interface {
	AddChunks(ctx context.Context, chunks []rag.Chunk, embeddings [][]float64) ([]int64, error)
	IndexSize() int
}

// Server RAGFlow HTTP 服务.
type Server struct {
	cfg      *config.Config
	pipeline Pipeline
	ingestor Ingestor
	embedder embedding.Provider
	splitter *rag.Splitter
	limiter  ratelimit.Limiter
	metrics  *metrics.Collector
	logger   *zap.Logger

	httpServer *http.Server
}

// New 创建 HTTP 服务.
func New(
	cfg *config.Config,
	pipeline Pipeline,
	ingestor Ingestor,
	embedder embedding.Provider,
	limiter ratelimit.Limiter,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		ingestor: ingestor,
		embedder: embedder,
		splitter: rag.NewSplitter(rag.ChunkingConfig{
			ChunkSize:    cfg.Pipeline.ChunkSize,
			ChunkOverlap: cfg.Pipeline.ChunkOverlap,
		}, logger),
		limiter: limiter,
		metrics: collector,
		logger:  logger.With(zap.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("POST /api/ingest/text", s.handleIngestText)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := Chain(mux,
		Recovery(logger),
		RequestID(),
		BrowserID(),
		RequestLogger(logger),
	)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler 返回完整的 HTTP handler，测试用.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start 阻塞式启动监听.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
