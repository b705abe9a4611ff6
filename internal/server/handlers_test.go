package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/internal/ratelimit"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/types"
)

type fakePipeline struct {
	lastReq *rag.Request
	result  *rag.Result
	err     error
}

func (f *fakePipeline) Answer(ctx context.Context, req *rag.Request) (*rag.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeIngestor struct {
	chunks []rag.Chunk
	err    error
}

func (f *fakeIngestor) AddChunks(ctx context.Context, chunks []rag.Chunk, embeddings [][]float64) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.chunks = append(f.chunks, chunks...)
	ids := make([]int64, len(chunks))
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids, nil
}

func (f *fakeIngestor) IndexSize() int { return len(f.chunks) }

type fakeServerEmbedder struct{ err error }

func (f *fakeServerEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func (f *fakeServerEmbedder) Name() string    { return "fake" }
func (f *fakeServerEmbedder) Dimensions() int { return 2 }

func newTestServer(t *testing.T, pipeline Pipeline, ingestor Ingestor) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit.QueryLimit = 100
	cfg.RateLimit.UploadLimit = 100
	cfg.RateLimit.Window = time.Hour
	return New(cfg, pipeline, ingestor, &fakeServerEmbedder{},
		ratelimit.NewMemoryLimiter(), nil, zap.NewNop())
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleQuery_OK(t *testing.T) {
	pipeline := &fakePipeline{result: &rag.Result{
		Query:     "q",
		Answer:    "the answer",
		FollowUps: []string{},
	}}
	srv := newTestServer(t, pipeline, &fakeIngestor{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/query", map[string]any{"query": "q"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result rag.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "the answer", result.Answer)

	// 租户键透传进管道请求
	require.NotNil(t, pipeline.lastReq)
	assert.NotEmpty(t, pipeline.lastReq.TenantID)
}

func TestHandleQuery_EmptyQueryRejected(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, &fakeIngestor{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/query", map[string]any{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_ParamRanges(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{result: &rag.Result{}}, &fakeIngestor{})

	cases := []map[string]any{
		{"query": "q", "k": 51},
		{"query": "q", "k": -1},
		{"query": "q", "max_context_tokens": 100},
		{"query": "q", "max_context_tokens": 7000},
		{"query": "q", "max_answer_tokens": 10},
		{"query": "q", "temperature": 1.5},
	}
	for _, body := range cases {
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/query", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %v", body)
	}
}

func TestHandleQuery_InvalidJSON(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, &fakeIngestor{})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_PipelineErrorMapped(t *testing.T) {
	pipeline := &fakePipeline{err: types.NewError(types.ErrEmbeddingUnavailable, "provider down").
		WithStage("dense_retrieval").WithHTTPStatus(http.StatusBadGateway)}
	srv := newTestServer(t, pipeline, &fakeIngestor{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/query", map[string]any{"query": "q"})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrEmbeddingUnavailable), body.Code)
	assert.Equal(t, "dense_retrieval", body.Stage)
}

func TestHandleQuery_RateLimited(t *testing.T) {
	pipeline := &fakePipeline{result: &rag.Result{}}
	srv := newTestServer(t, pipeline, &fakeIngestor{})
	srv.cfg.RateLimit.QueryLimit = 1

	// 同一 browser_id 的两次请求共享限流键
	send := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(map[string]any{"query": "q"}))
		req := httptest.NewRequest(http.MethodPost, "/api/query", &buf)
		req.AddCookie(&http.Cookie{Name: "browser_id", Value: "same-client"})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, http.StatusTooManyRequests, send().Code)
}

func TestHandleIngestText_OK(t *testing.T) {
	ingestor := &fakeIngestor{}
	srv := newTestServer(t, &fakePipeline{}, ingestor)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/ingest/text", map[string]any{
		"text":   "hello world",
		"source": "greeting.txt",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ingestTextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.DocID)
	assert.Equal(t, 1, resp.Chunks)

	require.Len(t, ingestor.chunks, 1)
	assert.Equal(t, "greeting.txt", ingestor.chunks[0].Source)
	assert.Equal(t, "hello world", ingestor.chunks[0].Content)
	assert.NotEmpty(t, ingestor.chunks[0].TenantID)
}

func TestHandleIngestText_EmptyTextRejected(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, &fakeIngestor{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/ingest/text", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngestText_EmbedderFailure(t *testing.T) {
	cfg := config.Default()
	srv := New(cfg, &fakePipeline{}, &fakeIngestor{},
		&fakeServerEmbedder{err: types.NewError(types.ErrEmbeddingUnavailable, "down").WithHTTPStatus(http.StatusBadGateway)},
		ratelimit.NewMemoryLimiter(), nil, zap.NewNop())

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/ingest/text", map[string]any{"text": "x"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, &fakeIngestor{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestBrowserIDCookieIssued(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, &fakeIngestor{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == "browser_id" && c.Value != "" {
			found = true
		}
	}
	assert.True(t, found, "browser_id cookie should be set")
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, &fakeIngestor{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}
