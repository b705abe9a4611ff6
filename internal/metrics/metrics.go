// Package metrics Prometheus 指标采集.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 管道与 HTTP 层共享的指标集合.
// nil Collector 的所有方法都是安全空操作，测试里可以直接传 nil.
type Collector struct {
	requestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	tokensTotal   *prometheus.CounterVec

	queryLength    prometheus.Histogram
	contextLength  prometheus.Histogram
	retrievedCount prometheus.Histogram
	rerankedCount  prometheus.Histogram
	usedCount      prometheus.Histogram
}

// New 在给定 registerer 上注册全部指标.
// reg 为 nil 时使用默认 registry.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_requests_total",
			Help: "Total requests by endpoint.",
		}, []string{"endpoint"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_errors_total",
			Help: "Total errors by endpoint.",
		}, []string{"endpoint"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_latency_seconds",
			Help:    "Per-stage latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_tokens_total",
			Help: "LLM token usage by type.",
		}, []string{"type"}),
		queryLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_query_length_chars",
			Help:    "Query length in characters.",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10),
		}),
		contextLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_context_length_chars",
			Help:    "Assembled context length in characters.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 12),
		}),
		retrievedCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_retrieved_count",
			Help:    "Dense retrieval candidate count.",
			Buckets: prometheus.LinearBuckets(0, 5, 11),
		}),
		rerankedCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_reranked_count",
			Help:    "Reranked candidate count.",
			Buckets: prometheus.LinearBuckets(0, 5, 11),
		}),
		usedCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_used_count",
			Help:    "Chunks packed into context.",
			Buckets: prometheus.LinearBuckets(0, 2, 11),
		}),
	}
}

// IncRequests 端点请求计数.
func (c *Collector) IncRequests(endpoint string) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(endpoint).Inc()
}

// IncErrors 端点错误计数.
func (c *Collector) IncErrors(endpoint string) {
	if c == nil {
		return
	}
	c.errorsTotal.WithLabelValues(endpoint).Inc()
}

// ObserveStage 记录单个阶段耗时.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.latency.WithLabelValues(stage).Observe(d.Seconds())
}

// AddTokens 累加 token 用量，type 取 prompt/completion/total.
func (c *Collector) AddTokens(tokenType string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.tokensTotal.WithLabelValues(tokenType).Add(float64(n))
}

// ObserveQueryLength 记录查询字符长度.
func (c *Collector) ObserveQueryLength(n int) {
	if c == nil {
		return
	}
	c.queryLength.Observe(float64(n))
}

// ObserveContextLength 记录上下文字符长度.
func (c *Collector) ObserveContextLength(n int) {
	if c == nil {
		return
	}
	c.contextLength.Observe(float64(n))
}

// ObserveRetrieved 记录稠密检索候选数.
func (c *Collector) ObserveRetrieved(n int) {
	if c == nil {
		return
	}
	c.retrievedCount.Observe(float64(n))
}

// ObserveReranked 记录重排后候选数.
func (c *Collector) ObserveReranked(n int) {
	if c == nil {
		return
	}
	c.rerankedCount.Observe(float64(n))
}

// ObserveUsed 记录纳入上下文的 chunk 数.
func (c *Collector) ObserveUsed(n int) {
	if c == nil {
		return
	}
	c.usedCount.Observe(float64(n))
}
