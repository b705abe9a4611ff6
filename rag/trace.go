package rag

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer 为管道各阶段开启观测 span.
// 管道不关心后端：OTLP、日志还是丢弃由实现决定.
type Tracer interface {
	// StartSpan 开启一个命名 span，返回携带 span 的 ctx 和句柄.
	StartSpan(ctx context.Context, name string) (context.Context, SpanHandle)
}

// SpanHandle 单个 span 的写入句柄.
type SpanHandle interface {
	// SetAttribute 记录键值属性.
	SetAttribute(key string, value any)
	// RecordError 标记 span 失败.
	RecordError(err error)
	// End 结束 span，必须恰好调用一次.
	End()
}

// NoopTracer 丢弃全部 span，观测关闭时使用.
type NoopTracer struct{}

func (NoopTracer) StartSpan(ctx context.Context, name string) (context.Context, SpanHandle) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttribute(key string, value any) {}
func (noopSpan) RecordError(err error)              {}
func (noopSpan) End()                               {}

// OTelTracer 基于 OpenTelemetry 的 Tracer 实现.
type OTelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTelTracer 创建 OTel tracer，instrumentation 名固定为管道包路径.
func NewOTelTracer() *OTelTracer {
	return &OTelTracer{tracer: otel.Tracer("github.com/BaSui01/ragflow/rag")}
}

func (t *OTelTracer) StartSpan(ctx context.Context, name string) (context.Context, SpanHandle) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, "unsupported"))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.span.End()
}
