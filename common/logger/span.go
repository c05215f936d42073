package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "classroom.app/discussion"

// SpanContext pairs a span with the context that carries it.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan starts a child span of ctx. The discussion fields already set
// with WithLogFields are copied onto the span as attributes, so traces and
// logs can be joined on the same keys.
//
//	sc := logger.StartSpan(ctx, "discussion.repository.fetch_roots")
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	if attrs := spanAttributes(GetLogFields(ctx)); len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError records err on the span and marks the span failed.
func (sc *SpanContext) RecordError(err error) {
	if sc.span == nil || err == nil {
		return
	}
	sc.span.RecordError(err)
	sc.span.SetStatus(codes.Error, err.Error())
}

func spanAttributes(f LogFields) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if f.DiscussionID != nil {
		attrs = append(attrs, attribute.Int64("discussion.id", *f.DiscussionID))
	}
	if f.RootID != nil {
		attrs = append(attrs, attribute.Int64("discussion.root_id", *f.RootID))
	}
	if f.CommentID != nil {
		attrs = append(attrs, attribute.Int64("discussion.comment_id", *f.CommentID))
	}
	if f.Scope != nil {
		attrs = append(attrs, attribute.String("discussion.scope", *f.Scope))
	}
	if f.Topic != nil {
		attrs = append(attrs, attribute.String("messaging.destination.name", *f.Topic))
	}
	return attrs
}
