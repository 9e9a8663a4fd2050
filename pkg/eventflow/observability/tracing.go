package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("eventflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartChainSpan starts a span covering one chain run.
	StartChainSpan(ctx context.Context, envelopeID, kind, eventType string) (context.Context, trace.Span)

	// StartProcessorSpan starts a child span for one processor.
	StartProcessorSpan(ctx context.Context, processorID string, order int) (context.Context, trace.Span)

	// StartTaskSpan starts a span covering one task run.
	StartTaskSpan(ctx context.Context, taskID, taskType string) (context.Context, trace.Span)

	// StartItemSpan starts a child span for one task item.
	StartItemSpan(ctx context.Context, itemRef string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, recording err when non-nil.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the span in ctx.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager using the global OTel tracer provider.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartChainSpan(ctx context.Context, envelopeID, kind, eventType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventflow.chain",
		trace.WithAttributes(
			attribute.String("envelope.id", envelopeID),
			attribute.String("envelope.kind", kind),
			attribute.String("envelope.type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartProcessorSpan(ctx context.Context, processorID string, order int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventflow.processor."+processorID,
		trace.WithAttributes(
			attribute.String("processor.id", processorID),
			attribute.Int("processor.order", order),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartTaskSpan(ctx context.Context, taskID, taskType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventflow.task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.type", taskType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartItemSpan(ctx context.Context, itemRef string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventflow.task.item",
		trace.WithAttributes(attribute.String("item.ref", itemRef)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
