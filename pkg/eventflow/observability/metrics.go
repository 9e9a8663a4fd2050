package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "eventflow"

// MetricsRecorder records eventflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordProcessorExecution records one processor invocation.
	RecordProcessorExecution(ctx context.Context, processorID string, duration time.Duration, err error)

	// RecordChainRun records a chain run. outcome is one of completed,
	// closed, suspended or failed.
	RecordChainRun(ctx context.Context, outcome string, duration time.Duration)

	// RecordDispatch records a dispatch decision (sync or deferred).
	RecordDispatch(ctx context.Context, mode, priority string)

	// RecordTaskRun records the end of a task run.
	RecordTaskRun(ctx context.Context, taskType, state string, duration time.Duration)

	// RecordTaskItem records one processed task item.
	RecordTaskItem(ctx context.Context, taskType, state string)

	// RecordLedgerFailure records a failed ledger write.
	RecordLedgerFailure(ctx context.Context, taskType string)
}

type otelMetrics struct {
	processorExecutions metric.Int64Counter
	processorLatency    metric.Float64Histogram
	processorErrors     metric.Int64Counter
	chainRuns           metric.Int64Counter
	chainLatency        metric.Float64Histogram
	dispatches          metric.Int64Counter
	taskRuns            metric.Int64Counter
	taskLatency         metric.Float64Histogram
	taskItems           metric.Int64Counter
	ledgerFailures      metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter(meterName)
	m := &otelMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.processorExecutions, "eventflow.processor.executions", "Number of processor invocations"},
		{&m.processorErrors, "eventflow.processor.errors", "Number of failed processor invocations"},
		{&m.chainRuns, "eventflow.chain.runs", "Number of chain runs by outcome"},
		{&m.dispatches, "eventflow.dispatch.decisions", "Number of dispatch decisions by mode"},
		{&m.taskRuns, "eventflow.task.runs", "Number of task runs by final state"},
		{&m.taskItems, "eventflow.task.items", "Number of processed task items by outcome"},
		{&m.ledgerFailures, "eventflow.ledger.failures", "Number of failed ledger writes"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.processorLatency, "eventflow.processor.latency_ms", "Processor latency in milliseconds"},
		{&m.chainLatency, "eventflow.chain.latency_ms", "Chain run latency in milliseconds"},
		{&m.taskLatency, "eventflow.task.latency_ms", "Task run latency in milliseconds"},
	}
	for _, h := range histograms {
		hist, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("ms"))
		if err != nil {
			return nil, err
		}
		*h.dst = hist
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. If initialization fails it returns NoopMetrics.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func (m *otelMetrics) RecordProcessorExecution(ctx context.Context, processorID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("processor_id", processorID))
	m.processorExecutions.Add(ctx, 1, attrs)
	m.processorLatency.Record(ctx, ms(duration), attrs)
	if err != nil {
		m.processorErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordChainRun(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.chainRuns.Add(ctx, 1, attrs)
	m.chainLatency.Record(ctx, ms(duration), attrs)
}

func (m *otelMetrics) RecordDispatch(ctx context.Context, mode, priority string) {
	m.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("priority", priority),
	))
}

func (m *otelMetrics) RecordTaskRun(ctx context.Context, taskType, state string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("task_type", taskType),
		attribute.String("state", state),
	)
	m.taskRuns.Add(ctx, 1, attrs)
	m.taskLatency.Record(ctx, ms(duration), attrs)
}

func (m *otelMetrics) RecordTaskItem(ctx context.Context, taskType, state string) {
	m.taskItems.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_type", taskType),
		attribute.String("state", state),
	))
}

func (m *otelMetrics) RecordLedgerFailure(ctx context.Context, taskType string) {
	m.ledgerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("task_type", taskType)))
}
