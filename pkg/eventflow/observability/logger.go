// Package observability provides structured logging, metrics and tracing
// for eventflow chains, dispatch and tasks.
//
// Logging uses slog. Metrics and tracing use OpenTelemetry and have no-op
// implementations for when they are disabled. Every log helper accepts a
// nil logger.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger returns a logger carrying envelope context.
func EnrichLogger(logger *slog.Logger, envelopeID, kind string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("envelope_id", envelopeID),
		slog.String("kind", kind),
	)
}

// TaskLogger returns a logger carrying task context.
func TaskLogger(logger *slog.Logger, taskID, taskType string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("task_id", taskID),
		slog.String("task_type", taskType),
	)
}

// LogChainStart logs the start of a chain run.
func LogChainStart(logger *slog.Logger, envelopeID, eventType string, processors int) {
	if logger == nil {
		return
	}
	logger.Info("chain starting",
		slog.String("envelope_id", envelopeID),
		slog.String("event_type", eventType),
		slog.Int("processors", processors),
	)
}

// LogChainComplete logs a chain run that finished without error.
func LogChainComplete(logger *slog.Logger, envelopeID string, durationMs float64, executed int, closed, suspended bool) {
	if logger == nil {
		return
	}
	logger.Info("chain completed",
		slog.String("envelope_id", envelopeID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("processors_executed", executed),
		slog.Bool("closed", closed),
		slog.Bool("suspended", suspended),
	)
}

// LogChainError logs a failed chain run.
func LogChainError(logger *slog.Logger, envelopeID string, err error, durationMs float64, processorID string) {
	if logger == nil {
		return
	}
	logger.Error("chain failed",
		slog.String("envelope_id", envelopeID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("processor_id", processorID),
	)
}

// LogProcessorStart logs processor invocation.
func LogProcessorStart(logger *slog.Logger, processorID string, order int) {
	if logger == nil {
		return
	}
	logger.Debug("processor starting",
		slog.String("processor_id", processorID),
		slog.Int("order", order),
	)
}

// LogProcessorComplete logs a processor that returned normally.
func LogProcessorComplete(logger *slog.Logger, processorID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("processor completed",
		slog.String("processor_id", processorID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogProcessorError logs a processor failure.
func LogProcessorError(logger *slog.Logger, processorID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("processor failed",
		slog.String("processor_id", processorID),
		slog.String("error", err.Error()),
	)
}

// LogSuspended logs a chain suspension and its resume cursor.
func LogSuspended(logger *slog.Logger, envelopeID string, cursor int) {
	if logger == nil {
		return
	}
	logger.Info("chain suspended",
		slog.String("envelope_id", envelopeID),
		slog.Int("cursor", cursor),
	)
}

// LogDispatch logs the dispatch decision for an envelope.
func LogDispatch(logger *slog.Logger, envelopeID, mode, priority string) {
	if logger == nil {
		return
	}
	logger.Debug("envelope dispatched",
		slog.String("envelope_id", envelopeID),
		slog.String("mode", mode),
		slog.String("priority", priority),
	)
}

// LogPersistError logs a failed continuation store write.
func LogPersistError(logger *slog.Logger, envelopeID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("continuation store write failed",
		slog.String("envelope_id", envelopeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// The task helpers below expect a logger from TaskLogger, which already
// carries the task's ID and type.

// LogTaskStart logs the start of a task run.
func LogTaskStart(logger *slog.Logger, trigger string) {
	if logger == nil {
		return
	}
	logger.Info("task starting", slog.String("trigger", trigger))
}

// LogTaskComplete logs the terminal or suspended state of a task run.
func LogTaskComplete(logger *slog.Logger, state string, counter int64, count *int64, durationMs float64) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.String("state", state),
		slog.Int64("counter", counter),
		slog.Float64("duration_ms", durationMs),
	}
	if count != nil {
		attrs = append(attrs, slog.Int64("count", *count))
	}
	logger.Info("task finished", attrs...)
}

// LogTaskError logs a task-level failure.
func LogTaskError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("task failed", slog.String("error", err.Error()))
}

// LogItemError logs a failed item. Item failures never abort a task.
func LogItemError(logger *slog.Logger, itemRef string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("task item failed",
		slog.String("item", itemRef),
		slog.String("error", err.Error()),
	)
}

// LogLedgerError logs a ledger write failure.
func LogLedgerError(logger *slog.Logger, itemRef string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("ledger write failed",
		slog.String("item", itemRef),
		slog.String("error", err.Error()),
	)
}

// TimedOperation returns a function reporting elapsed milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
