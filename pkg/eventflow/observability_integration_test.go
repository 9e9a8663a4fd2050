package eventflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// testLogHandler captures log records as JSON lines.
type testLogHandler struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (h *testLogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{"level": r.Level.String(), "msg": r.Message}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return json.NewEncoder(&h.buf).Encode(data)
}

func (h *testLogHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *testLogHandler) WithGroup(string) slog.Handler      { return h }

func (h *testLogHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var msgs []string
	for _, line := range bytes.Split(h.buf.Bytes(), []byte("\n")) {
		var m map[string]any
		if len(line) > 0 && json.Unmarshal(line, &m) == nil {
			msgs = append(msgs, m["msg"].(string))
		}
	}
	return msgs
}

// recordingMetrics counts calls by name.
type recordingMetrics struct {
	observability.NoopMetrics
	mu        sync.Mutex
	processor map[string]int
	errors    int
	chains    []string
	dispatch  []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{processor: make(map[string]int)}
}

func (m *recordingMetrics) RecordProcessorExecution(_ context.Context, id string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processor[id]++
	if err != nil {
		m.errors++
	}
}

func (m *recordingMetrics) RecordChainRun(_ context.Context, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains = append(m.chains, outcome)
}

func (m *recordingMetrics) RecordDispatch(_ context.Context, mode, priority string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch = append(m.dispatch, mode+"/"+priority)
}

// recordingSpans records the spans a chain starts.
type recordingSpans struct {
	observability.NoopSpanManager
	names  []string
	errs   []error
	events []string
}

func (s *recordingSpans) StartChainSpan(ctx context.Context, _, _, eventType string) (context.Context, trace.Span) {
	s.names = append(s.names, "chain."+eventType)
	return ctx, noop.Span{}
}

func (s *recordingSpans) StartProcessorSpan(ctx context.Context, id string, _ int) (context.Context, trace.Span) {
	s.names = append(s.names, "processor."+id)
	return ctx, noop.Span{}
}

func (s *recordingSpans) EndSpanWithError(_ trace.Span, err error) {
	s.errs = append(s.errs, err)
}

func (s *recordingSpans) AddSpanEvent(_ context.Context, name string, _ ...attribute.KeyValue) {
	s.events = append(s.events, name)
}

func TestChain_Observability(t *testing.T) {
	h := &testLogHandler{}
	metrics := newRecordingMetrics()
	spans := &recordingSpans{}
	boom := errors.New("boom")

	reg := newTestRegistry(t,
		trackingProcessor("a", 0, nil),
		failingProcessor("b", 10, boom),
	)
	chain := NewChain(reg, WithLogger(slog.New(h)), WithMetrics(metrics), WithTracing(spans))

	_, err := chain.Run(context.Background(), newUserEnv(t, "ann"))
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"chain.CREATE", "processor.a", "processor.b"}, spans.names)
	require.Len(t, spans.errs, 3)
	assert.NoError(t, spans.errs[0])
	assert.ErrorIs(t, spans.errs[1], boom)
	assert.ErrorIs(t, spans.errs[2], boom, "chain span ends with the chain error")

	assert.Equal(t, map[string]int{"a": 1, "b": 1}, metrics.processor)
	assert.Equal(t, 1, metrics.errors)
	assert.Equal(t, []string{"error"}, metrics.chains)

	msgs := h.messages()
	assert.Contains(t, msgs, "chain starting")
	assert.Contains(t, msgs, "chain failed")
	assert.Empty(t, spans.events)
}

func TestChain_SuspensionSpanEvent(t *testing.T) {
	spans := &recordingSpans{}
	reg := newTestRegistry(t,
		suspendingProcessor("wait", 0, nil),
		trackingProcessor("after", 10, nil),
	)
	chain := NewChain(reg, WithTracing(spans))

	ec, err := chain.Run(context.Background(), newUserEnv(t, "ann"))
	require.NoError(t, err)
	assert.True(t, ec.IsSuspended())

	assert.Equal(t, []string{"chain.CREATE", "processor.wait"}, spans.names)
	assert.Equal(t, []string{"suspended"}, spans.events)
}

func TestDispatcher_RecordsDecision(t *testing.T) {
	metrics := newRecordingMetrics()
	chain := NewChain(newTestRegistry(t, votingProcessor("low", 0, event.PriorityLow, nil)),
		WithContinuationStore(checkpoint.NewMemoryStore()), WithMetrics(metrics))
	d := NewDispatcher(chain)

	_, err := d.Process(context.Background(), newUserEnv(t, "ann"))
	require.NoError(t, err)
	_, err = d.Process(context.Background(), newUserEnv(t, "bob", event.WithPriority(event.PriorityImmediate)))
	require.NoError(t, err)

	assert.Equal(t, []string{"deferred/LOW", "sync/IMMEDIATE"}, metrics.dispatch)
	assert.Equal(t, []string{"completed"}, metrics.chains)
}
