package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"stepstream/agent"
)

// Span represents a single timed operation within a trace.
type Span struct {
	Name       string         `json:"name"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	DurationMs float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Trace collects all spans for a single streamed execution.
// Implements agent.TraceRecorder.
type Trace struct {
	mu         sync.Mutex
	TraceID    string         `json:"trace_id"`
	Transport  string         `json:"transport"` // "http" or "ws"
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	DurationMs float64        `json:"duration_ms"`
	Spans      []Span         `json:"spans"`
	Input      string         `json:"input"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Compile-time check that *Trace implements agent.TraceRecorder.
var _ agent.TraceRecorder = (*Trace)(nil)

// NewTrace creates a trace for one execution. An empty id gets a fresh UUID.
func NewTrace(id, transport, input string) *Trace {
	if id == "" {
		id = uuid.NewString()
	}
	return &Trace{
		TraceID:   id,
		Transport: transport,
		StartTime: time.Now(),
		Spans:     []Span{},
		Input:     truncate(input, 2000),
		Output:    map[string]any{},
	}
}

// SpanRecorder is returned by StartSpan. Implements agent.SpanHandle.
type SpanRecorder struct {
	trace *Trace
	span  Span
}

// Compile-time check that *SpanRecorder implements agent.SpanHandle.
var _ agent.SpanHandle = (*SpanRecorder)(nil)

// StartSpan begins recording a timed span.
func (t *Trace) StartSpan(name string) agent.SpanHandle {
	return &SpanRecorder{
		trace: t,
		span:  Span{Name: name, StartTime: time.Now(), Metadata: map[string]any{}},
	}
}

// RecordEvent records an instantaneous event.
func (t *Trace) RecordEvent(name string, metadata map[string]any) {
	now := time.Now()
	t.addSpan(Span{Name: name, StartTime: now, EndTime: now, Metadata: metadata})
}

// SetOutput stores a key in the trace output.
func (t *Trace) SetOutput(key string, value any) {
	t.mu.Lock()
	t.Output[key] = value
	t.mu.Unlock()
}

// Set adds a metadata key-value pair.
func (sr *SpanRecorder) Set(key string, value any) agent.SpanHandle {
	sr.span.Metadata[key] = value
	return sr
}

// End finalizes the span and appends it to the trace.
func (sr *SpanRecorder) End() {
	sr.span.EndTime = time.Now()
	sr.span.DurationMs = float64(sr.span.EndTime.Sub(sr.span.StartTime)) / float64(time.Millisecond)
	sr.trace.addSpan(sr.span)
}

func (t *Trace) addSpan(s Span) {
	t.mu.Lock()
	t.Spans = append(t.Spans, s)
	t.mu.Unlock()
}

// Finish finalizes the trace with an optional error.
func (t *Trace) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.EndTime = time.Now()
	t.DurationMs = float64(t.EndTime.Sub(t.StartTime)) / float64(time.Millisecond)
	if err != nil {
		t.Error = err.Error()
	}
}

// Snapshot returns a copy that is safe to serialize while the trace is
// still being written to.
func (t *Trace) Snapshot() *Trace {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := &Trace{
		TraceID:    t.TraceID,
		Transport:  t.Transport,
		StartTime:  t.StartTime,
		EndTime:    t.EndTime,
		DurationMs: t.DurationMs,
		Spans:      append([]Span(nil), t.Spans...),
		Input:      t.Input,
		Output:     make(map[string]any, len(t.Output)),
		Error:      t.Error,
	}
	for k, v := range t.Output {
		out.Output[k] = v
	}
	return out
}

// --- Store ----------------------------------------------------------------

// DefaultStoreSize is the number of traces kept when no size is configured.
const DefaultStoreSize = 200

// Store holds recent traces in memory with bounded capacity.
type Store struct {
	mu     sync.RWMutex
	traces map[string]*Trace
	order  []string // FIFO order for eviction
	max    int
}

// NewStore creates a store that retains up to maxSize traces.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultStoreSize
	}
	return &Store{
		traces: make(map[string]*Trace),
		order:  make([]string, 0, maxSize),
		max:    maxSize,
	}
}

// Put stores a trace, evicting the oldest if at capacity.
func (s *Store) Put(t *Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.traces[t.TraceID]; ok {
		s.traces[t.TraceID] = t
		return
	}
	if len(s.order) >= s.max {
		oldest := s.order[0]
		delete(s.traces, oldest)
		s.order = s.order[1:]
	}
	s.traces[t.TraceID] = t
	s.order = append(s.order, t.TraceID)
}

// Get returns a trace by ID, or nil if not found.
func (s *Store) Get(traceID string) *Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traces[traceID]
}

// List returns the most recent traces first, up to limit.
func (s *Store) List(limit int) []*Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]*Trace, limit)
	for i := 0; i < limit; i++ {
		result[i] = s.traces[s.order[n-1-i]]
	}
	return result
}

// Len returns the number of stored traces.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// --- Context helpers ------------------------------------------------------

// WithTrace stores the trace in context via agent.WithTraceRecorder so the
// engine sees the same key.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return agent.WithTraceRecorder(ctx, t)
}

// FromContext extracts the concrete *Trace from context.
func FromContext(ctx context.Context) *Trace {
	t, _ := agent.TraceFromContext(ctx).(*Trace)
	return t
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
