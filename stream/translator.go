// Package stream turns an engine's push-style callbacks into a pull-style
// sequence of text fragments describing the steps the engine takes.
package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stepstream/agent"
	"stepstream/metrics"
	"stepstream/sink"
	"stepstream/tracing"
)

// Fragment markup.
const (
	StepOpen      = "<step><step_name>"
	StepNameClose = "</step_name>"
	StepClose     = "</step>"
)

// UnavailableMessage is the only fragment produced when no engine is configured.
const UnavailableMessage = "Agent is not available. Check the server logs and the environment configuration."

var (
	// ErrConsumed is yielded when a sequence is ranged over a second time.
	ErrConsumed = errors.New("stream already consumed")
	// ErrEngineFailed wraps the engine's error at the end of a sequence.
	ErrEngineFailed = errors.New("engine failed")
	// ErrUnavailable is reported by InitError when no engine was built.
	ErrUnavailable = errors.New("engine unavailable")
)

// Translator runs an engine per request and translates the events it
// records into fragments.
type Translator struct {
	engine   agent.Engine
	initErr  error
	log      zerolog.Logger
	traces   *tracing.Store
	sinkOpts []sink.Option
}

// Option configures a Translator.
type Option func(*Translator)

// WithLogger sets the translator logger. The sink gets the same logger
// unless WithSinkOptions overrides it.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Translator) { t.log = l }
}

// WithTraceStore stores a trace for every execution.
func WithTraceStore(s *tracing.Store) Option {
	return func(t *Translator) { t.traces = s }
}

// WithSinkOptions adds options applied to every sink the translator creates.
func WithSinkOptions(opts ...sink.Option) Option {
	return func(t *Translator) { t.sinkOpts = append(t.sinkOpts, opts...) }
}

// New creates a translator around a ready engine.
func New(engine agent.Engine, opts ...Option) *Translator {
	t := &Translator{engine: engine, log: zerolog.Nop()}
	for _, o := range opts {
		o(t)
	}
	if engine == nil && t.initErr == nil {
		t.initErr = ErrUnavailable
	}
	t.sinkOpts = append([]sink.Option{
		sink.WithLogger(t.log),
		sink.WithObserver(metrics.SinkObserver{}),
	}, t.sinkOpts...)
	return t
}

// Unavailable creates a translator whose engine failed to initialize.
func Unavailable(initErr error, opts ...Option) *Translator {
	if initErr == nil {
		initErr = ErrUnavailable
	} else if !errors.Is(initErr, ErrUnavailable) {
		initErr = fmt.Errorf("%w: %w", ErrUnavailable, initErr)
	}
	t := New(nil, opts...)
	t.initErr = initErr
	return t
}

// Available reports whether an engine is configured.
func (t *Translator) Available() bool { return t.engine != nil }

// InitError returns why the engine is unavailable, or nil.
func (t *Translator) InitError() error {
	if t.engine != nil {
		return nil
	}
	return t.initErr
}

// Execute runs the engine on content with a fresh sink.
func (t *Translator) Execute(ctx context.Context, content string) iter.Seq2[string, error] {
	return t.run(ctx, content, nil)
}

// Run runs the engine on content, recording into s. s must be fresh and is
// closed when the engine returns.
func (t *Translator) Run(ctx context.Context, content string, s *sink.Sink) iter.Seq2[string, error] {
	return t.run(ctx, content, s)
}

// run builds the lazy, single-pass sequence. Nothing starts until it is
// ranged over.
func (t *Translator) run(ctx context.Context, content string, s *sink.Sink) iter.Seq2[string, error] {
	var consumed atomic.Bool
	return func(yield func(string, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield("", ErrConsumed)
			return
		}
		if t.engine == nil {
			t.log.Warn().Err(t.initErr).Msg("execution requested without an engine")
			yield(UnavailableMessage, nil)
			return
		}
		if s == nil {
			s = sink.New(t.sinkOpts...)
		}
		t.stream(ctx, content, s, yield)
	}
}

func (t *Translator) stream(parent context.Context, content string, s *sink.Sink, yield func(string, error) bool) {
	runID := uuid.NewString()
	log := t.log.With().Str("run_id", runID).Logger()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	ctx = agent.WithRunID(ctx, runID)

	var tr *tracing.Trace
	if t.traces != nil {
		tr = tracing.NewTrace(runID, TransportFromContext(parent), content)
		ctx = tracing.WithTrace(ctx, tr)
		t.traces.Put(tr)
	}

	start := time.Now()
	metrics.RecordStreamStart()
	log.Info().Int("input_length", len(content)).Msg("execution started")

	var (
		result *agent.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer s.Close()
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("engine panic: %v", r)
			}
		}()
		result, runErr = t.engine.Invoke(ctx, content, s)
	}()

	fragments := 0
	stopped := false
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			break
		}
		frag, ok := t.translate(log, ev)
		if !ok {
			continue
		}
		fragments++
		metrics.RecordFragment(ev.Kind.String())
		if !yield(frag, nil) {
			stopped = true
			break
		}
	}

	// The consumer went away or the caller cancelled; either way the
	// engine has nobody to report to.
	if stopped || parent.Err() != nil {
		cancel()
	}
	<-done

	var final error
	status := "ok"
	switch {
	case stopped:
		status = "cancelled"
		final = context.Canceled
	case parent.Err() != nil:
		status = "cancelled"
		final = parent.Err()
	case runErr != nil:
		status = "error"
		final = fmt.Errorf("%w: %w", ErrEngineFailed, runErr)
		metrics.RecordEngineFailure()
	}

	elapsed := time.Since(start)
	metrics.RecordStreamEnd(status, elapsed.Seconds())
	if tr != nil {
		tr.SetOutput("fragments", fragments)
		tr.SetOutput("status", status)
		if result != nil {
			tr.SetOutput("answer", result.Answer)
			tr.SetOutput("tools_used", result.ToolsUsed)
		}
		tr.Finish(final)
	}

	ev := log.Info()
	if status == "error" {
		ev = log.Error().Err(runErr)
	}
	ev.Str("status", status).
		Int("fragments", fragments).
		Dur("took", elapsed).
		Msg("execution finished")

	if !stopped && final != nil {
		yield("", final)
	}
}

// translate maps one event to its fragment. A panic while translating
// drops the event.
func (t *Translator) translate(log zerolog.Logger, ev sink.Event) (frag string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Stringer("kind", ev.Kind).Msg("dropping event")
			frag, ok = "", false
		}
	}()

	switch ev.Kind {
	case sink.KindToolStart:
		return StepOpen + ev.ToolName + StepNameClose, true
	case sink.KindToolArguments:
		return ev.Fragment, true
	case sink.KindStepEnd:
		return StepClose, true
	default:
		log.Warn().Int("kind", int(ev.Kind)).Msg("skipping unknown event kind")
		return "", false
	}
}

// Collect ranges over seq and joins its fragments. It returns the first
// error yielded.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var sb strings.Builder
	for frag, err := range seq {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(frag)
	}
	return sb.String(), nil
}

type transportKey struct{}

// WithTransport tags ctx with the transport serving the execution ("http", "ws").
func WithTransport(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, transportKey{}, name)
}

// TransportFromContext returns the transport name, or "direct".
func TransportFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(transportKey{}).(string); ok {
		return name
	}
	return "direct"
}
