package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultHighWater is the backlog size at which a Sink logs that its
// consumer is falling behind.
const DefaultHighWater = 4096

// Recorder is the callback contract an engine writes into. Implementations
// must never block on the consumer.
type Recorder interface {
	Record(p Payload)
	RecordJSON(data []byte)
}

// Observer receives sink activity, e.g. for metrics. Methods are called
// outside the sink lock and must be safe for concurrent use.
type Observer interface {
	EventQueued(kind Kind)
	PayloadDropped(reason string)
}

// Sink is an unbounded FIFO of Events. Any number of goroutines may record
// into it; a single consumer drains it with Next until Close has been
// called and the backlog is empty.
type Sink struct {
	mu        sync.Mutex
	queue     []Event
	closed    bool
	ready     chan struct{}
	highWater int
	warned    bool

	log      zerolog.Logger
	observer Observer
}

// Compile-time check that *Sink implements Recorder.
var _ Recorder = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger used for dropped payloads.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sink) { s.log = l }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(s *Sink) { s.observer = o }
}

// WithHighWater sets the backlog warning threshold. Zero or less disables it.
func WithHighWater(n int) Option {
	return func(s *Sink) { s.highWater = n }
}

// New creates an empty, open Sink.
func New(opts ...Option) *Sink {
	s := &Sink{
		ready:     make(chan struct{}, 1),
		highWater: DefaultHighWater,
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record classifies p and enqueues the resulting events. Payloads that
// carry nothing actionable are dropped silently; payloads that fail to
// decode are logged and dropped. Record never returns an error.
func (s *Sink) Record(p Payload) {
	defer s.recoverPayload()

	events, err := Decode(p)
	if err != nil {
		s.drop("decode", err)
		return
	}
	s.enqueue(events)
}

// RecordJSON is Record for payloads that arrive as JSON, e.g. from an
// out-of-process engine.
func (s *Sink) RecordJSON(data []byte) {
	defer s.recoverPayload()

	events, err := DecodeJSON(data)
	if err != nil {
		s.drop("decode", err)
		return
	}
	s.enqueue(events)
}

// Close marks the end of the stream. Events already queued are still
// delivered. Close is idempotent.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

// Next returns the next event, blocking until one is queued. It returns
// io.EOF once the sink is closed and drained, or ctx.Err() if ctx is done
// first.
func (s *Sink) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			if len(s.queue) == 0 {
				s.warned = false
			}
			s.mu.Unlock()
			return ev, nil
		}
		if s.closed {
			s.mu.Unlock()
			return Event{}, io.EOF
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Len returns the number of queued events.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Sink) enqueue(events []Event) {
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.drop("closed", fmt.Errorf("record after close"))
		return
	}
	s.queue = append(s.queue, events...)
	backlog := len(s.queue)
	warn := s.highWater > 0 && backlog >= s.highWater && !s.warned
	if warn {
		s.warned = true
	}
	s.mu.Unlock()

	if warn {
		s.log.Warn().Int("backlog", backlog).Msg("event sink consumer is falling behind")
	}
	if s.observer != nil {
		for _, ev := range events {
			s.observer.EventQueued(ev.Kind)
		}
	}
	s.signal()
}

// signal wakes the consumer without blocking. One pending token is enough
// since Next re-checks the queue after every wake-up.
func (s *Sink) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Sink) drop(reason string, err error) {
	s.log.Warn().Err(err).Str("reason", reason).Msg("dropping callback payload")
	if s.observer != nil {
		s.observer.PayloadDropped(reason)
	}
}

func (s *Sink) recoverPayload() {
	if r := recover(); r != nil {
		s.drop("panic", fmt.Errorf("%v", r))
	}
}
