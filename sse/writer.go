package sse

import (
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
)

// ErrNoFlusher is returned when the ResponseWriter cannot stream.
var ErrNoFlusher = errors.New("response writer does not support flushing")

// Writer streams raw text fragments over a text/event-stream response.
// Fragments are written as-is, without SSE framing, so a client reading
// the body sees the concatenated markup.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewWriter wraps w. It fails if w cannot be flushed.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// Start sends the streaming headers. It is called implicitly by the first
// write.
func (s *Writer) Start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // nginx
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// WriteFragment writes one fragment and flushes it.
func (s *Writer) WriteFragment(frag string) error {
	s.Start()
	if frag == "" {
		return nil
	}
	if _, err := io.WriteString(s.w, frag); err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WriteError writes a terminal <error> fragment. The message is escaped so
// it cannot break the surrounding markup.
func (s *Writer) WriteError(msg string) error {
	return s.WriteFragment("<error>" + html.EscapeString(msg) + "</error>")
}
