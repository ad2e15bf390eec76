package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LoggingHook logs every model and tool call at debug level, tagged with
// the run ID.
type LoggingHook struct {
	BaseHook
	log zerolog.Logger
}

// NewLoggingHook creates a logging hook writing to l.
func NewLoggingHook(l zerolog.Logger) *LoggingHook {
	return &LoggingHook{log: l}
}

func (h *LoggingHook) Name() string { return "logging" }

func (h *LoggingHook) WrapModelCall(ctx context.Context, msgs []Message, next ModelCallFunc) (*ModelResponse, error) {
	start := time.Now()
	resp, err := next(ctx, msgs)

	ev := h.log.Debug()
	if err != nil {
		ev = h.log.Warn().Err(err)
	}
	ev = ev.Str("run_id", RunIDFromContext(ctx)).
		Int("messages", len(msgs)).
		Dur("took", time.Since(start))
	if resp != nil {
		ev = ev.Int("tool_calls", len(resp.ToolCalls)).Int("content_length", len(resp.Content))
	}
	ev.Msg("model call")
	return resp, err
}

func (h *LoggingHook) WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error) {
	start := time.Now()
	result, err := next(ctx, call)

	ev := h.log.Debug()
	if err != nil {
		ev = h.log.Warn().Err(err)
	} else if result != nil && result.Error != "" {
		ev = h.log.Warn().Str("tool_error", result.Error)
	}
	ev.Str("run_id", RunIDFromContext(ctx)).
		Str("tool", call.Name).
		Str("tool_call_id", call.ID).
		Dur("took", time.Since(start)).
		Msg("tool call")
	return result, err
}
