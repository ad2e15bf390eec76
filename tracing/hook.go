package tracing

import (
	"context"

	"stepstream/agent"
)

// Hook implements agent.Hook. It wraps model calls and tool calls with
// timed spans on the trace found in the context.
type Hook struct {
	agent.BaseHook
}

// NewHook creates a new tracing hook.
func NewHook() *Hook {
	return &Hook{}
}

func (h *Hook) Name() string { return "tracing" }

func (h *Hook) WrapModelCall(ctx context.Context, msgs []agent.Message, next agent.ModelCallFunc) (*agent.ModelResponse, error) {
	tr := agent.TraceFromContext(ctx)
	if tr == nil {
		return next(ctx, msgs)
	}

	s := tr.StartSpan("llm.call")
	s.Set("message_count", len(msgs))
	resp, err := next(ctx, msgs)
	if err != nil {
		s.Set("error", err.Error())
	} else {
		s.Set("content_length", len(resp.Content))
		s.Set("tool_calls_count", len(resp.ToolCalls))
		s.Set("content", truncate(resp.Content, 500))
		if len(resp.ToolCalls) > 0 {
			names := make([]string, len(resp.ToolCalls))
			for i, tc := range resp.ToolCalls {
				names[i] = tc.Name
			}
			s.Set("tool_calls", names)
		}
	}
	s.End()
	return resp, err
}

func (h *Hook) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	tr := agent.TraceFromContext(ctx)
	if tr == nil {
		return next(ctx, call)
	}

	s := tr.StartSpan("tool.call")
	s.Set("tool_name", call.Name)
	s.Set("tool_call_id", call.ID)
	s.Set("tool_args", call.RawArgs)
	result, err := next(ctx, call)
	if err != nil {
		s.Set("error", err.Error())
	} else if result != nil {
		s.Set("output_length", len(result.Output))
		s.Set("output", truncate(result.Output, 500))
		if result.Error != "" {
			s.Set("tool_error", result.Error)
		}
	}
	s.End()
	return result, err
}
