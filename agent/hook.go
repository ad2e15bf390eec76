package agent

import (
	"context"
)

// ModelCallFunc is the signature for the "next" function in the model call chain.
type ModelCallFunc func(ctx context.Context, msgs []Message) (*ModelResponse, error)

// ToolCallFunc is the signature for the "next" function in the tool call chain.
type ToolCallFunc func(ctx context.Context, call ToolCall) (*ToolResult, error)

// ModelResponse holds the result of one streamed LLM call.
type ModelResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// Hook defines the interface for agent middleware (onion ring pattern).
// Hooks at lower indices wrap hooks at higher ones.
type Hook interface {
	// Name returns the hook identifier.
	Name() string

	// WrapModelCall wraps each LLM call.
	WrapModelCall(ctx context.Context, msgs []Message, next ModelCallFunc) (*ModelResponse, error)

	// WrapToolCall wraps each tool execution.
	WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error)
}

// BaseHook provides pass-through defaults for all hook methods.
// Embed this to only override the methods you need.
type BaseHook struct{}

func (BaseHook) Name() string { return "base" }

func (BaseHook) WrapModelCall(ctx context.Context, msgs []Message, next ModelCallFunc) (*ModelResponse, error) {
	return next(ctx, msgs)
}

func (BaseHook) WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error) {
	return next(ctx, call)
}
