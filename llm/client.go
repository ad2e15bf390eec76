package llm

import "context"

// Client is the interface for LLM providers.
type Client interface {
	// Stream makes an LLM call and sends chunks to the channel in arrival
	// order. The implementation closes the channel when streaming is
	// complete, including on error.
	Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error
}

// Message represents a chat message for the LLM.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCallInfo `json:"tool_calls,omitempty"`
}

// ToolCallInfo is a tool call attached to an assistant message.
type ToolCallInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON
}

// ToolSchema describes a tool for the LLM.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool choice values understood by all providers.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// Request is the input to an LLM call.
type Request struct {
	Model             string       `json:"model"`
	Messages          []Message    `json:"messages"`
	Tools             []ToolSchema `json:"tools,omitempty"`
	ToolChoice        string       `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool        `json:"parallel_tool_calls,omitempty"`
	SystemPrompt      string       `json:"system_prompt,omitempty"`
	MaxTokens         int          `json:"max_tokens,omitempty"`
	Temperature       *float64     `json:"temperature,omitempty"`
}

// ToolCallDelta is one streamed piece of a tool call. Deltas for the same
// call share an Index; the first carries the ID and Name.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamChunk is a single chunk from a streaming LLM call.
type StreamChunk struct {
	Delta         string         `json:"delta,omitempty"`
	ToolCallDelta *ToolCallDelta `json:"tool_call_delta,omitempty"`
	FinishReason  string         `json:"finish_reason,omitempty"`
	Done          bool           `json:"done,omitempty"`
	Error         error          `json:"-"`
}
