package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// StepEndSentinel is the raw callback value an engine records when the
// current step's output is complete.
const StepEndSentinel = "<<STEP_END>>"

// ErrUnknownSentinel is returned by Decode for a sentinel other than StepEndSentinel.
var ErrUnknownSentinel = errors.New("unknown sentinel")

// Payload is a raw callback payload as recorded by an engine. Exactly one of
// Sentinel or Message is expected to be set; anything else decodes to nothing.
type Payload struct {
	Sentinel string        `json:"sentinel,omitempty"`
	Message  *MessageChunk `json:"message,omitempty"`
}

// MessageChunk is one streamed piece of a model message.
type MessageChunk struct {
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallChunk `json:"tool_calls,omitempty"`
}

// ToolCallChunk is a streamed tool call delta. The first delta of a call
// carries its Name; later deltas carry Arguments fragments.
type ToolCallChunk struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StepEndPayload returns the end-of-step sentinel payload.
func StepEndPayload() Payload {
	return Payload{Sentinel: StepEndSentinel}
}

// ToolCallPayload wraps a single tool call delta in a payload.
func ToolCallPayload(tc ToolCallChunk) Payload {
	return Payload{Message: &MessageChunk{ToolCalls: []ToolCallChunk{tc}}}
}

// ContentPayload wraps a plain text delta in a payload.
func ContentPayload(content string) Payload {
	return Payload{Message: &MessageChunk{Content: content}}
}

// Decode classifies a payload into the events it stands for, in order.
//
// A payload with neither a sentinel, a tool name nor an arguments fragment
// yields no events and no error. Only the first tool call of a chunk is
// considered. A chunk carrying both a name and a fragment yields a start
// followed by the fragment.
func Decode(p Payload) ([]Event, error) {
	if p.Sentinel != "" {
		if p.Sentinel != StepEndSentinel {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSentinel, p.Sentinel)
		}
		return []Event{StepEnd()}, nil
	}
	if p.Message == nil || len(p.Message.ToolCalls) == 0 {
		return nil, nil
	}

	tc := p.Message.ToolCalls[0]
	var events []Event
	if tc.Name != "" {
		events = append(events, ToolStart(tc.Name))
	}
	if tc.Arguments != "" {
		events = append(events, ToolArguments(tc.Arguments))
	}
	return events, nil
}

// DecodeJSON parses a JSON payload and classifies it. A bare JSON string is
// treated as a sentinel.
func DecodeJSON(data []byte) ([]Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var p Payload
	if data[0] == '"' {
		if err := json.Unmarshal(data, &p.Sentinel); err != nil {
			return nil, fmt.Errorf("parse sentinel: %w", err)
		}
		return Decode(p)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return Decode(p)
}
