package agent

import (
	"fmt"
)

// Message represents a chat message in the conversation.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set when Role == "tool"
	Name       string     `json:"name,omitempty"`         // tool name when Role == "tool"
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Args    map[string]any `json:"args"`
	RawArgs string         `json:"-"` // raw JSON string from LLM
}

// ToolResult holds the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ValidRole returns true if r is a known message role.
func ValidRole(r string) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Human creates a user message.
func Human(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AI creates an assistant message with optional tool calls.
//
//	AI("Sure, I can help.")  → plain response
//	AI("", tc1)              → tool-calling response
func AI(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// ToolMsg creates a tool result message.
//
//	ToolMsg("call_123", "add", "4")
func ToolMsg(toolCallID, name, output string) Message {
	return Message{Role: RoleTool, Content: output, ToolCallID: toolCallID, Name: name}
}

// Messages is an ordered list of messages with builder methods.
type Messages []Message

// Human appends a user message and returns the chain.
func (m Messages) Human(content string) Messages {
	return append(m, Human(content))
}

// AI appends an assistant message and returns the chain.
func (m Messages) AI(content string, toolCalls ...ToolCall) Messages {
	return append(m, AI(content, toolCalls...))
}

// Tool appends a tool result message and returns the chain.
func (m Messages) Tool(toolCallID, name, output string) Messages {
	return append(m, ToolMsg(toolCallID, name, output))
}

// LastAssistantContent returns the content of the most recent assistant
// message that has any.
func (m Messages) LastAssistantContent() string {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i].Role == RoleAssistant && m[i].Content != "" {
			return m[i].Content
		}
	}
	return ""
}

// Validate checks that the message chain is well-formed:
//   - All roles are valid
//   - Tool messages have ToolCallID and Name set
//   - Assistant messages with ToolCalls have non-empty call IDs and names
//   - No empty content (except assistant and tool messages)
func (m Messages) Validate() error {
	for i, msg := range m {
		if !ValidRole(msg.Role) {
			return fmt.Errorf("message[%d]: unknown role %q", i, msg.Role)
		}

		switch msg.Role {
		case RoleTool:
			if msg.ToolCallID == "" {
				return fmt.Errorf("message[%d]: tool message missing tool_call_id", i)
			}
			if msg.Name == "" {
				return fmt.Errorf("message[%d]: tool message missing name", i)
			}

		case RoleAssistant:
			for j, tc := range msg.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("message[%d].tool_calls[%d]: missing ID", i, j)
				}
				if tc.Name == "" {
					return fmt.Errorf("message[%d].tool_calls[%d]: missing name", i, j)
				}
			}

		case RoleUser, RoleSystem:
			if msg.Content == "" {
				return fmt.Errorf("message[%d]: %s message has empty content", i, msg.Role)
			}
		}
	}
	return nil
}

