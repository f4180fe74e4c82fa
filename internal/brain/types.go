// Package brain provides the language-model interface for CortexVoice:
// chat history, turn types, and the completion client with tool calling.
package brain

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrModelRequest = errors.New("model request failed")
	ErrEmptyChoice  = errors.New("model returned no choices")
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function call requested by the model, in wire form.
// Arguments stays a raw JSON string until dispatch so that unparsable
// arguments can be turned into an error result instead of losing the call.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Turn is one entry in the conversation history.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`  // assistant turns requesting tools
	ToolCallID string     `json:"toolCallId,omitempty"` // tool result turns
	Timestamp  time.Time  `json:"timestamp"`
}

// Response is the model's reply to one submission: either final text or a
// batch of tool calls (possibly with interstitial text).
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// HasToolCalls reports whether the model requested tool execution.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}
