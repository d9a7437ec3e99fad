// Package ai defines the provider-facing data model: conversation messages,
// tool descriptors, streaming chunks, and the Provider contract.
//
// The types here are deliberately provider-neutral. Each provider adapter
// under pkg/ai/providers maps them onto its own wire format and maps the wire
// stream back onto Chunk values.
package ai

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the assistant. Arguments is
// the raw JSON string exactly as the model produced it; it is parsed only at
// the execution boundary, so malformed output survives long enough to be
// reported and persisted.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry in a conversation.
//
// Content may be empty on an assistant message that carries only tool calls.
// ToolCallID is set only on role=tool messages and names the assistant tool
// call being answered: for every ToolCall.ID emitted by an assistant message,
// exactly one tool message with that id must appear before the next assistant
// message. ReasoningContent is opaque provider metadata (extended-thinking
// text, encrypted reasoning blobs) preserved across save/load.
type Message struct {
	Role             Role       `json:"role"`
	Content          string     `json:"content"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`

	// Timestamp is unix milliseconds at creation. Informational only;
	// never sent to providers.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// SystemMessage returns a role=system message with the given text.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: nowMillis()}
}

// UserMessage returns a role=user message with the given text.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: nowMillis()}
}

// ToolMessage returns a role=tool message answering the given call id.
func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content, Timestamp: nowMillis()}
}

// Clone returns a deep copy; the ToolCalls slice is not shared.
func (m Message) Clone() Message {
	out := m
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	return out
}

// ByteLen reports the serialized weight of the message: content, reasoning,
// and tool-call names and arguments. Used by the token estimator.
func (m Message) ByteLen() int {
	n := len(m.Content) + len(m.ReasoningContent) + len(m.ToolCallID)
	for _, tc := range m.ToolCalls {
		n += len(tc.ID) + len(tc.Name) + len(tc.Arguments)
	}
	return n
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Usage is a provider's token accounting for one response. InputTokens
// excludes CachedTokens: adapters that receive a combined prompt count
// subtract the cached portion before reporting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedTokens int `json:"cached_tokens,omitempty"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CachedTokens += o.CachedTokens
}

// Total returns the sum of all token counts.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens + u.CachedTokens }

// ToolDefinition describes a callable tool to the model. Parameters is a
// JSON-Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
