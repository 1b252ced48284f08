package llm

import (
	"context"
	"encoding/json"
)

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one entry of a conversation. Slice order is conversation
// order: tool messages must directly follow the assistant message whose
// ToolCalls requested them.
type ChatMessage struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content"`
	Name       string        `json:"name,omitempty"`         // tool name, for RoleTool
	ToolCallID string        `json:"tool_call_id,omitempty"` // for RoleTool
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`   // for RoleAssistant
}

// ToolCallRef is a finalized tool invocation attached to an assistant message.
type ToolCallRef struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// MarshalJSON encodes the call in the chat-completions shape the backend expects.
func (r ToolCallRef) MarshalJSON() ([]byte, error) {
	var w wireToolCall
	w.ID = r.ID
	w.Type = "function"
	w.Function.Name = r.Name
	w.Function.Arguments = r.ArgumentsJSON
	return json.Marshal(w)
}

// UnmarshalJSON accepts the chat-completions shape written by MarshalJSON.
func (r *ToolCallRef) UnmarshalJSON(data []byte) error {
	var w wireToolCall
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.Name = w.Function.Name
	r.ArgumentsJSON = w.Function.Arguments
	return nil
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// Request represents a single streaming model call.
type Request struct {
	Messages       []ChatMessage
	SystemPrompt   string
	ModelType      string
	AllowWebSearch bool
	Tools          []ToolSpec
}

// Transport opens streaming model calls.
type Transport interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

func SystemText(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text}
}

func UserText(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

func AssistantText(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text}
}

// AssistantWithCalls builds the assistant message for a round that requested tools.
func AssistantWithCalls(text string, calls []ToolCallRef) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolResultMessage builds the tool-role response for call id.
func ToolResultMessage(id, name, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, Name: name, ToolCallID: id}
}

// withSystemPrompt returns messages with the system prompt prepended unless
// the conversation already starts with a system message.
func withSystemPrompt(system string, messages []ChatMessage) []ChatMessage {
	if system == "" || (len(messages) > 0 && messages[0].Role == RoleSystem) {
		return messages
	}
	out := make([]ChatMessage, 0, len(messages)+1)
	out = append(out, SystemText(system))
	return append(out, messages...)
}
