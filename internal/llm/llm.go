// Package llm defines the model-provider contract the workflows call, the
// tool registry an agent may use and a reference agent loop that resolves
// read-only tools itself and hands write calls back for approval.
package llm

import (
	"context"
	"encoding/json"

	"github.com/hitlflow/hitlflow/internal/domain"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// UserMessage creates a message authored by the user.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage creates a message authored by the model.
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ToolResult creates the message that answers a tool call.
func ToolResult(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Args decodes the call arguments into a generic map. Malformed or empty
// arguments decode to an empty map.
func (c ToolCall) Args() map[string]any {
	args := map[string]any{}
	if len(c.Arguments) > 0 {
		_ = json.Unmarshal(c.Arguments, &args)
	}
	return args
}

// ToolSpec advertises a tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request is one provider call.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// Response carries either content or tool calls, plus the usage of the call.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     domain.TokenUsage
}

// Provider is a chat-completion backend.
type Provider interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Response, error)

// Chat calls f.
func (f ProviderFunc) Chat(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }
