package chat

import (
	"strings"
	"time"
)

// Role discriminates the message variants stored in a conversation transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolStatus is the outcome flag carried by tool result messages.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// QueryTypeSPARQL tags tool results whose artifact is an executed SPARQL query.
const QueryTypeSPARQL = "sparql"

// ToolCall is a structured request emitted by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Usage is the token accounting reported for a single model invocation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Message is one entry of a transcript. Which fields are meaningful depends on Role:
//   - user: ID, Content
//   - assistant: ID, Content (may be empty), ToolCalls, Usage
//   - tool: ID, ToolCallID, Content, Status, Artifact, QueryType
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Status     ToolStatus `json:"status,omitempty"`
	Artifact   string     `json:"artifact,omitempty"`
	QueryType  string     `json:"query_type,omitempty"`
}

func NewUserMessage(id, text string) Message {
	return Message{ID: id, Role: RoleUser, Content: text}
}

func NewAssistantMessage(id, text string, calls []ToolCall, usage *Usage) Message {
	return Message{ID: id, Role: RoleAssistant, Content: text, ToolCalls: calls, Usage: usage}
}

func NewToolResultMessage(id, toolCallID, content string, status ToolStatus) Message {
	if status == "" {
		status = ToolStatusSuccess
	}
	return Message{ID: id, Role: RoleTool, ToolCallID: toolCallID, Content: content, Status: status}
}

// HasContent reports whether the message carries user-visible text.
func (m Message) HasContent() bool {
	return strings.TrimSpace(m.Content) != ""
}

func (m Message) IsToolCalling() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// IsTurnBoundary reports whether the message closes the tool traffic that precedes an answer.
func (m Message) IsTurnBoundary() bool {
	switch m.Role {
	case RoleUser:
		return true
	case RoleAssistant:
		return m.HasContent()
	case RoleTool:
		return false
	}
	return false
}

// Conversation is a persisted transcript addressed by id.
type Conversation struct {
	ID        string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}
