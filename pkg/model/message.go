package model

import (
	"fmt"
)

// Role identifies the speaker of a message in the in-flight request list.
type Role string

const (
	RoleSystem     Role = "system"
	RoleHuman      Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool"
)

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// TokenUsage tracks token consumption across model calls
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	LLMCalls     int `json:"llm_calls"`
}

// Add accumulates another usage sample into the receiver
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.LLMCalls += other.LLMCalls
}

// Message is a role-tagged unit in the in-flight request list. Only
// assistant messages carry tool calls and only tool-result messages carry a
// call id; use the constructors so that shape holds.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// NewSystemMessage creates a system message
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewHumanMessage creates a user message
func NewHumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// NewAssistantMessage creates an assistant message, optionally carrying the
// tool calls the model requested
func NewAssistantMessage(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolResultMessage creates a tool-result message tagged with the
// originating call id and tool name
func NewToolResultMessage(callID, toolName, content string) Message {
	return Message{
		Role:       RoleToolResult,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
	}
}

// IsToolResult reports whether the message carries a tool result
func (m Message) IsToolResult() bool {
	return m.Role == RoleToolResult
}

// Validate rejects messages whose payload does not match their role
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleHuman:
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("%s message must not carry tool calls", m.Role)
		}
		if m.ToolCallID != "" {
			return fmt.Errorf("%s message must not carry a tool call id", m.Role)
		}
	case RoleAssistant:
		if m.ToolCallID != "" {
			return fmt.Errorf("assistant message must not carry a tool call id")
		}
		for i, tc := range m.ToolCalls {
			if tc.ID == "" {
				return fmt.Errorf("tool call %d has empty id", i)
			}
			if tc.Name == "" {
				return fmt.Errorf("tool call %d has empty name", i)
			}
		}
	case RoleToolResult:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool-result message requires a call id")
		}
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("tool-result message must not carry tool calls")
		}
	default:
		return fmt.Errorf("unknown role: %s", m.Role)
	}
	return nil
}
