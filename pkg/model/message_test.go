package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageConstructors(t *testing.T) {
	t.Run("should build system message", func(t *testing.T) {
		msg := NewSystemMessage("be helpful")

		assert.Equal(t, RoleSystem, msg.Role)
		assert.Equal(t, "be helpful", msg.Content)
		assert.Empty(t, msg.ToolCalls)
		assert.NoError(t, msg.Validate())
	})

	t.Run("should build human message", func(t *testing.T) {
		msg := NewHumanMessage("list files")

		assert.Equal(t, RoleHuman, msg.Role)
		assert.NoError(t, msg.Validate())
	})

	t.Run("should build assistant message with tool calls", func(t *testing.T) {
		call := ToolCall{ID: "call-1", Name: "list_directory", Arguments: map[string]interface{}{"path": "."}}
		msg := NewAssistantMessage("checking", call)

		assert.Equal(t, RoleAssistant, msg.Role)
		require.Len(t, msg.ToolCalls, 1)
		assert.Equal(t, "call-1", msg.ToolCalls[0].ID)
		assert.NoError(t, msg.Validate())
	})

	t.Run("should build tool-result message with call id", func(t *testing.T) {
		msg := NewToolResultMessage("call-1", "list_directory", `{"ok":true}`)

		assert.Equal(t, RoleToolResult, msg.Role)
		assert.Equal(t, "call-1", msg.ToolCallID)
		assert.Equal(t, "list_directory", msg.ToolName)
		assert.True(t, msg.IsToolResult())
		assert.NoError(t, msg.Validate())
	})
}

func TestMessageValidate(t *testing.T) {
	t.Run("should reject tool calls on human message", func(t *testing.T) {
		msg := Message{Role: RoleHuman, Content: "x", ToolCalls: []ToolCall{{ID: "1", Name: "t"}}}
		assert.Error(t, msg.Validate())
	})

	t.Run("should reject call id on system message", func(t *testing.T) {
		msg := Message{Role: RoleSystem, Content: "x", ToolCallID: "call-1"}
		assert.Error(t, msg.Validate())
	})

	t.Run("should reject call id on assistant message", func(t *testing.T) {
		msg := Message{Role: RoleAssistant, Content: "x", ToolCallID: "call-1"}
		assert.Error(t, msg.Validate())
	})

	t.Run("should reject assistant tool call without id", func(t *testing.T) {
		msg := NewAssistantMessage("x", ToolCall{Name: "t"})
		assert.Error(t, msg.Validate())
	})

	t.Run("should reject assistant tool call without name", func(t *testing.T) {
		msg := NewAssistantMessage("x", ToolCall{ID: "1"})
		assert.Error(t, msg.Validate())
	})

	t.Run("should reject tool result without call id", func(t *testing.T) {
		msg := Message{Role: RoleToolResult, Content: "x"}
		assert.Error(t, msg.Validate())
	})

	t.Run("should reject unknown role", func(t *testing.T) {
		msg := Message{Role: Role("narrator"), Content: "x"}
		assert.Error(t, msg.Validate())
	})
}

func TestTokenUsageAdd(t *testing.T) {
	total := TokenUsage{}
	total.Add(TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, LLMCalls: 1})
	total.Add(TokenUsage{InputTokens: 20, OutputTokens: 8, TotalTokens: 28, LLMCalls: 1})

	assert.Equal(t, 30, total.InputTokens)
	assert.Equal(t, 13, total.OutputTokens)
	assert.Equal(t, 43, total.TotalTokens)
	assert.Equal(t, 2, total.LLMCalls)
}
