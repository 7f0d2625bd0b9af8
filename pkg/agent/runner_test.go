package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rasyid/kantor/internal/config"
	"github.com/rasyid/kantor/pkg/budget"
	"github.com/rasyid/kantor/pkg/model"
	"github.com/rasyid/kantor/pkg/session"
)

type invokeStep struct {
	resp  *model.Response
	notes []string
	err   error
}

// fakeInvoker replays a script of responses, repeating the last step when
// the loop asks for more rounds than the script holds.
type fakeInvoker struct {
	mu       sync.Mutex
	requests []model.Request
	script   []invokeStep
}

func (f *fakeInvoker) Invoke(_ context.Context, req model.Request, primary string, _ []string) (*model.Response, string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	idx := len(f.requests) - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	step := f.script[idx]
	if step.err != nil {
		return nil, "", step.notes, step.err
	}
	return step.resp, primary, step.notes, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeInvoker) request(i int) model.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

type fakeRouter struct{}

func (fakeRouter) Chain(requested string) (string, []string) {
	if requested == "" {
		requested = "gpt-4.1"
	}
	return requested, []string{"gpt-4o-mini"}
}

func (fakeRouter) PreferredShape(string) model.Shape {
	return model.ShapeChatCompletions
}

type executedCall struct {
	name string
	args map[string]interface{}
}

// fakeTools records executions and answers from a per-tool output table.
type fakeTools struct {
	mu      sync.Mutex
	calls   []executedCall
	outputs map[string]string
}

func (f *fakeTools) Execute(_ context.Context, name string, args map[string]interface{}) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, executedCall{name: name, args: args})
	if out, ok := f.outputs[name]; ok {
		return out
	}
	return `{"ok":true,"output":"done"}`
}

func (f *fakeTools) Schemas() []model.ToolSchema {
	return []model.ToolSchema{
		{
			Name:        "list_directory",
			Description: "List directory entries",
			Parameters:  map[string]interface{}{"type": "object"},
		},
		{
			Name:        "read_text_file",
			Description: "Read a text file",
			Parameters:  map[string]interface{}{"type": "object"},
		},
	}
}

func (f *fakeTools) executed() []executedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]executedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxRounds:       24,
		NudgeBudget:     2,
		MaxContextTurns: 12,
		MaxOutputTokens: 512,
		Temperature:     0.2,
	}
}

func newTestRunner(t *testing.T, inv ModelInvoker, tools ToolRunner, agentCfg config.AgentConfig) *Runner {
	t.Helper()

	r, err := NewRunner(Config{
		Invoker:  inv,
		Router:   fakeRouter{},
		Tools:    tools,
		Budgeter: budget.New(budget.DefaultConfig()),
		Agent:    agentCfg,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return r
}

func textResponse(text string) *model.Response {
	return &model.Response{
		Content: text,
		Usage:   model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, LLMCalls: 1},
	}
}

func toolResponse(calls ...model.ToolCall) *model.Response {
	return &model.Response{
		ToolCalls: calls,
		Usage:     model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, LLMCalls: 1},
	}
}

func simpleTurn(message string) TurnRequest {
	return TurnRequest{
		ConversationID: "conv-1",
		UserMessage:    message,
		Settings:       Settings{EnableTools: true},
	}
}

func TestNewRunner(t *testing.T) {
	t.Run("should require an invoker", func(t *testing.T) {
		_, err := NewRunner(Config{Router: fakeRouter{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invoker")
	})

	t.Run("should require a router", func(t *testing.T) {
		_, err := NewRunner(Config{Invoker: &fakeInvoker{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "router")
	})

	t.Run("should default the budgeter and loop limits", func(t *testing.T) {
		r, err := NewRunner(Config{Invoker: &fakeInvoker{}, Router: fakeRouter{}})
		require.NoError(t, err)
		assert.NotNil(t, r.budgeter)
		assert.Equal(t, 24, r.cfg.MaxRounds)
		assert.Equal(t, 12, r.cfg.MaxContextTurns)
	})
}

func TestRunTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("should answer directly when the model returns no tool calls", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{{resp: textResponse("All done.")}}}
		r := newTestRunner(t, inv, &fakeTools{}, testAgentConfig())

		result, err := r.RunTurn(ctx, simpleTurn("status?"))
		require.NoError(t, err)

		assert.Equal(t, "All done.", result.FinalText)
		assert.Equal(t, 1, result.Rounds)
		assert.Empty(t, result.ToolEvents)
		assert.Nil(t, result.Plan)
		assert.Equal(t, "gpt-4.1", result.EffectiveModel)
		require.NotEmpty(t, result.ExecutionTrace)
		assert.Equal(t, "model chain: gpt-4.1 -> gpt-4o-mini", result.ExecutionTrace[0])
	})

	t.Run("should reject an empty turn", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{{resp: textResponse("x")}}}
		r := newTestRunner(t, inv, &fakeTools{}, testAgentConfig())

		_, err := r.RunTurn(ctx, TurnRequest{ConversationID: "conv-1", UserMessage: "   "})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("should execute tool calls in order and feed back one result per call id", func(t *testing.T) {
		calls := []model.ToolCall{
			{ID: "call-1", Name: "list_directory", Arguments: map[string]interface{}{"path": "."}},
			{ID: "call-2", Name: "read_text_file", Arguments: map[string]interface{}{"path": "notes.md"}},
		}
		inv := &fakeInvoker{script: []invokeStep{
			{resp: toolResponse(calls...)},
			{resp: textResponse("Here is what I found.")},
		}}
		tools := &fakeTools{outputs: map[string]string{
			"list_directory": `{"ok":true,"entries":["notes.md"]}`,
			"read_text_file": `{"ok":true,"content":"hello"}`,
		}}
		r := newTestRunner(t, inv, tools, testAgentConfig())

		result, err := r.RunTurn(ctx, simpleTurn("what is in the workspace?"))
		require.NoError(t, err)

		assert.Equal(t, "Here is what I found.", result.FinalText)
		assert.Equal(t, 2, result.Rounds)

		executed := tools.executed()
		require.Len(t, executed, 2)
		assert.Equal(t, "list_directory", executed[0].name)
		assert.Equal(t, "read_text_file", executed[1].name)

		require.Len(t, result.ToolEvents, 2)
		assert.Equal(t, "list_directory", result.ToolEvents[0].Name)
		assert.Equal(t, `{"ok":true,"entries":["notes.md"]}`, result.ToolEvents[0].OutputPreview)
		assert.False(t, result.ToolEvents[0].Trimmed)

		require.NotEmpty(t, result.Plan)
		assert.Contains(t, result.Plan[0], "Step 1: list_directory")
		assert.Equal(t, "Step 3: compose final answer", result.Plan[len(result.Plan)-1])

		// The follow-up request must carry the assistant tool calls followed
		// by exactly one result per call id, in issue order.
		second := inv.request(1)
		n := len(second.Messages)
		require.GreaterOrEqual(t, n, 3)
		assistant := second.Messages[n-3]
		require.Len(t, assistant.ToolCalls, 2)
		first, last := second.Messages[n-2], second.Messages[n-1]
		assert.True(t, first.IsToolResult())
		assert.Equal(t, "call-1", first.ToolCallID)
		assert.Equal(t, `{"ok":true,"entries":["notes.md"]}`, first.Content)
		assert.True(t, last.IsToolResult())
		assert.Equal(t, "call-2", last.ToolCallID)
		assert.Equal(t, `{"ok":true,"content":"hello"}`, last.Content)
	})

	t.Run("should stop at the round cap when the model keeps calling tools", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{
			{resp: toolResponse(model.ToolCall{ID: "call-x", Name: "list_directory", Arguments: map[string]interface{}{}})},
		}}
		tools := &fakeTools{}
		r := newTestRunner(t, inv, tools, testAgentConfig())

		result, err := r.RunTurn(ctx, simpleTurn("loop forever"))
		require.NoError(t, err)

		assert.Equal(t, 24, result.Rounds)
		assert.Equal(t, 24, inv.callCount())
		assert.Len(t, tools.executed(), 24)
		assert.Equal(t, noVisibleTextFallback, result.FinalText)
		assert.Contains(t, strings.Join(result.ExecutionTrace, "\n"), "24-round cap")
	})

	t.Run("should keep the last visible text when the cap interrupts tool use", func(t *testing.T) {
		resp := toolResponse(model.ToolCall{ID: "call-x", Name: "list_directory", Arguments: map[string]interface{}{}})
		resp.Content = "Still working through the files."
		inv := &fakeInvoker{script: []invokeStep{{resp: resp}}}
		cfg := testAgentConfig()
		cfg.MaxRounds = 3
		r := newTestRunner(t, inv, &fakeTools{}, cfg)

		result, err := r.RunTurn(ctx, simpleTurn("loop"))
		require.NoError(t, err)

		assert.Equal(t, 3, result.Rounds)
		assert.Equal(t, "Still working through the files.", result.FinalText)
	})

	t.Run("should nudge a stalling model and consume the budget", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{
			{resp: textResponse("Should I read the file for you?")},
			{resp: textResponse("The file lists three open items.")},
		}}
		r := newTestRunner(t, inv, &fakeTools{}, testAgentConfig())

		result, err := r.RunTurn(ctx, simpleTurn("summarize notes.md"))
		require.NoError(t, err)

		assert.Equal(t, "The file lists three open items.", result.FinalText)
		assert.Equal(t, 1, result.Nudges)
		assert.Equal(t, 2, result.Rounds)
		assert.Contains(t, strings.Join(result.ExecutionTrace, "\n"), "nudged (1/2)")

		second := inv.request(1)
		n := len(second.Messages)
		require.GreaterOrEqual(t, n, 2)
		assert.Equal(t, model.RoleSystem, second.Messages[n-1].Role)
		assert.Equal(t, nudgeMessage, second.Messages[n-1].Content)
		assert.Equal(t, model.RoleAssistant, second.Messages[n-2].Role)
	})

	t.Run("should surface the stall text once the nudge budget is spent", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{
			{resp: textResponse("Should I read the file for you?")},
		}}
		cfg := testAgentConfig()
		cfg.NudgeBudget = 0
		r := newTestRunner(t, inv, &fakeTools{}, cfg)

		result, err := r.RunTurn(ctx, simpleTurn("summarize notes.md"))
		require.NoError(t, err)

		assert.Equal(t, "Should I read the file for you?", result.FinalText)
		assert.Zero(t, result.Nudges)
		assert.Equal(t, 1, inv.callCount())
	})

	t.Run("should stop nudging after two corrections", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{
			{resp: textResponse("Should I read the file?")},
		}}
		r := newTestRunner(t, inv, &fakeTools{}, testAgentConfig())

		result, err := r.RunTurn(ctx, simpleTurn("summarize notes.md"))
		require.NoError(t, err)

		assert.Equal(t, 2, result.Nudges)
		assert.Equal(t, 3, inv.callCount())
		assert.Equal(t, "Should I read the file?", result.FinalText)
	})

	t.Run("should report a first-round model failure", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{
			{err: fmt.Errorf("boom"), notes: []string{"model gpt-4.1 failed (server_error), advancing to next candidate"}},
		}}
		r := newTestRunner(t, inv, &fakeTools{}, testAgentConfig())

		result, err := r.RunTurn(ctx, simpleTurn("hello"))
		require.NoError(t, err)

		assert.Equal(t, "Model request failed: boom", result.FinalText)
		assert.Contains(t, strings.Join(result.ExecutionTrace, "\n"), "advancing to next candidate")
	})

	t.Run("should preserve tool events when a follow-up call fails", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{
			{resp: toolResponse(model.ToolCall{ID: "call-1", Name: "list_directory", Arguments: map[string]interface{}{}})},
			{err: fmt.Errorf("boom")},
		}}
		tools := &fakeTools{}
		r := newTestRunner(t, inv, tools, testAgentConfig())

		result, err := r.RunTurn(ctx, simpleTurn("list files"))
		require.NoError(t, err)

		assert.Equal(t, "Follow-up reasoning after tool execution failed: boom", result.FinalText)
		require.Len(t, result.ToolEvents, 1)
		assert.Equal(t, "list_directory", result.ToolEvents[0].Name)
		assert.NotEmpty(t, result.Plan)
	})

	t.Run("should accumulate token usage across rounds", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{
			{resp: toolResponse(model.ToolCall{ID: "call-1", Name: "list_directory", Arguments: map[string]interface{}{}})},
			{resp: textResponse("done")},
		}}
		r := newTestRunner(t, inv, &fakeTools{}, testAgentConfig())

		result, err := r.RunTurn(ctx, simpleTurn("list files"))
		require.NoError(t, err)

		assert.Equal(t, 20, result.Usage.InputTokens)
		assert.Equal(t, 10, result.Usage.OutputTokens)
		assert.Equal(t, 2, result.Usage.LLMCalls)
	})

	t.Run("should fall back to a notice when the final text is empty", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{{resp: textResponse("")}}}
		r := newTestRunner(t, inv, &fakeTools{}, testAgentConfig())

		result, err := r.RunTurn(ctx, simpleTurn("hello"))
		require.NoError(t, err)

		assert.Equal(t, noVisibleTextFallback, result.FinalText)
	})

	t.Run("should mark trimmed tool results and keep the raw preview", func(t *testing.T) {
		longOutput := `{"ok":true,"content":"` + strings.Repeat("x", 400) + `"}`
		inv := &fakeInvoker{script: []invokeStep{
			{resp: toolResponse(model.ToolCall{ID: "call-1", Name: "read_text_file", Arguments: map[string]interface{}{}})},
			{resp: textResponse("done")},
		}}
		tools := &fakeTools{outputs: map[string]string{"read_text_file": longOutput}}
		r, err := NewRunner(Config{
			Invoker: inv,
			Router:  fakeRouter{},
			Tools:   tools,
			Budgeter: budget.New(budget.Config{
				SoftLimitChars:    100,
				HardLimitChars:    10000,
				HeadChars:         40,
				TailChars:         20,
				KeepRecentResults: 2,
			}),
			Agent:  testAgentConfig(),
			Logger: zerolog.Nop(),
		})
		require.NoError(t, err)

		result, err := r.RunTurn(ctx, simpleTurn("read the big file"))
		require.NoError(t, err)

		require.Len(t, result.ToolEvents, 1)
		assert.True(t, result.ToolEvents[0].Trimmed)
		assert.Equal(t, longOutput, result.ToolEvents[0].OutputPreview)
		assert.Contains(t, strings.Join(result.ExecutionTrace, "\n"), "trimmed (soft)")

		second := inv.request(1)
		fed := second.Messages[len(second.Messages)-1]
		require.True(t, fed.IsToolResult())
		assert.Contains(t, fed.Content, "chars trimmed")
		assert.Less(t, len(fed.Content), len(longOutput))
	})

	t.Run("should ignore tool calls when tools are disabled", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{{resp: textResponse("plain answer")}}}
		tools := &fakeTools{}
		r := newTestRunner(t, inv, tools, testAgentConfig())

		req := simpleTurn("hello")
		req.Settings.EnableTools = false
		result, err := r.RunTurn(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, "plain answer", result.FinalText)
		assert.Empty(t, inv.request(0).Tools)
		assert.Empty(t, tools.executed())
	})
}

func TestBuildMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("should prepend the rolling summary as a system message", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{{resp: textResponse("ok")}}}
		r := newTestRunner(t, inv, &fakeTools{}, testAgentConfig())

		req := simpleTurn("continue")
		req.Summary = "User is renaming project files."
		_, err := r.RunTurn(ctx, req)
		require.NoError(t, err)

		first := inv.request(0).Messages[0]
		assert.Equal(t, model.RoleSystem, first.Role)
		assert.Contains(t, first.Content, "Conversation summary so far:")
		assert.Contains(t, first.Content, "renaming project files")
	})

	t.Run("should window history and coerce foreign roles to user", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{{resp: textResponse("ok")}}}
		cfg := testAgentConfig()
		cfg.MaxContextTurns = 3
		r := newTestRunner(t, inv, &fakeTools{}, cfg)

		req := simpleTurn("next")
		req.History = []session.Turn{
			{Role: "user", Text: "turn-0"},
			{Role: "assistant", Text: "turn-1"},
			{Role: "tool", Text: "turn-2"},
			{Role: "assistant", Text: "   "},
			{Role: "assistant", Text: "turn-4"},
		}
		_, err := r.RunTurn(ctx, req)
		require.NoError(t, err)

		msgs := inv.request(0).Messages
		// Window of 3 drops turn-0 and turn-1; the blank turn is skipped.
		require.Len(t, msgs, 3)
		assert.Equal(t, model.RoleHuman, msgs[0].Role)
		assert.Equal(t, "turn-2", msgs[0].Content)
		assert.Equal(t, model.RoleAssistant, msgs[1].Role)
		assert.Equal(t, "turn-4", msgs[1].Content)
		assert.Equal(t, "next", msgs[2].Content)
	})

	t.Run("should inline parsed attachments into the user message", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{{resp: textResponse("ok")}}}
		r := newTestRunner(t, inv, &fakeTools{}, testAgentConfig())

		req := simpleTurn("summarize the attachments")
		req.Attachments = []Attachment{
			{ID: "att-1", Filename: "notes.txt", Text: "quarterly goals"},
			{ID: "att-2", Filename: "scan.png", Note: "image attached but not parsed"},
		}
		_, err := r.RunTurn(ctx, req)
		require.NoError(t, err)

		msgs := inv.request(0).Messages
		user := msgs[len(msgs)-1]
		assert.Contains(t, user.Content, "summarize the attachments")
		assert.Contains(t, user.Content, "[Attached document: notes.txt]\nquarterly goals")
		assert.Contains(t, user.Content, "[Attachment: scan.png] image attached but not parsed")
	})

	t.Run("should apply the response style hint to the system prompt", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{{resp: textResponse("ok")}}}
		r := newTestRunner(t, inv, &fakeTools{}, testAgentConfig())

		req := simpleTurn("hello")
		req.Settings.ResponseStyle = "short"
		_, err := r.RunTurn(ctx, req)
		require.NoError(t, err)

		prompt := inv.request(0).SystemPrompt
		assert.Contains(t, prompt, "office productivity assistant")
		assert.Contains(t, prompt, "Response style: "+styleHints["short"])
	})

	t.Run("should prefer the configured system prompt", func(t *testing.T) {
		inv := &fakeInvoker{script: []invokeStep{{resp: textResponse("ok")}}}
		cfg := testAgentConfig()
		cfg.SystemPrompt = "You are a terse build assistant."
		r := newTestRunner(t, inv, &fakeTools{}, cfg)

		_, err := r.RunTurn(ctx, simpleTurn("hello"))
		require.NoError(t, err)

		assert.Equal(t, "You are a terse build assistant.", inv.request(0).SystemPrompt)
	})
}
