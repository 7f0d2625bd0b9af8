package agent

import (
	"fmt"

	"github.com/rasyid/kantor/pkg/model"
	"github.com/rasyid/kantor/pkg/session"
)

// previewChars caps the tool output excerpt surfaced in a ToolEvent.
const previewChars = 1200

// Attachment is a document or image the user sent with the turn. Text holds
// the extracted content when a parser produced one; Note explains why the
// attachment is opaque when it did not.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Text     string `json:"text,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Settings carries the per-turn knobs a caller may override. Numeric zero
// values fall back to the runner's configured defaults; EnableTools is taken
// as-is.
type Settings struct {
	Model           string  `json:"model,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
	MaxContextTurns int     `json:"max_context_turns,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	EnableTools     bool    `json:"enable_tools,omitempty"`
	ResponseStyle   string  `json:"response_style,omitempty"`
}

// TurnRequest is one user turn handed to the runner together with the
// conversation context it should see.
type TurnRequest struct {
	ConversationID string
	History        []session.Turn
	Summary        string
	UserMessage    string
	Attachments    []Attachment
	Settings       Settings
}

// ToolEvent records one tool execution for the caller's transcript.
type ToolEvent struct {
	Name          string                 `json:"name"`
	Input         map[string]interface{} `json:"input,omitempty"`
	OutputPreview string                 `json:"output_preview"`
	Trimmed       bool                   `json:"trimmed,omitempty"`
	DurationMs    int64                  `json:"duration_ms"`
}

// TurnResult is everything one turn produced: the final text plus the tool
// events, plan, trace, and usage accumulated along the way.
type TurnResult struct {
	FinalText      string
	ToolEvents     []ToolEvent
	Plan           []string
	ExecutionTrace []string
	Usage          model.TokenUsage
	EffectiveModel string
	Rounds         int
	Nudges         int
}

// styleHints maps a response style name to the instruction appended to the
// system prompt. Unknown styles are ignored.
var styleHints = map[string]string{
	"short":  "Keep the answer to at most three sentences.",
	"normal": "Answer with moderate length, leading with the conclusion.",
	"long":   "Answer thoroughly in structured sections, but stay free of filler.",
}

// previewOf truncates a serialized tool payload for event reporting.
func previewOf(payload string) string {
	if len(payload) <= previewChars {
		return payload
	}
	return payload[:previewChars]
}

// formatChain renders a failover chain for the execution trace.
func formatChain(primary string, fallbacks []string) string {
	chain := primary
	for _, f := range fallbacks {
		chain += " -> " + f
	}
	return fmt.Sprintf("model chain: %s", chain)
}
