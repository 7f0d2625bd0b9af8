package orchestrator

import (
	"github.com/rasyid/kantor/pkg/agent"
	"github.com/rasyid/kantor/pkg/model"
)

// ChatRequest is one user turn entering the pipeline. An empty ConversationID
// starts a new conversation.
type ChatRequest struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	Message        string         `json:"message"`
	AttachmentIDs  []string       `json:"attachment_ids,omitempty"`
	Settings       agent.Settings `json:"settings"`
}

// ChatResponse is the full outcome of one turn.
type ChatResponse struct {
	ConversationID     string            `json:"conversation_id"`
	RunID              string            `json:"run_id"`
	Text               string            `json:"text"`
	ToolEvents         []agent.ToolEvent `json:"tool_events"`
	ExecutionPlan      []string          `json:"execution_plan"`
	ExecutionTrace     []string          `json:"execution_trace"`
	MissingAttachments []string          `json:"missing_attachment_ids,omitempty"`
	Usage              model.TokenUsage  `json:"token_usage"`
	SessionTotals      TokenTotals       `json:"session_token_totals"`
	GlobalTotals       TokenTotals       `json:"global_token_totals"`
	TurnCount          int               `json:"turn_count"`
	Summarized         bool              `json:"summarized"`
	EffectiveModel     string            `json:"effective_model"`
	QueueWaitMs        int64             `json:"queue_wait_ms"`
}

// TokenTotals is a running token tally for one conversation or the whole
// process.
type TokenTotals struct {
	Requests     int `json:"requests"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (t *TokenTotals) add(usage model.TokenUsage) {
	t.Requests++
	t.InputTokens += usage.InputTokens
	t.OutputTokens += usage.OutputTokens
	t.TotalTokens += usage.TotalTokens
}
