// Package orchestrator runs the end-to-end chat pipeline: admission through
// the run queue, best-effort history compaction, attachment resolution, the
// agent turn itself, and session bookkeeping.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rasyid/kantor/internal/observability"
	"github.com/rasyid/kantor/internal/tracing"
	"github.com/rasyid/kantor/pkg/agent"
	"github.com/rasyid/kantor/pkg/runqueue"
	"github.com/rasyid/kantor/pkg/session"
	"github.com/rasyid/kantor/pkg/toolexecutor"
)

// defaultWaitNoticeMs is the queue wait above which the trace mentions the
// run was queued.
const defaultWaitNoticeMs = 2000

// TurnRunner executes one agent turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResult, error)
}

// Compactor folds older history into the rolling summary when a conversation
// outgrows its trigger.
type Compactor interface {
	Compact(ctx context.Context, conversationID string) (bool, error)
}

// AttachmentResolver looks up uploaded attachments by id. Upload storage and
// content extraction live outside this module; ids the resolver does not
// return are reported to the caller as missing.
type AttachmentResolver interface {
	Resolve(ctx context.Context, ids []string) ([]agent.Attachment, error)
}

// Config holds the pipeline dependencies.
type Config struct {
	Runner TurnRunner
	Queue  *runqueue.Queue
	Store  session.Store

	// Compactor is optional; nil disables compaction.
	Compactor Compactor
	// Attachments is optional; nil reports every requested id as missing.
	Attachments AttachmentResolver

	// WaitNoticeMs is the queue wait threshold for the queued-notice trace
	// line. Values below 1 fall back to the default.
	WaitNoticeMs int
	Logger       zerolog.Logger
}

// Orchestrator coordinates one chat turn end to end.
type Orchestrator struct {
	runner      TurnRunner
	queue       *runqueue.Queue
	store       session.Store
	compactor   Compactor
	attachments AttachmentResolver
	waitNotice  int64
	usage       *usageLedger
	logger      zerolog.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("run queue is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.WaitNoticeMs < 1 {
		cfg.WaitNoticeMs = defaultWaitNoticeMs
	}

	return &Orchestrator{
		runner:      cfg.Runner,
		queue:       cfg.Queue,
		store:       cfg.Store,
		compactor:   cfg.Compactor,
		attachments: cfg.Attachments,
		waitNotice:  int64(cfg.WaitNoticeMs),
		usage:       newUsageLedger(),
		logger:      cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// HandleChat runs one user turn: admission, compaction, attachments, the
// agent loop, then session and usage bookkeeping. Model and tool failures
// surface inside the response text; only pipeline failures return an error.
func (o *Orchestrator) HandleChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	runID := uuid.NewString()

	ctx, span := tracing.StartSpan(
		ctx,
		"kantor.orchestrator",
		"orchestrator.handle_chat",
		attribute.String("conversation_id", conversationID),
		attribute.String("run_id", runID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, o.logger).With().
		Str("conversation_id", conversationID).
		Str("run_id", runID).
		Logger()

	if strings.TrimSpace(req.Message) == "" && len(req.AttachmentIDs) == 0 {
		err := fmt.Errorf("message is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	observability.RecordRunAudit(ctx, "run_started", conversationID, "success",
		map[string]interface{}{"run_id": runID})

	ticket, err := o.queue.Acquire(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("acquire run slot: %w", err)
	}
	defer ticket.Release()

	waitMs := ticket.WaitDuration.Milliseconds()
	var trace []string
	if waitMs >= o.waitNotice {
		trace = append(trace,
			fmt.Sprintf("concurrent request in this conversation; queued for %d ms", waitMs))
	}

	summarized := false
	if o.compactor != nil {
		// Best-effort: a failed summarize never blocks the turn.
		summarized, err = o.compactor.Compact(ctx, conversationID)
		if err != nil {
			logger.Warn().Err(err).Msg("History compaction failed")
			summarized = false
		}
		if summarized {
			trace = append(trace, "older history folded into the rolling summary")
		}
	}

	attachments, missing := o.resolveAttachments(ctx, req.AttachmentIDs, logger)

	history, err := o.store.History(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load history: %w", err)
	}
	summary, err := o.store.Summary(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load summary: %w", err)
	}

	// Tool handlers need the conversation for sandbox routing and audit.
	runCtx := toolexecutor.ContextWithExecContext(ctx, &toolexecutor.ExecutionContext{
		ConversationID: conversationID,
		RunID:          runID,
	})

	result, err := o.runner.RunTurn(runCtx, agent.TurnRequest{
		ConversationID: conversationID,
		History:        history,
		Summary:        summary,
		UserMessage:    req.Message,
		Attachments:    attachments,
		Settings:       req.Settings,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordRunAudit(ctx, "run_finished", conversationID, "failure",
			map[string]interface{}{"run_id": runID, "error": err.Error()})
		return nil, fmt.Errorf("run turn: %w", err)
	}

	trace = append(trace, result.ExecutionTrace...)
	if len(missing) > 0 {
		trace = append(trace, fmt.Sprintf(
			"warning: %d attachment(s) were not found and were skipped; re-upload them if they still matter",
			len(missing)))
	}

	userText := strings.TrimSpace(req.Message)
	if note := attachmentNote(attachments); note != "" {
		if userText == "" {
			userText = note
		} else {
			userText += "\n\n" + note
		}
	}
	if err := o.store.Append(ctx, conversationID,
		session.Turn{Role: "user", Text: userText},
		session.Turn{Role: "assistant", Text: result.FinalText},
	); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("append turns: %w", err)
	}
	turnCount, err := o.store.TurnCount(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("count turns: %w", err)
	}

	sessionTotals, globalTotals := o.usage.record(conversationID, result.Usage)

	span.SetAttributes(
		attribute.Int64("queue_wait_ms", waitMs),
		attribute.Int("rounds", result.Rounds),
		attribute.Int("tool_events", len(result.ToolEvents)),
		attribute.Bool("summarized", summarized),
	)
	logger.Info().
		Str("model", result.EffectiveModel).
		Int("rounds", result.Rounds).
		Int("tool_events", len(result.ToolEvents)).
		Int64("queue_wait_ms", waitMs).
		Int("turn_count", turnCount).
		Msg("Chat turn completed")
	observability.RecordRunAudit(ctx, "run_finished", conversationID, "success",
		map[string]interface{}{
			"run_id":      runID,
			"rounds":      result.Rounds,
			"tool_events": len(result.ToolEvents),
			"wait_ms":     waitMs,
		})

	return &ChatResponse{
		ConversationID:     conversationID,
		RunID:              runID,
		Text:               result.FinalText,
		ToolEvents:         result.ToolEvents,
		ExecutionPlan:      result.Plan,
		ExecutionTrace:     trace,
		MissingAttachments: missing,
		Usage:              result.Usage,
		SessionTotals:      sessionTotals,
		GlobalTotals:       globalTotals,
		TurnCount:          turnCount,
		Summarized:         summarized,
		EffectiveModel:     result.EffectiveModel,
		QueueWaitMs:        waitMs,
	}, nil
}

// UsageTotals returns the current session and global token tallies.
func (o *Orchestrator) UsageTotals(conversationID string) (TokenTotals, TokenTotals) {
	return o.usage.totals(conversationID)
}

// resolveAttachments maps requested ids to attachments and collects the ids
// nothing answered for. Resolver failures degrade to everything-missing.
func (o *Orchestrator) resolveAttachments(ctx context.Context, ids []string, logger zerolog.Logger) ([]agent.Attachment, []string) {
	if len(ids) == 0 {
		return nil, nil
	}
	if o.attachments == nil {
		logger.Warn().Int("requested", len(ids)).Msg("No attachment resolver wired")
		return nil, append([]string(nil), ids...)
	}

	found, err := o.attachments.Resolve(ctx, ids)
	if err != nil {
		logger.Warn().Err(err).Msg("Attachment lookup failed")
		return nil, append([]string(nil), ids...)
	}

	seen := make(map[string]bool, len(found))
	for _, att := range found {
		if att.ID != "" {
			seen[att.ID] = true
		}
	}
	var missing []string
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return found, missing
}

// attachmentNote renders the stored-turn marker listing what the user sent.
func attachmentNote(attachments []agent.Attachment) string {
	if len(attachments) == 0 {
		return ""
	}
	names := make([]string, 0, len(attachments))
	for _, att := range attachments {
		name := att.Filename
		if name == "" {
			name = att.ID
		}
		names = append(names, name)
	}
	return "[attachments] " + strings.Join(names, ", ")
}
