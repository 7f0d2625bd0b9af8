package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rasyid/kantor/internal/config"
	"github.com/rasyid/kantor/internal/observability"
	"github.com/rasyid/kantor/internal/tracing"
	"github.com/rasyid/kantor/pkg/budget"
	"github.com/rasyid/kantor/pkg/model"
	"github.com/rasyid/kantor/pkg/planner"
	"github.com/rasyid/kantor/pkg/session"
)

// defaultSystemPrompt is used when no system prompt is configured.
const defaultSystemPrompt = "You are an office productivity assistant. " +
	"Lead with actionable conclusions and concrete next steps, and keep output concise. " +
	"When the user provides images or documents, extract the key information before answering. " +
	"Call tools when local information is needed, judging first whether the call is necessary."

// nudgeMessage is injected as a system message when the model stalls asking
// for permission instead of acting.
const nudgeMessage = "You already have permission. Do not ask the user whether to proceed; " +
	"decide whether a tool call is needed, make it, and deliver the result directly."

// noVisibleTextFallback replaces an empty final answer.
const noVisibleTextFallback = "The model returned no visible text."

// ModelInvoker runs one completion through the failover chain. It returns the
// response, the model that actually served it, and trace notes describing any
// skips or retries along the way.
type ModelInvoker interface {
	Invoke(ctx context.Context, req model.Request, primary string, fallbacks []string) (*model.Response, string, []string, error)
}

// ModelRouter resolves a requested model name to a failover chain and picks
// the wire shape to try first.
type ModelRouter interface {
	Chain(requested string) (string, []string)
	PreferredShape(modelName string) model.Shape
}

// ToolRunner executes tool calls for the loop. Execute returns the serialized
// JSON payload fed back to the model; execution failures are encoded inside
// the payload as {"ok": false, ...}, never as Go errors, so the loop always
// has exactly one result per call id.
type ToolRunner interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) string
	Schemas() []model.ToolSchema
}

// Config holds the runner dependencies.
type Config struct {
	Invoker  ModelInvoker
	Router   ModelRouter
	Tools    ToolRunner
	Budgeter *budget.Budgeter
	Agent    config.AgentConfig
	Logger   zerolog.Logger
}

// Runner drives the multi-round tool-call loop for one turn at a time. A
// NudgeBudget of zero disables stall nudging.
type Runner struct {
	invoker  ModelInvoker
	router   ModelRouter
	tools    ToolRunner
	budgeter *budget.Budgeter
	cfg      config.AgentConfig
	gate     GateConfig
	logger   zerolog.Logger
}

// NewRunner creates a turn runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Invoker == nil {
		return nil, fmt.Errorf("model invoker is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("model router is required")
	}
	if cfg.Budgeter == nil {
		cfg.Budgeter = budget.New(budget.DefaultConfig())
	}

	agentCfg := cfg.Agent
	if agentCfg.MaxRounds < 1 {
		agentCfg.MaxRounds = 24
	}
	if agentCfg.MaxContextTurns < 1 {
		agentCfg.MaxContextTurns = 12
	}
	if agentCfg.MaxOutputTokens < 1 {
		agentCfg.MaxOutputTokens = 8192
	}

	return &Runner{
		invoker:  cfg.Invoker,
		router:   cfg.Router,
		tools:    cfg.Tools,
		budgeter: cfg.Budgeter,
		cfg:      agentCfg,
		gate:     DefaultGateConfig().merge(agentCfg.StallPhrases, agentCfg.StallActionWords),
		logger:   cfg.Logger,
	}, nil
}

// RunTurn executes one user turn: it builds the request messages, then loops
// model call / tool execution until the model answers without tool calls,
// the stall gate and nudge budget are spent, or the round cap is hit.
func (r *Runner) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"kantor.agent",
		"agent.run_turn",
		attribute.String("conversation_id", req.ConversationID),
		attribute.String("model", req.Settings.Model),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger).With().
		Str("conversation_id", req.ConversationID).
		Logger()

	if strings.TrimSpace(req.UserMessage) == "" && len(req.Attachments) == 0 {
		err := fmt.Errorf("user message is empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	primary, fallbacks := r.router.Chain(req.Settings.Model)
	shape := r.router.PreferredShape(primary)

	maxTokens := req.Settings.MaxOutputTokens
	if maxTokens < 1 {
		maxTokens = r.cfg.MaxOutputTokens
	}
	temperature := req.Settings.Temperature
	if temperature <= 0 {
		temperature = r.cfg.Temperature
	}

	var schemas []model.ToolSchema
	toolsActive := req.Settings.EnableTools && r.tools != nil
	if toolsActive {
		schemas = r.tools.Schemas()
	}

	messages := r.buildMessages(req)
	result := &TurnResult{
		EffectiveModel: primary,
		ExecutionTrace: []string{formatChain(primary, fallbacks)},
	}

	lastText := ""
	for round := 1; round <= r.cfg.MaxRounds; round++ {
		result.Rounds = round

		if pruned := r.budgeter.PruneOlderToolMessages(messages); pruned > 0 {
			result.ExecutionTrace = append(result.ExecutionTrace,
				fmt.Sprintf("pruned %d older tool results to stay inside the context budget", pruned))
		}

		resp, served, notes, err := r.invoker.Invoke(ctx, model.Request{
			Shape:        shape,
			SystemPrompt: r.systemPrompt(req.Settings.ResponseStyle),
			Messages:     messages,
			Tools:        schemas,
			MaxTokens:    maxTokens,
			Temperature:  temperature,
		}, primary, fallbacks)
		result.ExecutionTrace = append(result.ExecutionTrace, notes...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error().Err(err).Int("round", round).Msg("Model invocation failed")
			if round == 1 {
				result.FinalText = fmt.Sprintf("Model request failed: %v", err)
			} else {
				result.FinalText = fmt.Sprintf("Follow-up reasoning after tool execution failed: %v", err)
			}
			observability.RecordTurn(result.EffectiveModel, time.Since(start), result.Rounds, false)
			return result, nil
		}

		result.EffectiveModel = served
		result.Usage.Add(resp.Usage)
		lastText = strings.TrimSpace(resp.Content)

		if len(resp.ToolCalls) > 0 && toolsActive {
			if result.Plan == nil {
				result.Plan = planner.Synthesize(resp.ToolCalls)
			}
			messages = append(messages, model.NewAssistantMessage(resp.Content, resp.ToolCalls...))
			messages = r.executeToolCalls(ctx, resp.ToolCalls, messages, result, logger)
			continue
		}

		if lastText != "" && toolsActive &&
			result.Nudges < r.cfg.NudgeBudget &&
			LooksLikePermissionStall(lastText, r.gate) {
			result.Nudges++
			observability.RecordNudge()
			result.ExecutionTrace = append(result.ExecutionTrace,
				fmt.Sprintf("model asked for permission instead of acting, nudged (%d/%d)", result.Nudges, r.cfg.NudgeBudget))
			logger.Debug().Int("round", round).Str("text", previewOf(lastText)).Msg("Nudging stalled model")
			messages = append(messages,
				model.NewAssistantMessage(resp.Content),
				model.NewSystemMessage(nudgeMessage))
			continue
		}

		result.FinalText = lastText
		break
	}

	if result.FinalText == "" {
		if result.Rounds >= r.cfg.MaxRounds {
			result.ExecutionTrace = append(result.ExecutionTrace,
				fmt.Sprintf("stopped after reaching the %d-round cap", r.cfg.MaxRounds))
			result.FinalText = lastText
		}
		if result.FinalText == "" {
			result.FinalText = noVisibleTextFallback
		}
	}

	span.SetAttributes(
		attribute.Int("rounds", result.Rounds),
		attribute.Int("tool_events", len(result.ToolEvents)),
		attribute.String("effective_model", result.EffectiveModel),
	)
	logger.Info().
		Int("rounds", result.Rounds).
		Int("tool_events", len(result.ToolEvents)).
		Int("nudges", result.Nudges).
		Str("model", result.EffectiveModel).
		Msg("Turn completed")
	observability.RecordTurn(result.EffectiveModel, time.Since(start), result.Rounds, true)

	return result, nil
}

// executeToolCalls runs the round's tool calls in order and appends exactly
// one tool-result message per call id, in the same order the model issued
// them.
func (r *Runner) executeToolCalls(ctx context.Context, calls []model.ToolCall, messages []model.Message, result *TurnResult, logger zerolog.Logger) []model.Message {
	for _, call := range calls {
		callStart := time.Now()
		payload := r.tools.Execute(ctx, call.Name, call.Arguments)
		elapsed := time.Since(callStart)

		shrunk, level := r.budgeter.ShrinkToolResult(payload)
		if level != budget.TrimNone {
			result.ExecutionTrace = append(result.ExecutionTrace,
				fmt.Sprintf("tool %s result trimmed (%s): %d -> %d chars", call.Name, level, len(payload), len(shrunk)))
		}

		result.ToolEvents = append(result.ToolEvents, ToolEvent{
			Name:          call.Name,
			Input:         call.Arguments,
			OutputPreview: previewOf(payload),
			Trimmed:       level != budget.TrimNone,
			DurationMs:    elapsed.Milliseconds(),
		})
		logger.Debug().
			Str("tool", call.Name).
			Str("call_id", call.ID).
			Dur("duration", elapsed).
			Str("trim", level.String()).
			Msg("Tool executed")

		messages = append(messages, model.NewToolResultMessage(call.ID, call.Name, shrunk))
	}
	return messages
}

// systemPrompt combines the configured prompt with the response-style hint.
func (r *Runner) systemPrompt(style string) string {
	prompt := strings.TrimSpace(r.cfg.SystemPrompt)
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	if hint, ok := styleHints[strings.ToLower(strings.TrimSpace(style))]; ok {
		prompt += "\n\nResponse style: " + hint
	}
	return prompt
}

// buildMessages assembles the request list: the rolling summary, the trailing
// history window, then the user message with inlined attachment sections.
func (r *Runner) buildMessages(req TurnRequest) []model.Message {
	messages := []model.Message{}

	if summary := strings.TrimSpace(req.Summary); summary != "" {
		messages = append(messages, model.NewSystemMessage("Conversation summary so far:\n"+summary))
	}

	maxTurns := req.Settings.MaxContextTurns
	if maxTurns < 1 {
		maxTurns = r.cfg.MaxContextTurns
	}
	for _, turn := range session.Window(req.History, maxTurns) {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		switch turn.Role {
		case string(model.RoleAssistant):
			messages = append(messages, model.NewAssistantMessage(text))
		default:
			// Anything that is not an assistant reply reads as user input.
			messages = append(messages, model.NewHumanMessage(text))
		}
	}

	messages = append(messages, model.NewHumanMessage(buildUserContent(req.UserMessage, req.Attachments)))
	return messages
}

// buildUserContent inlines parsed attachments after the user's text. An
// attachment without extracted text contributes its note instead, so the
// model knows the document exists even when it is opaque.
func buildUserContent(message string, attachments []Attachment) string {
	parts := []string{}
	if text := strings.TrimSpace(message); text != "" {
		parts = append(parts, text)
	}
	for _, att := range attachments {
		switch {
		case att.Text != "":
			parts = append(parts, fmt.Sprintf("[Attached document: %s]\n%s", att.Filename, att.Text))
		case att.Note != "":
			parts = append(parts, fmt.Sprintf("[Attachment: %s] %s", att.Filename, att.Note))
		default:
			parts = append(parts, fmt.Sprintf("[Attachment: %s]", att.Filename))
		}
	}
	return strings.Join(parts, "\n\n")
}
