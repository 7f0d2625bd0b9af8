package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rasyid/kantor/internal/tracing"
	"github.com/rasyid/kantor/pkg/model"
)

const summarizerPrompt = "You are a conversation summarizer. Compress the " +
	"conversation history into a summary later turns can build on, preserving " +
	"goals, key constraints, completed actions, and open items."

const (
	maxSummaryTokens = 450
	// fallback transcript shape when the summary model is unavailable
	fallbackTurns     = 20
	fallbackLineChars = 220
	fallbackMaxChars  = 5000
)

// ModelInvoker invokes a model through a failover chain.
type ModelInvoker interface {
	Invoke(ctx context.Context, req model.Request, primary string, fallbacks []string) (*model.Response, string, []string, error)
}

// CompactorConfig holds compactor configuration
type CompactorConfig struct {
	Store               Store
	Invoker             ModelInvoker
	SummaryModel        string
	Fallbacks           []string
	Shape               model.Shape
	SummaryTriggerTurns int
	KeepLastTurns       int
	Logger              zerolog.Logger
}

// Compactor folds older turns of long conversations into a rolling summary
type Compactor struct {
	cfg CompactorConfig
}

// NewCompactor creates a compactor
func NewCompactor(cfg CompactorConfig) (*Compactor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.SummaryTriggerTurns < 1 {
		cfg.SummaryTriggerTurns = 24
	}
	if cfg.KeepLastTurns < 1 {
		cfg.KeepLastTurns = 8
	}
	return &Compactor{cfg: cfg}, nil
}

// Compact summarizes all but the most recent turns once the conversation
// outgrows the trigger. Returns whether anything was compacted.
func (c *Compactor) Compact(ctx context.Context, conversationID string) (bool, error) {
	history, err := c.cfg.Store.History(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("load history: %w", err)
	}
	if len(history) <= c.cfg.SummaryTriggerTurns {
		return false, nil
	}

	keep := clamp(c.cfg.KeepLastTurns, 2, 40)
	if len(history) <= keep {
		return false, nil
	}
	older := history[:len(history)-keep]
	recent := history[len(history)-keep:]

	existing, err := c.cfg.Store.Summary(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("load summary: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, c.cfg.Logger).With().
		Str("conversation_id", conversationID).Logger()

	summary := c.summarize(ctx, existing, older, logger)
	if err := c.cfg.Store.SetSummary(ctx, conversationID, summary); err != nil {
		return false, fmt.Errorf("store summary: %w", err)
	}
	if err := c.cfg.Store.ReplaceHistory(ctx, conversationID, recent); err != nil {
		return false, fmt.Errorf("replace history: %w", err)
	}

	logger.Info().
		Int("compacted_turns", len(older)).
		Int("kept_turns", len(recent)).
		Msg("Compacted conversation history")
	return true, nil
}

// summarize asks the summary model to fold older turns into the rolling
// summary, degrading to a raw transcript digest when the model call fails.
func (c *Compactor) summarize(ctx context.Context, existing string, older []Turn, logger zerolog.Logger) string {
	var transcript []string
	if existing != "" {
		transcript = append(transcript, fmt.Sprintf("Existing summary:\n%s\n", existing))
	}
	for _, turn := range older {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		role := turn.Role
		if role == "" {
			role = "user"
		}
		transcript = append(transcript, fmt.Sprintf("[%s] %s", role, text))
	}

	raw := strings.Join(transcript, "\n")
	if strings.TrimSpace(raw) == "" {
		return existing
	}

	if c.cfg.Invoker != nil && c.cfg.SummaryModel != "" {
		req := model.Request{
			Shape:        c.cfg.Shape,
			SystemPrompt: summarizerPrompt,
			Messages:     []model.Message{model.NewHumanMessage(raw)},
			MaxTokens:    maxSummaryTokens,
		}
		resp, _, _, err := c.cfg.Invoker.Invoke(ctx, req, c.cfg.SummaryModel, c.cfg.Fallbacks)
		if err == nil {
			if summarized := strings.TrimSpace(resp.Content); summarized != "" {
				return summarized
			}
		} else {
			logger.Warn().Err(err).Msg("Summary model unavailable, using transcript digest")
		}
	}

	return fallbackSummary(existing, older)
}

// fallbackSummary digests the tail of the older turns into flat lines.
func fallbackSummary(existing string, older []Turn) string {
	var lines []string
	if existing != "" {
		lines = append(lines, existing)
	}

	start := 0
	if len(older) > fallbackTurns {
		start = len(older) - fallbackTurns
	}
	for _, turn := range older[start:] {
		text := strings.TrimSpace(strings.ReplaceAll(turn.Text, "\n", " "))
		if text == "" {
			continue
		}
		if len(text) > fallbackLineChars {
			text = text[:fallbackLineChars]
		}
		role := turn.Role
		if role == "" {
			role = "user"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", role, text))
	}

	out := strings.Join(lines, "\n")
	if len(out) > fallbackMaxChars {
		out = out[:fallbackMaxChars]
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
