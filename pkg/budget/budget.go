package budget

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rasyid/kantor/internal/observability"
	"github.com/rasyid/kantor/pkg/model"
)

// TrimLevel reports how aggressively a tool result was reduced
type TrimLevel int

const (
	// TrimNone leaves the payload unchanged.
	TrimNone TrimLevel = iota
	// TrimSoft keeps the head and tail around a trimmed-chars marker.
	TrimSoft
	// TrimHard replaces the payload with a compact summary object.
	TrimHard
)

// String returns the trim level name
func (l TrimLevel) String() string {
	switch l {
	case TrimSoft:
		return "soft"
	case TrimHard:
		return "hard"
	default:
		return "none"
	}
}

// prunedSuffix marks a tool-result message already replaced by pruning.
const prunedSuffix = "pruned for context-size control]"

// Preview sizes for the hard-collapse summary object.
const (
	hardHeadPreviewChars = 2000
	hardTailPreviewChars = 1000
)

// Config holds the budgeter thresholds
type Config struct {
	SoftLimitChars    int
	HardLimitChars    int
	HeadChars         int
	TailChars         int
	KeepRecentResults int
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		SoftLimitChars:    40000,
		HardLimitChars:    180000,
		HeadChars:         20000,
		TailChars:         8000,
		KeepRecentResults: 3,
	}
}

// Budgeter keeps the growing conversation within size limits by trimming
// new tool results and pruning old ones
type Budgeter struct {
	cfg Config
}

// New creates a budgeter, replacing out-of-range thresholds with defaults
func New(cfg Config) *Budgeter {
	def := DefaultConfig()
	if cfg.SoftLimitChars < 1 {
		cfg.SoftLimitChars = def.SoftLimitChars
	}
	if cfg.HardLimitChars <= cfg.SoftLimitChars {
		cfg.HardLimitChars = cfg.SoftLimitChars * 4
	}
	if cfg.HeadChars < 1 {
		cfg.HeadChars = def.HeadChars
	}
	if cfg.TailChars < 1 {
		cfg.TailChars = def.TailChars
	}
	if cfg.KeepRecentResults < 1 {
		cfg.KeepRecentResults = def.KeepRecentResults
	}
	return &Budgeter{cfg: cfg}
}

// hardTrimSummary is the payload substituted above the hard limit.
type hardTrimSummary struct {
	Note          string `json:"note"`
	OriginalChars int    `json:"original_chars"`
	HeadPreview   string `json:"head_preview"`
	TailPreview   string `json:"tail_preview"`
}

// ShrinkToolResult decides whether a serialized tool result passes through
// unchanged, is truncated head/tail, or is hard-collapsed to a summary
func (b *Budgeter) ShrinkToolResult(raw string) (string, TrimLevel) {
	rawLen := len(raw)
	if rawLen <= b.cfg.SoftLimitChars {
		return raw, TrimNone
	}

	if rawLen <= b.cfg.HardLimitChars {
		headChars := b.cfg.HeadChars
		tailChars := b.cfg.TailChars
		if headChars+tailChars >= rawLen {
			return raw, TrimNone
		}
		trimmedChars := rawLen - headChars - tailChars
		payload := raw[:headChars] +
			fmt.Sprintf("\n...[%d chars trimmed]...\n", trimmedChars) +
			raw[rawLen-tailChars:]
		observability.RecordTrim(TrimSoft.String())
		return payload, TrimSoft
	}

	headPreview := raw[:minInt(minInt(hardHeadPreviewChars, b.cfg.HeadChars), rawLen)]
	tailPreview := raw[rawLen-minInt(minInt(hardTailPreviewChars, b.cfg.TailChars), rawLen):]
	summary := hardTrimSummary{
		Note:          fmt.Sprintf("tool result of %d chars exceeded the hard context limit and was collapsed", rawLen),
		OriginalChars: rawLen,
		HeadPreview:   headPreview,
		TailPreview:   tailPreview,
	}
	data, err := json.Marshal(summary)
	if err != nil {
		// Marshal of a plain string struct cannot realistically fail;
		// keep the head as a last resort rather than dropping the result.
		observability.RecordTrim(TrimHard.String())
		return headPreview, TrimHard
	}
	observability.RecordTrim(TrimHard.String())
	return string(data), TrimHard
}

// PruneOlderToolMessages replaces every tool-result message except the most
// recent K with a placeholder when the running total of tool-result content
// exceeds the hard limit. Already-pruned messages are skipped, so the pass
// is idempotent. Returns the number of messages replaced.
func (b *Budgeter) PruneOlderToolMessages(msgs []model.Message) int {
	total := 0
	for i := range msgs {
		if msgs[i].IsToolResult() {
			total += len(msgs[i].Content)
		}
	}
	if total <= b.cfg.HardLimitChars {
		return 0
	}

	kept := 0
	pruned := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].IsToolResult() {
			continue
		}
		if kept < b.cfg.KeepRecentResults {
			kept++
			continue
		}
		if strings.HasSuffix(msgs[i].Content, prunedSuffix) {
			continue
		}
		name := msgs[i].ToolName
		if name == "" {
			name = "tool"
		}
		msgs[i].Content = fmt.Sprintf("[Tool result from %s %s", name, prunedSuffix)
		pruned++
	}

	if pruned > 0 {
		observability.RecordPrunedMessages(pruned)
	}
	return pruned
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
