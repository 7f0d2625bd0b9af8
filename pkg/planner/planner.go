package planner

import (
	"fmt"

	"github.com/rasyid/kantor/pkg/model"
)

// hintKeys are the tool arguments worth surfacing in a plan line, in
// preference order.
var hintKeys = []string{"command", "path", "url", "query", "source", "archive_path"}

const maxHintChars = 60

// Synthesize derives the human-readable execution plan from the first
// tool-bearing assistant response: one line per requested call plus a
// closing line. Tool-less turns get no plan.
func Synthesize(calls []model.ToolCall) []string {
	if len(calls) == 0 {
		return nil
	}

	plan := make([]string, 0, len(calls)+1)
	for i, call := range calls {
		line := fmt.Sprintf("Step %d: %s", i+1, call.Name)
		if hint := argumentHint(call.Arguments); hint != "" {
			line = fmt.Sprintf("%s (%s)", line, hint)
		}
		plan = append(plan, line)
	}
	return append(plan, fmt.Sprintf("Step %d: compose final answer", len(calls)+1))
}

func argumentHint(args map[string]interface{}) string {
	for _, key := range hintKeys {
		value, ok := args[key]
		if !ok {
			continue
		}
		text, ok := value.(string)
		if !ok || text == "" {
			continue
		}
		if len(text) > maxHintChars {
			text = text[:maxHintChars-3] + "..."
		}
		return fmt.Sprintf("%s: %s", key, text)
	}
	return ""
}
