package agent

import (
	"strings"
	"unicode"
)

// GateConfig holds the keyword lists the permission-stall detector matches
// against. A response stalls only when a permission phrase and an action word
// co-occur, which keeps ordinary clarifying questions out of the net.
type GateConfig struct {
	Phrases     []string
	ActionWords []string
}

// DefaultGateConfig returns the stock keyword lists.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Phrases: []string{
			"should i",
			"do you want me to",
			"would you like me to",
			"shall i",
			"let me know if you want",
			"may i proceed",
			"want me to proceed",
			"before i proceed",
			"please confirm",
		},
		ActionWords: []string{
			"file", "files", "directory", "folder", "path",
			"command", "script", "run", "execute", "read",
			"write", "create", "delete", "modify", "edit",
			"tool", "search", "download", "install",
		},
	}
}

// merge overlays non-empty configured lists onto the defaults.
func (g GateConfig) merge(phrases, actionWords []string) GateConfig {
	if len(phrases) > 0 {
		g.Phrases = phrases
	}
	if len(actionWords) > 0 {
		g.ActionWords = actionWords
	}
	return g
}

// LooksLikePermissionStall reports whether a tool-less assistant response
// reads like the model asking permission to act instead of acting. Phrases
// match as substrings; action words match whole tokens only.
func LooksLikePermissionStall(text string, cfg GateConfig) bool {
	lowered := strings.ToLower(text)
	if strings.TrimSpace(lowered) == "" {
		return false
	}

	phraseHit := false
	for _, phrase := range cfg.Phrases {
		if phrase != "" && strings.Contains(lowered, phrase) {
			phraseHit = true
			break
		}
	}
	if !phraseHit {
		return false
	}

	tokens := tokenSet(lowered)
	for _, word := range cfg.ActionWords {
		if tokens[word] {
			return true
		}
	}
	return false
}

// tokenSet splits text on non-alphanumeric runes into a membership set.
func tokenSet(text string) map[string]bool {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
