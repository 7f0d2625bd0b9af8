package sandbox

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// sanitizeSegment lowercases, maps everything outside [a-z0-9] to '-', trims
// leading and trailing dashes, and truncates. Empty input becomes "x" so the
// segment never vanishes from a container name. ASCII-only keeps the result
// a valid container name regardless of what the conversation id holds.
func sanitizeSegment(raw string, limit int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	text := strings.Trim(b.String(), "-")
	if text == "" {
		text = "x"
	}
	if limit > 0 && len(text) > limit {
		text = text[:limit]
	}
	return text
}

// containerName derives the deterministic per-conversation container name:
// the same workspace and conversation always land on the same container.
func containerName(prefix, workspaceRoot, conversationID string) string {
	if conversationID == "" {
		conversationID = "anon"
	}
	sum := sha1.Sum([]byte(workspaceRoot))
	return fmt.Sprintf("%s-%s-%s",
		prefix,
		hex.EncodeToString(sum[:])[:8],
		sanitizeSegment(conversationID, 30),
	)
}
