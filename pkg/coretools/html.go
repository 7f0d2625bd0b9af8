package coretools

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

var (
	commentPattern    = regexp.MustCompile(`(?is)<!--.*?-->`)
	scriptPattern     = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	stylePattern      = regexp.MustCompile(`(?is)<style.*?>.*?</style>`)
	noscriptPattern   = regexp.MustCompile(`(?is)<noscript.*?>.*?</noscript>`)
	breakPattern      = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockClosePattern = regexp.MustCompile(`(?i)</(p|div|li|tr|h1|h2|h3|h4|h5|h6|section|article)>`)
	tagPattern        = regexp.MustCompile(`(?s)<[^>]+>`)
	spacePattern      = regexp.MustCompile(`\s+`)
)

func looksLikeHTML(contentType, text string) bool {
	lowerCT := strings.ToLower(contentType)
	if strings.Contains(lowerCT, "text/html") || strings.Contains(lowerCT, "application/xhtml+xml") {
		return true
	}
	head := strings.ToLower(cutString(text, 400))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// extractHTMLText reduces a page to its visible text: scripts, styles and
// comments drop out, block-level closers become newlines, everything else
// loses its tags. Good enough for information lookup without a DOM parser.
func extractHTMLText(rawHTML string, maxChars int) string {
	page := commentPattern.ReplaceAllString(rawHTML, " ")
	page = scriptPattern.ReplaceAllString(page, " ")
	page = stylePattern.ReplaceAllString(page, " ")
	page = noscriptPattern.ReplaceAllString(page, " ")
	page = breakPattern.ReplaceAllString(page, "\n")
	page = blockClosePattern.ReplaceAllString(page, "\n")
	page = tagPattern.ReplaceAllString(page, " ")
	page = html.UnescapeString(page)

	var lines []string
	for _, line := range strings.Split(page, "\n") {
		normalized := strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
		if normalized != "" {
			lines = append(lines, normalized)
		}
	}

	out := strings.Join(lines, "\n")
	if len(out) > maxChars {
		out = cutString(out, maxChars)
	}
	return out
}

var scriptMarkers = []string{"function(", "var ", "const ", "let ", "window.", "document.", "=>"}

// looksLikeScriptPayload flags extracted "text" that is really bundled
// JavaScript or an anti-scraping shell, so the model is warned off it.
func looksLikeScriptPayload(text string) bool {
	sample := strings.ToLower(cutString(text, 6000))
	if sample == "" {
		return false
	}

	if strings.Contains(sample, "sourcemappingurl=") {
		return true
	}

	hits := 0
	for _, marker := range scriptMarkers {
		if strings.Contains(sample, marker) {
			hits++
		}
	}

	longestLine := 0
	for _, line := range strings.Split(sample, "\n") {
		if len(line) > longestLine {
			longestLine = len(line)
		}
	}

	punct := 0
	alpha := 0
	for _, r := range sample {
		if strings.ContainsRune(`{}[]();=<>/\*`, r) {
			punct++
		}
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	if alpha == 0 {
		alpha = 1
	}
	punctRatio := float64(punct) / float64(alpha)

	return (hits >= 3 && longestLine >= 220) || punctRatio >= 0.45
}
