package logger

import (
	"fmt"
	"io"
	"regexp"
)

// redactRule pairs a pattern with the label stamped into its marker, so a
// scrubbed log line still says what kind of credential it dropped.
type redactRule struct {
	label string
	re    *regexp.Regexp
}

// defaultRules cover the credentials kantor actually handles: provider API
// keys from model profiles, bearer headers, and the usual password, token
// and secret key-value spills. The anthropic rule must precede the generic
// sk- rule so the label stays accurate.
var defaultRules = []redactRule{
	{"anthropic-key", regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`)},
	{"api-key", regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`)},
	{"bearer", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`)},
	{"aws-key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"password", regexp.MustCompile(`password["\s:=]+[^\s"]+`)},
	{"password", regexp.MustCompile(`pwd["\s:=]+[^\s"]+`)},
	{"token", regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`)},
	{"secret", regexp.MustCompile(`secret["\s:=]+[^\s"]+`)},
}

// Redactor scrubs credential material out of text before it reaches a log
// sink.
type Redactor struct {
	rules []redactRule
}

// NewRedactor returns a redactor armed with the default rule set.
func NewRedactor() *Redactor {
	rules := make([]redactRule, len(defaultRules))
	copy(rules, defaultRules)
	return &Redactor{rules: rules}
}

// AddPattern compiles an extra pattern into the rule set.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid redaction pattern: %w", err)
	}
	r.rules = append(r.rules, redactRule{label: "custom", re: re})
	return nil
}

// Redact replaces every rule match with a labeled marker.
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllString(s, "[REDACTED:"+rule.label+"]")
	}
	return s
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return redactWriter{sink: w, redactor: r}
}

type redactWriter struct {
	sink     io.Writer
	redactor *Redactor
}

// Write reports len(p) on success: redaction changes the byte count, and the
// io.Writer contract treats a shorter count as a failed write.
func (w redactWriter) Write(p []byte) (int, error) {
	if _, err := w.sink.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
