package failover

import (
	"context"
	"errors"
	"strings"

	"github.com/rasyid/kantor/pkg/model"
)

// classifyError returns the failover-eligible class of an error, or the
// empty string when the error must propagate without trying further
// candidates. Matching is lowercase-substring over the error text because
// provider SDKs stringify status codes and reasons inconsistently.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ""
	}
	if errors.Is(err, model.ErrProtocolShape) {
		return "protocol_shape"
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "context canceled") {
		return ""
	}

	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded", "etimedout"):
		return "timeout"
	case containsAny(msg, "429", "rate limit", "too many requests"):
		return "rate_limit"
	case containsAny(msg, "500", "502", "503", "504", "server error", "bad gateway", "service unavailable", "overloaded"):
		return "server_error"
	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "invalid api key", "authentication"):
		return "auth"
	case containsAny(msg, "quota", "billing", "credit balance"):
		return "quota"
	case containsAny(msg, "connection reset", "econnreset", "connection refused", "no such host", "broken pipe"):
		return "connection"
	}
	return ""
}

func containsAny(msg string, markers ...string) bool {
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
