package toolexecutor

// ToolPolicy restricts which tools may run. Deny entries override allow
// entries, and "*" matches every tool.
type ToolPolicy struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// IsToolAllowed checks if a tool is allowed by the policy. A nil policy
// allows everything.
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	// An empty allow list keeps default-allow semantics; an explicit
	// allow list locks everything else out.
	return len(tp.Allow) == 0
}
