package orchestrator

import (
	"sync"

	"github.com/rasyid/kantor/pkg/model"
)

// usageLedger tallies token usage per conversation and process-wide. Durable
// usage records live outside this module; the ledger only feeds the totals
// returned with each response.
type usageLedger struct {
	mu       sync.Mutex
	global   TokenTotals
	sessions map[string]TokenTotals
}

func newUsageLedger() *usageLedger {
	return &usageLedger{sessions: make(map[string]TokenTotals)}
}

// record adds one turn's usage and returns the updated session and global
// snapshots.
func (l *usageLedger) record(conversationID string, usage model.TokenUsage) (TokenTotals, TokenTotals) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global.add(usage)

	session := l.sessions[conversationID]
	session.add(usage)
	l.sessions[conversationID] = session

	return session, l.global
}

// totals returns the current session and global snapshots without recording.
func (l *usageLedger) totals(conversationID string) (TokenTotals, TokenTotals) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[conversationID], l.global
}
