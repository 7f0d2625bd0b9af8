package session

import (
	"context"
	"sync"
	"time"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds conversation turns and the rolling summary. Durable backends
// live outside this module; MemoryStore serves the CLI and tests.
type Store interface {
	Append(ctx context.Context, conversationID string, turns ...Turn) error
	History(ctx context.Context, conversationID string) ([]Turn, error)
	ReplaceHistory(ctx context.Context, conversationID string, turns []Turn) error
	Summary(ctx context.Context, conversationID string) (string, error)
	SetSummary(ctx context.Context, conversationID, summary string) error
	TurnCount(ctx context.Context, conversationID string) (int, error)
}

type conversationState struct {
	turns   []Turn
	summary string
}

// MemoryStore is an in-memory Store implementation
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversationState
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*conversationState)}
}

func (s *MemoryStore) state(conversationID string) *conversationState {
	st, ok := s.conversations[conversationID]
	if !ok {
		st = &conversationState{}
		s.conversations[conversationID] = st
	}
	return st
}

// Append adds turns to a conversation, stamping CreatedAt when unset
func (s *MemoryStore) Append(_ context.Context, conversationID string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(conversationID)
	for _, turn := range turns {
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = time.Now()
		}
		st.turns = append(st.turns, turn)
	}
	return nil
}

// History returns a copy of the conversation's turns
func (s *MemoryStore) History(_ context.Context, conversationID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	out := make([]Turn, len(st.turns))
	copy(out, st.turns)
	return out, nil
}

// ReplaceHistory swaps the conversation's turns wholesale (compaction)
func (s *MemoryStore) ReplaceHistory(_ context.Context, conversationID string, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(conversationID)
	st.turns = make([]Turn, len(turns))
	copy(st.turns, turns)
	return nil
}

// Summary returns the conversation's rolling summary
func (s *MemoryStore) Summary(_ context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.conversations[conversationID]
	if !ok {
		return "", nil
	}
	return st.summary, nil
}

// SetSummary replaces the conversation's rolling summary
func (s *MemoryStore) SetSummary(_ context.Context, conversationID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state(conversationID).summary = summary
	return nil
}

// TurnCount returns the number of stored turns
func (s *MemoryStore) TurnCount(_ context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.conversations[conversationID]
	if !ok {
		return 0, nil
	}
	return len(st.turns), nil
}

// Window returns the trailing maxTurns turns, the whole history when it is
// shorter.
func Window(turns []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 || len(turns) <= maxTurns {
		return turns
	}
	return turns[len(turns)-maxTurns:]
}
