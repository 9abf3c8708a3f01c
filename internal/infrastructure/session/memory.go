package session

import (
	"context"
	"sync"
	"time"

	"github.com/wenda-project/wenda/internal/core/domain"
)

const (
	maxFeedbackPerSession = 10
	defaultMaxTurns       = 30
)

// MemoryDocContextStore keeps the last document context per session in
// process memory. Entries expire lazily on read.
type MemoryDocContextStore struct {
	mu      sync.RWMutex
	entries map[string]domain.SessionDocContext
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryDocContextStore(ttl time.Duration) *MemoryDocContextStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryDocContextStore{
		entries: make(map[string]domain.SessionDocContext),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryDocContextStore) Get(_ context.Context, sessionID string) (*domain.SessionDocContext, error) {
	s.mu.RLock()
	dc, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if s.now().Sub(dc.UpdatedAt) > s.ttl {
		s.mu.Lock()
		delete(s.entries, sessionID)
		s.mu.Unlock()
		return nil, nil
	}
	out := dc
	return &out, nil
}

func (s *MemoryDocContextStore) Put(_ context.Context, dc domain.SessionDocContext) error {
	if dc.SessionID == "" {
		return nil
	}
	if dc.UpdatedAt.IsZero() {
		dc.UpdatedAt = s.now()
	}
	s.mu.Lock()
	s.entries[dc.SessionID] = dc
	s.mu.Unlock()
	return nil
}

func (s *MemoryDocContextStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.entries, sessionID)
	s.mu.Unlock()
	return nil
}

// MemoryConversationStore keeps a bounded rolling question/answer
// history per session. The oldest turn is evicted once maxTurns is
// reached; an exact repeat of the latest turn is not appended again.
type MemoryConversationStore struct {
	mu       sync.Mutex
	turns    map[string][]domain.ConversationTurn
	maxTurns int
}

func NewMemoryConversationStore(maxTurns int) *MemoryConversationStore {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &MemoryConversationStore{
		turns:    make(map[string][]domain.ConversationTurn),
		maxTurns: maxTurns,
	}
}

func (s *MemoryConversationStore) Append(_ context.Context, sessionID, question, answer string) error {
	if sessionID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.turns[sessionID]
	if n := len(list); n > 0 && list[n-1].Question == question && list[n-1].Answer == answer {
		return nil
	}
	list = append(list, domain.ConversationTurn{Question: question, Answer: answer})
	if len(list) > s.maxTurns {
		list = list[len(list)-s.maxTurns:]
	}
	s.turns[sessionID] = list
	return nil
}

func (s *MemoryConversationStore) History(_ context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	if sessionID == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.turns[sessionID]
	out := make([]domain.ConversationTurn, len(list))
	copy(out, list)
	return out, nil
}

func (s *MemoryConversationStore) Reset(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.turns, sessionID)
	s.mu.Unlock()
	return nil
}

// MemoryFeedbackStore keeps a bounded rolling feedback list per
// session. The list resets whenever the question changes so feedback
// only ever refines the current question.
type MemoryFeedbackStore struct {
	mu      sync.Mutex
	entries map[string][]domain.FeedbackEntry
}

func NewMemoryFeedbackStore() *MemoryFeedbackStore {
	return &MemoryFeedbackStore{entries: make(map[string][]domain.FeedbackEntry)}
}

func (s *MemoryFeedbackStore) Append(_ context.Context, entry domain.FeedbackEntry) error {
	if entry.SessionID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[entry.SessionID]
	if len(list) > 0 && list[len(list)-1].Question != entry.Question {
		list = list[:0]
	}
	list = append(list, entry)
	if len(list) > maxFeedbackPerSession {
		list = list[len(list)-maxFeedbackPerSession:]
	}
	s.entries[entry.SessionID] = list
	return nil
}

func (s *MemoryFeedbackStore) List(_ context.Context, sessionID string) ([]domain.FeedbackEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[sessionID]
	out := make([]domain.FeedbackEntry, len(list))
	copy(out, list)
	return out, nil
}
