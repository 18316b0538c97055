package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
	messages map[string][]Message
	byID     map[string]msgRef
}

// msgRef locates a message by session and slice index so lookups survive
// slice growth on append.
type msgRef struct {
	sessionID string
	idx       int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]SessionRecord),
		messages: make(map[string][]Message),
		byID:     make(map[string]msgRef),
	}
}

func (s *InMemoryStore) SaveSession(_ context.Context, record SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	if existing, ok := s.sessions[record.ID]; ok {
		record.StartedAt = existing.StartedAt
	}
	s.sessions[record.ID] = record
	return nil
}

func (s *InMemoryStore) EndSession(_ context.Context, sessionID string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	record.EndedAt = endedAt
	s.sessions[sessionID] = record
	return nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	s.byID[msg.ID] = msgRef{sessionID: msg.SessionID, idx: len(s.messages[msg.SessionID]) - 1}
	return msg, nil
}

func (s *InMemoryStore) UpdateMessageStatus(_ context.Context, messageID string, status Status, errorDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.byID[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	msg := &s.messages[ref.sessionID][ref.idx]
	if msg.Status.Terminal() {
		return ErrTerminalStatus
	}
	msg.Status = status
	msg.ErrorDetail = errorDetail
	return nil
}

func (s *InMemoryStore) Messages(_ context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Message, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
