package store

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status tracks a message through the turn pipeline. Terminal states are
// Completed and Failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further status transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrTerminalStatus  = errors.New("message status is terminal")
)

// SessionRecord is the persisted view of a conversation session.
type SessionRecord struct {
	ID        string    `json:"id"`
	Language  string    `json:"language"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Message is one persisted conversational turn half. Content is immutable
// once written; only Status and ErrorDetail may change afterwards.
type Message struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Status       Status         `json:"status"`
	ErrorDetail  string         `json:"error_detail,omitempty"`
	Model        string         `json:"model,omitempty"`
	TokensUsed   int            `json:"tokens_used,omitempty"`
	ProcessingMs int64          `json:"processing_ms,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Store persists sessions and conversation messages.
type Store interface {
	SaveSession(ctx context.Context, record SessionRecord) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	UpdateMessageStatus(ctx context.Context, messageID string, status Status, errorDetail string) error
	Messages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	Close() error
}
