package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the session lifecycle position. Closed is terminal.
type State string

const (
	StateInit       State = "init"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateClosed     State = "closed"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session closed")
)

type Session struct {
	ID             string    `json:"session_id"`
	Language       string    `json:"language"`
	AutoDetect     bool      `json:"auto_detect_language"`
	State          State     `json:"state"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Registry struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Registry{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// FindOrCreate returns the existing session for id or creates one. An empty
// id gets a freshly issued UUID. Repeating the same id is idempotent and
// never resets session state.
func (r *Registry) FindOrCreate(id, language string, autoDetect bool) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if s, ok := r.sessions[id]; ok {
			if s.State == StateClosed {
				return nil, false, ErrClosed
			}
			s.LastActivityAt = time.Now().UTC()
			return clone(s), false, nil
		}
	} else {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	s := &Session{
		ID:             id,
		Language:       language,
		AutoDetect:     autoDetect,
		State:          StateInit,
		StartedAt:      now,
		LastActivityAt: now,
	}
	r.sessions[id] = s
	return clone(s), true, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.State == StateClosed {
		return ErrClosed
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetState moves the session between lifecycle states. Closed sessions
// reject every transition.
func (r *Registry) SetState(id string, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.State == StateClosed {
		return ErrClosed
	}
	s.State = state
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (r *Registry) IncrementTurns(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.TurnCount++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Close marks the session closed. Closing an already closed session is a
// no-op so that client SESSION_END and connection teardown can race safely.
func (r *Registry) Close(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.State = StateClosed
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if s.State != StateClosed {
			count++
		}
	}
	return count
}

func (r *Registry) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	r.mu.Lock()
	for id, s := range r.sessions {
		if s.State == StateClosed {
			delete(r.sessions, id)
			continue
		}
		if now.Sub(s.LastActivityAt) < r.inactivityTimeout {
			continue
		}
		s.State = StateClosed
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := r.onExpire
	r.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
