package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistryFindOrCreateIssuesID(t *testing.T) {
	r := NewRegistry(time.Minute)
	s, created, err := r.FindOrCreate("", "en-US", false)
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	if !created {
		t.Fatalf("created = false, want true")
	}
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.State != StateInit {
		t.Fatalf("State = %q, want %q", s.State, StateInit)
	}
}

func TestRegistryFindOrCreateIdempotent(t *testing.T) {
	r := NewRegistry(time.Minute)
	first, _, err := r.FindOrCreate("sess-1", "it-IT", true)
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	if err := r.SetState(first.ID, StateListening); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	again, created, err := r.FindOrCreate("sess-1", "en-US", false)
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	if created {
		t.Fatalf("created = true, want false for existing session")
	}
	if again.Language != "it-IT" || !again.AutoDetect {
		t.Fatalf("session settings were reset: %+v", again)
	}
	if again.State != StateListening {
		t.Fatalf("State = %q, want %q", again.State, StateListening)
	}
}

func TestRegistryCloseIsTerminal(t *testing.T) {
	r := NewRegistry(time.Minute)
	s, _, err := r.FindOrCreate("", "en-US", false)
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	if _, err := r.Close(s.ID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := r.SetState(s.ID, StateListening); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetState() after Close error = %v, want ErrClosed", err)
	}
	if err := r.Touch(s.ID); !errors.Is(err, ErrClosed) {
		t.Fatalf("Touch() after Close error = %v, want ErrClosed", err)
	}
	if _, _, err := r.FindOrCreate(s.ID, "en-US", false); !errors.Is(err, ErrClosed) {
		t.Fatalf("FindOrCreate() on closed session error = %v, want ErrClosed", err)
	}

	// Close twice is fine.
	if _, err := r.Close(s.ID); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(time.Minute)
	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRegistryActiveCount(t *testing.T) {
	r := NewRegistry(time.Minute)
	a, _, _ := r.FindOrCreate("", "en-US", false)
	r.FindOrCreate("", "en-US", false)
	if got := r.ActiveCount(); got != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", got)
	}
	r.Close(a.ID)
	if got := r.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() after Close = %d, want 1", got)
	}
}

func TestRegistryJanitorExpiresInactive(t *testing.T) {
	r := NewRegistry(30 * time.Millisecond)
	s, _, err := r.FindOrCreate("", "en-US", false)
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}

	expired := make(chan string, 1)
	r.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired id = %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor never expired the session")
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != StateClosed {
		t.Fatalf("State = %q, want %q", got.State, StateClosed)
	}
}
