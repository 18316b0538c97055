package reliability

import (
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = false, want true", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = true, want false", code)
		}
	}
}

func TestIsRetryableOutcome(t *testing.T) {
	if !IsRetryableOutcome("timeout") {
		t.Fatalf("IsRetryableOutcome(timeout) = false, want true")
	}
	if IsRetryableOutcome("invalid_audio") {
		t.Fatalf("IsRetryableOutcome(invalid_audio) = true, want false")
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second
	if d := ExponentialBackoff(0, base, cap); d != base {
		t.Fatalf("attempt 0 = %s, want %s", d, base)
	}
	if d := ExponentialBackoff(2, base, cap); d != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %s, want 400ms", d)
	}
	if d := ExponentialBackoff(10, base, cap); d != cap {
		t.Fatalf("attempt 10 = %s, want cap %s", d, cap)
	}
}
