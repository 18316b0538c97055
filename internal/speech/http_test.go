package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPTranscriberPostsWAV(t *testing.T) {
	var gotCT, gotLang string
	var gotBody int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		gotLang = r.URL.Query().Get("language")
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = n
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello there","confidence":0.87,"language":"en-US"}`))
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, 5*time.Second)
	got, err := tr.Transcribe(context.Background(), make([]byte, 3200), 16000, "en-US", false)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Text != "hello there" || got.Confidence != 0.87 {
		t.Fatalf("Transcribe() = %+v, want hello there / 0.87", got)
	}
	if gotCT != "audio/wav" {
		t.Fatalf("Content-Type = %q, want audio/wav", gotCT)
	}
	if gotLang != "en-US" {
		t.Fatalf("language query = %q, want en-US", gotLang)
	}
	if gotBody < 44 {
		t.Fatalf("body bytes = %d, want at least a WAV header", gotBody)
	}
}

func TestHTTPTranscriberStatusCodes(t *testing.T) {
	tests := []struct {
		status   int
		wantCode string
	}{
		{http.StatusTooManyRequests, "rate_limited"},
		{http.StatusServiceUnavailable, "unavailable"},
		{http.StatusBadGateway, "overloaded"},
		{http.StatusBadRequest, "provider_error"},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		tr := NewHTTPTranscriber(srv.URL, 5*time.Second)
		_, err := tr.Transcribe(context.Background(), []byte{0, 0}, 16000, "en-US", false)
		srv.Close()

		var pe *ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("status %d: error = %v, want ProviderError", tt.status, err)
		}
		if pe.Code != tt.wantCode {
			t.Fatalf("status %d: code = %q, want %q", tt.status, pe.Code, tt.wantCode)
		}
	}
}

func TestHTTPTranscriberTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can detect the
		// client disconnect and cancel the request context.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, 50*time.Millisecond)
	_, err := tr.Transcribe(context.Background(), []byte{0, 0}, 16000, "en-US", false)
	if err == nil {
		t.Fatalf("Transcribe() error = nil, want timeout")
	}
	if code := ErrorCode(err); code != "timeout" {
		t.Fatalf("ErrorCode() = %q, want timeout", code)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || !pe.Retryable() {
		t.Fatalf("timeout should be a retryable ProviderError, got %v", err)
	}
}

func TestHTTPResponderStreamsSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"delta\":\"Hello\"}\n\n"))
		w.Write([]byte("data: {\"delta\":\" world\",\"model\":\"m1\",\"tokens_used\":7}\n\n"))
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	var deltas []string
	rp := NewHTTPResponder(srv.URL, "fallback", 5*time.Second)
	reply, err := rp.Generate(context.Background(), GenerateRequest{SessionID: "s", Prompt: "hi"}, func(text string) error {
		deltas = append(deltas, text)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply.Content != "Helloworld" && reply.Content != "Hello world" {
		t.Fatalf("Content = %q, want assembled deltas", reply.Content)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %d, want 2", len(deltas))
	}
	if reply.Model != "m1" {
		t.Fatalf("Model = %q, want m1", reply.Model)
	}
	if reply.TokensUsed != 7 {
		t.Fatalf("TokensUsed = %d, want 7", reply.TokensUsed)
	}
}

func TestHTTPResponderPlainJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":"full reply","model":"m2","tokens_used":3}`))
	}))
	defer srv.Close()

	var deltas []string
	rp := NewHTTPResponder(srv.URL, "fallback", 5*time.Second)
	reply, err := rp.Generate(context.Background(), GenerateRequest{Prompt: "hi"}, func(text string) error {
		deltas = append(deltas, text)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply.Content != "full reply" || reply.Model != "m2" || reply.TokensUsed != 3 {
		t.Fatalf("reply = %+v, want full reply / m2 / 3", reply)
	}
	if len(deltas) != 1 || deltas[0] != "full reply" {
		t.Fatalf("deltas = %v, want single full delta", deltas)
	}
}

func TestHTTPResponderDeltaErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte("{\"delta\":\"a\"}\n{\"delta\":\"b\"}\n"))
	}))
	defer srv.Close()

	boom := errors.New("client gone")
	rp := NewHTTPResponder(srv.URL, "m", 5*time.Second)
	_, err := rp.Generate(context.Background(), GenerateRequest{Prompt: "hi"}, func(string) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Generate() error = %v, want handler error", err)
	}
}

func TestMockResponderStreamsWords(t *testing.T) {
	m := NewMockResponder()
	m.Content = "one two three"

	var got strings.Builder
	reply, err := m.Generate(context.Background(), GenerateRequest{Prompt: "x"}, func(text string) error {
		got.WriteString(text)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got.String() != "one two three" {
		t.Fatalf("streamed = %q, want %q", got.String(), "one two three")
	}
	if reply.Content != "one two three" || reply.TokensUsed != 3 {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestMockTranscriberStreamsPartials(t *testing.T) {
	m := NewMockTranscriber()
	m.Text = "book a table for two"

	var partials []string
	got, err := m.TranscribeStream(context.Background(), []byte{0, 0}, 16000, "en-US", false, func(p Transcription) error {
		partials = append(partials, p.Text)
		return nil
	})
	if err != nil {
		t.Fatalf("TranscribeStream() error = %v", err)
	}
	if got.Text != "book a table for two" {
		t.Fatalf("Text = %q, want full transcription", got.Text)
	}
	want := []string{"book", "book a", "book a table", "book a table for"}
	if len(partials) != len(want) {
		t.Fatalf("partials = %v, want %v", partials, want)
	}
	for i := range want {
		if partials[i] != want[i] {
			t.Fatalf("partials[%d] = %q, want %q", i, partials[i], want[i])
		}
	}
}

func TestMockTranscriberPartialHandlerErrorAborts(t *testing.T) {
	m := NewMockTranscriber()
	m.Text = "one two three"

	boom := errors.New("client gone")
	_, err := m.TranscribeStream(context.Background(), []byte{0, 0}, 16000, "en-US", false, func(Transcription) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("TranscribeStream() error = %v, want handler error", err)
	}
}

func TestMockTranscriberHonorsContext(t *testing.T) {
	m := NewMockTranscriber()
	m.Delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Transcribe(ctx, []byte{0, 0}, 16000, "en-US", false)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Transcribe() error = %v, want context deadline", err)
	}
}
