package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parley-labs/parley/internal/audio"
	"github.com/parley-labs/parley/internal/reliability"
)

// ProviderError carries a stable failure code alongside the underlying
// error so callers can classify retryability and report it on the wire.
type ProviderError struct {
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Retryable() bool {
	return reliability.IsRetryableOutcome(e.Code)
}

// ErrorCode extracts the provider failure code from err, mapping context
// expiry to "timeout" and everything unclassified to "provider_error".
func ErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "provider_error"
}

func transportCode(err error) string {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return "timeout"
	}
	return "unavailable"
}

func statusCode(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusServiceUnavailable:
		return "unavailable"
	case reliability.IsRetryableHTTPStatus(status):
		return "overloaded"
	default:
		return "provider_error"
	}
}

// HTTPTranscriber posts complete utterances as WAV to a speech-to-text
// endpoint and expects a JSON body with text/confidence/language fields.
type HTTPTranscriber struct {
	url    string
	client *http.Client
}

func NewHTTPTranscriber(url string, timeout time.Duration) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTranscriber{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string, autoDetect bool) (Transcription, error) {
	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return Transcription{}, fmt.Errorf("encode wav: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(wav))
	if err != nil {
		return Transcription{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	q := req.URL.Query()
	if language != "" {
		q.Set("language", language)
	}
	q.Set("auto_detect", strconv.FormatBool(autoDetect))
	req.URL.RawQuery = q.Encode()

	res, err := t.client.Do(req)
	if err != nil {
		return Transcription{}, &ProviderError{Code: transportCode(err), Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Transcription{}, &ProviderError{
			Code: statusCode(res.StatusCode),
			Err:  fmt.Errorf("transcriber status %d: %s", res.StatusCode, string(body)),
		}
	}

	var out struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Language   string  `json:"language"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Transcription{}, fmt.Errorf("decode response: %w", err)
	}
	if out.Language == "" {
		out.Language = language
	}
	return Transcription{Text: out.Text, Confidence: out.Confidence, Language: out.Language}, nil
}

// HTTPResponder forwards the conversation to a generation endpoint and
// consumes SSE or NDJSON deltas when the endpoint streams.
type HTTPResponder struct {
	url    string
	model  string
	client *http.Client
}

func NewHTTPResponder(url, model string, timeout time.Duration) *HTTPResponder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPResponder{
		url:    strings.TrimSpace(url),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResponder) Generate(ctx context.Context, req GenerateRequest, onDelta DeltaHandler) (Reply, error) {
	start := time.Now()
	if req.Model == "" {
		req.Model = r.model
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := r.client.Do(httpReq)
	if err != nil {
		return Reply{}, &ProviderError{Code: transportCode(err), Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Reply{}, &ProviderError{
			Code: statusCode(res.StatusCode),
			Err:  fmt.Errorf("responder status %d: %s", res.StatusCode, string(body)),
		}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		reply, err := r.consumeStreaming(res.Body, onDelta)
		if err != nil {
			return Reply{}, err
		}
		reply.Model = req.Model
		reply.ProcessingTime = time.Since(start)
		return reply, nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		text := strings.TrimSpace(string(body))
		if text != "" && onDelta != nil {
			if err := onDelta(text); err != nil {
				return Reply{}, err
			}
		}
		return Reply{Content: text, Model: req.Model, ProcessingTime: time.Since(start)}, nil
	}

	text := extractText(obj)
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return Reply{}, err
		}
	}
	reply := Reply{Content: text, Model: req.Model, ProcessingTime: time.Since(start)}
	if v, ok := obj["model"].(string); ok && v != "" {
		reply.Model = v
	}
	if v, ok := obj["tokens_used"].(float64); ok {
		reply.TokensUsed = int(v)
	}
	return reply, nil
}

func (r *HTTPResponder) consumeStreaming(body io.Reader, onDelta DeltaHandler) (Reply, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	var reply Reply
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = strings.TrimSpace(extractText(obj))
			if v, ok := obj["model"].(string); ok && v != "" {
				reply.Model = v
			}
			if v, ok := obj["tokens_used"].(float64); ok {
				reply.TokensUsed = int(v)
			}
		}

		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Reply{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Reply{}, fmt.Errorf("stream read: %w", err)
	}

	reply.Content = out.String()
	return reply, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "content", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
