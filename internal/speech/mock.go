package speech

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockTranscriber is a local fallback used when no transcription endpoint is
// configured. Text and Confidence can be set per test; Delay simulates
// provider latency and respects context cancellation.
type MockTranscriber struct {
	mu         sync.Mutex
	Text       string
	Confidence float64
	Err        error
	Delay      time.Duration
	calls      int
}

func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{Text: "simulated voice input", Confidence: 0.92}
}

func (m *MockTranscriber) Transcribe(ctx context.Context, pcm []byte, _ int, language string, _ bool) (Transcription, error) {
	m.mu.Lock()
	text, conf, errOut, delay := m.Text, m.Confidence, m.Err, m.Delay
	m.calls++
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Transcription{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if errOut != nil {
		return Transcription{}, errOut
	}
	if len(pcm) == 0 {
		text = ""
	}
	return Transcription{Text: text, Confidence: conf, Language: language}, nil
}

// TranscribeStream emits each growing word prefix as an interim result, then
// returns the full transcription.
func (m *MockTranscriber) TranscribeStream(ctx context.Context, pcm []byte, sampleRate int, language string, autoDetect bool, onPartial PartialHandler) (Transcription, error) {
	tr, err := m.Transcribe(ctx, pcm, sampleRate, language, autoDetect)
	if err != nil {
		return Transcription{}, err
	}
	if onPartial != nil {
		words := strings.Fields(tr.Text)
		for i := 1; i < len(words); i++ {
			partial := Transcription{
				Text:       strings.Join(words[:i], " "),
				Confidence: tr.Confidence,
				Language:   tr.Language,
			}
			if err := onPartial(partial); err != nil {
				return Transcription{}, err
			}
		}
	}
	return tr, nil
}

func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockResponder streams a canned reply word by word.
type MockResponder struct {
	mu      sync.Mutex
	Content string
	Model   string
	Err     error
	Delay   time.Duration
	calls   int
}

func NewMockResponder() *MockResponder {
	return &MockResponder{Content: "I hear you. Tell me more.", Model: "mock"}
}

func (m *MockResponder) Generate(ctx context.Context, _ GenerateRequest, onDelta DeltaHandler) (Reply, error) {
	start := time.Now()
	m.mu.Lock()
	content, model, errOut, delay := m.Content, m.Model, m.Err, m.Delay
	m.calls++
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if errOut != nil {
		return Reply{}, errOut
	}

	words := strings.Fields(content)
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		if onDelta != nil {
			delta := w
			if i < len(words)-1 {
				delta += " "
			}
			if err := onDelta(delta); err != nil {
				return Reply{}, err
			}
		}
	}
	return Reply{
		Content:        content,
		Model:          model,
		TokensUsed:     len(words),
		ProcessingTime: time.Since(start),
	}, nil
}

func (m *MockResponder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
