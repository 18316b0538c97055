package speech

import (
	"context"
	"time"
)

// Transcription is the outcome of one speech-to-text call over a complete
// utterance.
type Transcription struct {
	Text       string
	Confidence float64
	Language   string
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string, autoDetect bool) (Transcription, error)
}

// PartialHandler receives interim transcriptions as the provider refines
// them. Returning an error aborts the call.
type PartialHandler func(t Transcription) error

// StreamingTranscriber is implemented by providers that surface interim
// results before the final transcription settles.
type StreamingTranscriber interface {
	Transcriber
	TranscribeStream(ctx context.Context, pcm []byte, sampleRate int, language string, autoDetect bool, onPartial PartialHandler) (Transcription, error)
}

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateRequest struct {
	SessionID string         `json:"session_id"`
	Prompt    string         `json:"prompt"`
	History   []HistoryEntry `json:"history,omitempty"`
	Model     string         `json:"model,omitempty"`
}

type Reply struct {
	Content        string
	Model          string
	TokensUsed     int
	ProcessingTime time.Duration
}

// DeltaHandler receives incremental response text as the provider produces
// it. Returning an error aborts the generation.
type DeltaHandler func(text string) error

type Responder interface {
	Generate(ctx context.Context, req GenerateRequest, onDelta DeltaHandler) (Reply, error)
}
