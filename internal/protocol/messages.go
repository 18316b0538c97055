package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies websocket frame variants.
type Type string

const (
	// Inbound (client -> server).
	TypeSessionStart Type = "SESSION_START"
	TypeSessionEnd   Type = "SESSION_END"
	TypeHeartbeat    Type = "HEARTBEAT"
	TypeAudioData    Type = "AUDIO_DATA"

	// Outbound (server -> client).
	TypeSessionReady      Type = "SESSION_READY"
	TypeTranscriptPartial Type = "transcript.partial"
	TypeTranscriptFinal   Type = "transcript.final"
	TypeAssistantDelta    Type = "assistant.delta"
	TypeAssistantDone     Type = "assistant.done"
	TypeError             Type = "error"
)

var ErrUnsupportedType = errors.New("unsupported type")

// Frame is the wire envelope shared by every protocol message. Payload is
// type-dependent; Timestamp is filled by the server when the client omits it.
type Frame struct {
	Type      Type              `json:"type"`
	SessionID string            `json:"session_id"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Timestamp int64             `json:"ts_ms,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionStartPayload carries optional language preferences.
type SessionStartPayload struct {
	Language   string `json:"language,omitempty"`
	AutoDetect bool   `json:"auto_detect,omitempty"`
}

// AudioPayload carries one chunk of PCM16LE mono audio. Energy is the
// client-side precomputed RMS on a [0,1] scale, when available.
type AudioPayload struct {
	PCM16Base64 string   `json:"pcm16_base64"`
	SampleRate  int      `json:"sample_rate"`
	Energy      *float64 `json:"energy,omitempty"`
}

// DecodePCM returns the raw PCM bytes of an audio payload.
func (p AudioPayload) DecodePCM() ([]byte, error) {
	if p.PCM16Base64 == "" {
		return nil, errors.New("empty audio payload")
	}
	pcm, err := base64.StdEncoding.DecodeString(p.PCM16Base64)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return pcm, nil
}

type SessionReadyPayload struct {
	SessionID  string `json:"session_id"`
	Language   string `json:"language"`
	AutoDetect bool   `json:"auto_detect"`
}

type TranscriptPayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
	Language   string  `json:"language,omitempty"`
}

type AssistantDeltaPayload struct {
	Text string `json:"text"`
}

type AssistantDonePayload struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	TokensUsed       int    `json:"tokens_used"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

type ErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
	// MessageID references the persisted user message when the failure
	// happened after transcription succeeded.
	MessageID string `json:"message_id,omitempty"`
}

// ParseClientFrame decodes an inbound frame envelope. It rejects unknown
// frame types; payload validation is the Validator's job.
func ParseClientFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("invalid frame: %w", err)
	}
	switch f.Type {
	case TypeSessionStart, TypeSessionEnd, TypeHeartbeat, TypeAudioData:
		return f, nil
	default:
		return Frame{}, ErrUnsupportedType
	}
}

// NewOutbound builds an outbound frame with a JSON-encoded payload.
func NewOutbound(t Type, sessionID string, payload any, tsMs int64) (Frame, error) {
	f := Frame{Type: t, SessionID: sessionID, Timestamp: tsMs}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		f.Payload = raw
	}
	return f, nil
}
