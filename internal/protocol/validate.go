package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxSessionIDLength = 36

// Validator checks inbound frames before dispatch. Expected validation
// failures are reported as results, never as panics or errors.
type Validator struct {
	MaxFrameBytes      int
	MaxAudioChunkBytes int
}

// ValidationResult reports the outcome of a frame validation pass.
type ValidationResult struct {
	Valid        bool
	ErrorMessage string
	Code         string
}

func valid() ValidationResult {
	return ValidationResult{Valid: true}
}

func invalid(code, format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Code: code, ErrorMessage: fmt.Sprintf(format, args...)}
}

// ValidateRaw applies the overall frame size ceiling. It runs on the raw
// bytes before any type-specific checks.
func (v Validator) ValidateRaw(raw []byte) ValidationResult {
	if len(raw) == 0 {
		return invalid("empty_frame", "frame cannot be empty")
	}
	if v.MaxFrameBytes > 0 && len(raw) > v.MaxFrameBytes {
		return invalid("frame_too_large", "frame size %d exceeds maximum %d", len(raw), v.MaxFrameBytes)
	}
	return valid()
}

// Validate checks a parsed inbound frame: known type, canonical session id,
// and type-specific payload constraints.
func (v Validator) Validate(f Frame) ValidationResult {
	if f.Type == "" {
		return invalid("missing_type", "Message type is required")
	}

	if res := validateSessionID(f.SessionID); !res.Valid {
		return res
	}

	switch f.Type {
	case TypeAudioData:
		return v.validateAudioPayload(f.Payload)
	case TypeSessionStart, TypeSessionEnd, TypeHeartbeat:
		return valid()
	default:
		return invalid("unsupported_type", "unsupported type: %s", f.Type)
	}
}

func validateSessionID(id string) ValidationResult {
	if strings.TrimSpace(id) == "" {
		return invalid("missing_session_id", "Session ID is required")
	}
	if len(id) > maxSessionIDLength {
		return invalid("invalid_session_id", "Session ID exceeds maximum length")
	}
	// uuid.Parse also accepts urn: and braced forms; the 36-char bound above
	// restricts acceptance to the canonical 8-4-4-4-12 encoding.
	if len(id) != maxSessionIDLength {
		return invalid("invalid_session_id", "Session ID format is invalid")
	}
	if _, err := uuid.Parse(id); err != nil {
		return invalid("invalid_session_id", "Session ID format is invalid")
	}
	return valid()
}

func (v Validator) validateAudioPayload(raw json.RawMessage) ValidationResult {
	if len(raw) == 0 {
		return invalid("missing_payload", "Audio data payload is required")
	}
	var p AudioPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return invalid("invalid_payload", "Audio data payload is malformed")
	}
	if strings.TrimSpace(p.PCM16Base64) == "" {
		return invalid("empty_audio", "Audio data cannot be empty")
	}
	if p.SampleRate <= 0 {
		return invalid("invalid_sample_rate", "Audio sample rate must be positive")
	}
	decoded := base64.StdEncoding.DecodedLen(len(p.PCM16Base64))
	if v.MaxAudioChunkBytes > 0 && decoded > v.MaxAudioChunkBytes {
		return invalid("audio_chunk_too_large", "Audio chunk size %d exceeds maximum %d", decoded, v.MaxAudioChunkBytes)
	}
	if p.Energy != nil && (*p.Energy < 0 || *p.Energy > 1) {
		return invalid("invalid_energy", "Audio energy must be between 0.0 and 1.0")
	}
	return valid()
}
