package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the realtime conversation service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// Voice activity detection and turn taking.
	EnergyThreshold   float64
	ShortSilence      time.Duration
	MediumSilence     time.Duration
	MinSpeechDuration time.Duration

	// Protocol limits.
	MaxFrameBytes      int
	MaxAudioChunkBytes int
	MaxMessageChars    int
	PendingAudioCap    int

	// Provider selection and contracts.
	ProviderMode      string
	TranscriberURL    string
	ResponderURL      string
	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	DefaultLanguage   string
	ResponderModel    string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "parley"),
		AllowAnyOrigin:           false,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,

		EnergyThreshold:   0.01,
		ShortSilence:      700 * time.Millisecond,
		MediumSilence:     2000 * time.Millisecond,
		MinSpeechDuration: 300 * time.Millisecond,

		MaxFrameBytes:      500 * 1024,
		MaxAudioChunkBytes: 64 * 1024,
		MaxMessageChars:    8000,
		PendingAudioCap:    200,

		ProviderMode:      envOrDefault("APP_PROVIDER_MODE", "auto"),
		TranscriberURL:    stringsTrimSpace("APP_TRANSCRIBER_URL"),
		ResponderURL:      stringsTrimSpace("APP_RESPONDER_URL"),
		TranscribeTimeout: 10 * time.Second,
		GenerateTimeout:   30 * time.Second,
		DefaultLanguage:   envOrDefault("APP_DEFAULT_LANGUAGE", "en-US"),
		ResponderModel:    envOrDefault("APP_RESPONDER_MODEL", "parley-default"),

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.EnergyThreshold, err = floatFromEnv("APP_ENERGY_THRESHOLD", cfg.EnergyThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.ShortSilence, err = durationFromEnv("APP_SILENCE_SHORT", cfg.ShortSilence)
	if err != nil {
		return Config{}, err
	}
	cfg.MediumSilence, err = durationFromEnv("APP_SILENCE_MEDIUM", cfg.MediumSilence)
	if err != nil {
		return Config{}, err
	}
	cfg.MinSpeechDuration, err = durationFromEnv("APP_MIN_SPEECH", cfg.MinSpeechDuration)
	if err != nil {
		return Config{}, err
	}

	cfg.MaxFrameBytes, err = intFromEnv("APP_MAX_FRAME_BYTES", cfg.MaxFrameBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAudioChunkBytes, err = intFromEnv("APP_MAX_AUDIO_CHUNK_BYTES", cfg.MaxAudioChunkBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageChars, err = intFromEnv("APP_MAX_MESSAGE_CHARS", cfg.MaxMessageChars)
	if err != nil {
		return Config{}, err
	}
	cfg.PendingAudioCap, err = intFromEnv("APP_PENDING_AUDIO_CAP", cfg.PendingAudioCap)
	if err != nil {
		return Config{}, err
	}

	cfg.TranscribeTimeout, err = durationFromEnv("APP_TRANSCRIBE_TIMEOUT", cfg.TranscribeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerateTimeout, err = durationFromEnv("APP_GENERATE_TIMEOUT", cfg.GenerateTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.EnergyThreshold <= 0 || cfg.EnergyThreshold >= 1 {
		return Config{}, fmt.Errorf("APP_ENERGY_THRESHOLD must be in (0, 1)")
	}
	if cfg.ShortSilence <= 0 || cfg.MediumSilence <= cfg.ShortSilence {
		return Config{}, fmt.Errorf("silence tiers must satisfy 0 < short < medium")
	}
	if cfg.MinSpeechDuration <= 0 {
		return Config{}, fmt.Errorf("APP_MIN_SPEECH must be positive")
	}
	if cfg.MaxAudioChunkBytes <= 0 || cfg.MaxFrameBytes <= cfg.MaxAudioChunkBytes {
		return Config{}, fmt.Errorf("frame size ceiling must exceed the audio chunk ceiling")
	}
	if cfg.MaxMessageChars <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_MESSAGE_CHARS must be positive")
	}
	if cfg.PendingAudioCap <= 0 {
		return Config{}, fmt.Errorf("APP_PENDING_AUDIO_CAP must be positive")
	}
	if cfg.TranscribeTimeout <= 0 || cfg.GenerateTimeout <= 0 {
		return Config{}, fmt.Errorf("provider timeouts must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
