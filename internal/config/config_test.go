package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.EnergyThreshold != 0.01 {
		t.Fatalf("EnergyThreshold = %v, want 0.01", cfg.EnergyThreshold)
	}
	if cfg.ShortSilence != 700*time.Millisecond || cfg.MediumSilence != 2000*time.Millisecond {
		t.Fatalf("silence tiers = %s/%s, want 700ms/2s", cfg.ShortSilence, cfg.MediumSilence)
	}
	if cfg.MaxAudioChunkBytes != 64*1024 {
		t.Fatalf("MaxAudioChunkBytes = %d, want %d", cfg.MaxAudioChunkBytes, 64*1024)
	}
	if cfg.MaxFrameBytes != 500*1024 {
		t.Fatalf("MaxFrameBytes = %d, want %d", cfg.MaxFrameBytes, 500*1024)
	}
}

func TestLoadRejectsInvertedSilenceTiers(t *testing.T) {
	t.Setenv("APP_SILENCE_SHORT", "3s")
	t.Setenv("APP_SILENCE_MEDIUM", "1s")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want tier ordering error")
	}
}

func TestLoadRejectsBadEnergyThreshold(t *testing.T) {
	t.Setenv("APP_ENERGY_THRESHOLD", "1.5")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want threshold range error")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("APP_MIN_SPEECH", "450ms")
	t.Setenv("APP_PENDING_AUDIO_CAP", "64")
	t.Setenv("APP_PROVIDER_MODE", "mock")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MinSpeechDuration != 450*time.Millisecond {
		t.Fatalf("MinSpeechDuration = %s, want 450ms", cfg.MinSpeechDuration)
	}
	if cfg.PendingAudioCap != 64 {
		t.Fatalf("PendingAudioCap = %d, want 64", cfg.PendingAudioCap)
	}
	if cfg.ProviderMode != "mock" {
		t.Fatalf("ProviderMode = %q, want %q", cfg.ProviderMode, "mock")
	}
}
