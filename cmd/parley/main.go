package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parley-labs/parley/internal/config"
	"github.com/parley-labs/parley/internal/httpapi"
	"github.com/parley-labs/parley/internal/observability"
	"github.com/parley-labs/parley/internal/session"
	"github.com/parley-labs/parley/internal/speech"
	"github.com/parley-labs/parley/internal/store"
	"github.com/parley-labs/parley/internal/turn"
	"github.com/parley-labs/parley/internal/vad"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(256)

	ctx := context.Background()
	conversationStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer conversationStore.Close()

	var (
		transcriber speech.Transcriber
		responder   speech.Responder
	)

	providerMode := strings.ToLower(strings.TrimSpace(cfg.ProviderMode))
	if providerMode == "" {
		providerMode = "auto"
	}

	tryHTTP := func() bool {
		if strings.TrimSpace(cfg.TranscriberURL) == "" || strings.TrimSpace(cfg.ResponderURL) == "" {
			return false
		}
		transcriber = speech.NewHTTPTranscriber(cfg.TranscriberURL, cfg.TranscribeTimeout)
		responder = speech.NewHTTPResponder(cfg.ResponderURL, cfg.ResponderModel, cfg.GenerateTimeout)
		log.Printf("speech providers: http (%s, %s)", cfg.TranscriberURL, cfg.ResponderURL)
		return true
	}

	switch providerMode {
	case "http":
		if !tryHTTP() {
			log.Fatalf("APP_PROVIDER_MODE=http but APP_TRANSCRIBER_URL or APP_RESPONDER_URL is not set")
		}
	case "mock":
		transcriber = speech.NewMockTranscriber()
		responder = speech.NewMockResponder()
		log.Printf("speech providers: mock")
	case "auto":
		if !tryHTTP() {
			transcriber = speech.NewMockTranscriber()
			responder = speech.NewMockResponder()
			log.Printf("speech providers: mock (no provider endpoints configured)")
		}
	default:
		log.Fatalf("invalid APP_PROVIDER_MODE: %q (expected auto|http|mock)", cfg.ProviderMode)
	}

	sessions := session.NewRegistry(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		endCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := conversationStore.EndSession(endCtx, s.ID, time.Now().UTC()); err != nil {
			log.Printf("expire session %s: %v", s.ID, err)
		}
	})

	orchestrator := turn.NewOrchestrator(
		turn.Config{
			EnergyThreshold: cfg.EnergyThreshold,
			Thresholds: vad.Thresholds{
				Short:     cfg.ShortSilence,
				Medium:    cfg.MediumSilence,
				MinSpeech: cfg.MinSpeechDuration,
			},
			PendingAudioCap:   cfg.PendingAudioCap,
			MaxMessageChars:   cfg.MaxMessageChars,
			TranscribeTimeout: cfg.TranscribeTimeout,
			GenerateTimeout:   cfg.GenerateTimeout,
			DefaultLanguage:   cfg.DefaultLanguage,
			Model:             cfg.ResponderModel,
		},
		sessions,
		transcriber,
		responder,
		conversationStore,
		metrics,
		window,
	)

	api := httpapi.New(cfg, sessions, orchestrator, metrics, window)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
