package turn

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/parley-labs/parley/internal/audio"
	"github.com/parley-labs/parley/internal/observability"
	"github.com/parley-labs/parley/internal/protocol"
	"github.com/parley-labs/parley/internal/reliability"
	"github.com/parley-labs/parley/internal/session"
	"github.com/parley-labs/parley/internal/speech"
	"github.com/parley-labs/parley/internal/store"
	"github.com/parley-labs/parley/internal/vad"
)

// Confidence at or below this marks the transcript low-confidence in
// message metadata.
const lowConfidenceFloor = 0.5

const historyLimit = 8

// Config carries the orchestrator tunables resolved from the environment.
type Config struct {
	EnergyThreshold   float64
	Thresholds        vad.Thresholds
	PendingAudioCap   int
	MaxMessageChars   int
	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	DefaultLanguage   string
	Model             string
}

// Orchestrator drives the per-connection conversation loop: audio in,
// silence-tier turn detection, then the transcribe/persist/generate pipeline.
type Orchestrator struct {
	cfg         Config
	sessions    *session.Registry
	transcriber speech.Transcriber
	responder   speech.Responder
	store       store.Store
	metrics     *observability.Metrics
	window      *observability.StageWindow
}

func NewOrchestrator(
	cfg Config,
	sessions *session.Registry,
	transcriber speech.Transcriber,
	responder speech.Responder,
	st store.Store,
	metrics *observability.Metrics,
	window *observability.StageWindow,
) *Orchestrator {
	if cfg.PendingAudioCap <= 0 {
		cfg.PendingAudioCap = 200
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = 8000
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 10 * time.Second
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 30 * time.Second
	}
	return &Orchestrator{
		cfg:         cfg,
		sessions:    sessions,
		transcriber: transcriber,
		responder:   responder,
		store:       st,
		metrics:     metrics,
		window:      window,
	}
}

// turnResult reports a finished pipeline back to the connection owner.
type turnResult struct {
	outcome string
}

// utterance is the audio snapshot handed to one pipeline run.
type utterance struct {
	chunks     [][]byte
	sampleRate int
	speechDur  time.Duration
}

func (u utterance) join() []byte {
	total := 0
	for _, c := range u.chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range u.chunks {
		out = append(out, c...)
	}
	return out
}

// RunConnection owns all per-session turn state for one websocket
// connection. It is the only goroutine that touches the VAD tracker and the
// pending audio buffer; pipeline goroutines report back over turnResults.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan protocol.Frame, outbound chan<- protocol.Frame) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	classifier := vad.NewClassifier(o.cfg.EnergyThreshold)
	tracker := vad.NewTracker(o.cfg.Thresholds)

	var (
		pending      [][]byte
		sampleRate   = 16000
		turnInFlight bool
		turnCancel   context.CancelFunc
		turnResults  = make(chan turnResult, 1)
		language     = s.Language
		autoDetect   = s.AutoDetect
		started      bool
	)
	if language == "" {
		language = o.cfg.DefaultLanguage
	}

	cancelActiveTurn := func() {
		if turnCancel != nil {
			turnCancel()
			turnCancel = nil
		}
	}
	defer cancelActiveTurn()

	for {
		select {
		case <-connCtx.Done():
			return connCtx.Err()

		case res := <-turnResults:
			turnInFlight = false
			turnCancel = nil
			o.metrics.TurnOutcomes.WithLabelValues(res.outcome).Inc()
			if res.outcome == "completed" {
				_ = o.sessions.IncrementTurns(s.ID)
			}
			if err := o.sessions.SetState(s.ID, session.StateListening); err != nil {
				log.Printf("turn: session %s back to listening: %v", s.ID, err)
			}

		case f, ok := <-inbound:
			if !ok {
				cancelActiveTurn()
				return nil
			}

			switch f.Type {
			case protocol.TypeSessionStart:
				var p protocol.SessionStartPayload
				if len(f.Payload) > 0 {
					if err := decodePayload(f.Payload, &p); err != nil {
						o.sendError(outbound, s.ID, "invalid_payload", err.Error(), false, "")
						continue
					}
				}
				if p.Language != "" {
					language = p.Language
				}
				autoDetect = autoDetect || p.AutoDetect
				if !started {
					started = true
					o.metrics.SessionEvents.WithLabelValues("session_start").Inc()
					if err := o.store.SaveSession(connCtx, store.SessionRecord{ID: s.ID, Language: language}); err != nil {
						log.Printf("turn: save session %s: %v", s.ID, err)
					}
				}
				if err := o.sessions.SetState(s.ID, session.StateListening); err != nil {
					o.sendError(outbound, s.ID, "session_closed", "session is closed", false, "")
					continue
				}
				o.sendCritical(outbound, mustFrame(protocol.TypeSessionReady, s.ID, protocol.SessionReadyPayload{
					SessionID:  s.ID,
					Language:   language,
					AutoDetect: autoDetect,
				}))

			case protocol.TypeHeartbeat:
				_ = o.sessions.Touch(s.ID)

			case protocol.TypeSessionEnd:
				cancelActiveTurn()
				o.metrics.SessionEvents.WithLabelValues("session_end").Inc()
				if err := o.store.EndSession(connCtx, s.ID, time.Now().UTC()); err != nil {
					log.Printf("turn: end session %s: %v", s.ID, err)
				}
				if _, err := o.sessions.Close(s.ID); err != nil {
					log.Printf("turn: close session %s: %v", s.ID, err)
				}
				return nil

			case protocol.TypeAudioData:
				var p protocol.AudioPayload
				if err := decodePayload(f.Payload, &p); err != nil {
					o.sendError(outbound, s.ID, "invalid_payload", err.Error(), false, "")
					continue
				}
				pcm, err := p.DecodePCM()
				if err != nil {
					o.sendError(outbound, s.ID, "invalid_audio", err.Error(), false, "")
					continue
				}
				if p.SampleRate > 0 {
					sampleRate = p.SampleRate
				}
				_ = o.sessions.Touch(s.ID)

				frame := vad.Frame{PCM: pcm, SampleRate: sampleRate, Timestamp: time.UnixMilli(f.Timestamp)}
				if p.Energy != nil {
					frame.Energy = *p.Energy
					frame.EnergySet = true
				}
				result := classifier.Classify(frame)
				cls, err := tracker.Update(result, audio.PCM16Duration(pcm, sampleRate))
				if err != nil {
					o.sendError(outbound, s.ID, "invalid_audio", err.Error(), false, "")
					continue
				}

				if result.IsSpeech {
					if len(pending) >= o.cfg.PendingAudioCap {
						pending = pending[1:]
						o.metrics.DroppedAudioChunks.Inc()
					}
					pending = append(pending, pcm)
				}

				if !cls.ShouldTrigger {
					continue
				}
				o.metrics.TurnTriggers.Inc()
				if turnInFlight {
					// One pipeline at a time; the next silence episode
					// gets its chance after this turn lands.
					o.window.ObserveIndicator("trigger_while_in_flight")
					continue
				}
				if len(pending) == 0 {
					continue
				}

				utt := utterance{chunks: pending, sampleRate: sampleRate, speechDur: tracker.SpeechDuration()}
				pending = nil
				tracker.Reset()

				turnInFlight = true
				if err := o.sessions.SetState(s.ID, session.StateProcessing); err != nil {
					log.Printf("turn: session %s to processing: %v", s.ID, err)
				}
				var turnCtx context.Context
				turnCtx, turnCancel = context.WithCancel(connCtx)
				go o.runTurn(turnCtx, s.ID, language, autoDetect, utt, outbound, turnResults)
			}
		}
	}
}

// runTurn executes one transcribe -> persist -> generate -> persist pipeline
// and reports the outcome. It never touches owner-loop state directly.
func (o *Orchestrator) runTurn(ctx context.Context, sessionID, language string, autoDetect bool, utt utterance, outbound chan<- protocol.Frame, results chan<- turnResult) {
	turnStart := time.Now()
	outcome := "completed"
	defer func() {
		o.window.Observe(observability.StageTurnTotal, time.Since(turnStart))
		o.metrics.ObserveTurnLatency(time.Since(turnStart))
		select {
		case results <- turnResult{outcome: outcome}:
		case <-ctx.Done():
		}
	}()

	pcm := utt.join()

	transcribeCtx, cancel := context.WithTimeout(ctx, o.cfg.TranscribeTimeout)
	stageStart := time.Now()
	tr, err := o.transcribe(transcribeCtx, sessionID, pcm, utt.sampleRate, language, autoDetect, outbound)
	cancel()
	o.window.Observe(observability.StageTranscribe, time.Since(stageStart))
	o.metrics.ObserveTranscribeLatency(time.Since(stageStart))
	if err != nil {
		code := speech.ErrorCode(err)
		o.metrics.ProviderErrors.WithLabelValues("transcriber", code).Inc()
		o.sendError(outbound, sessionID, code, "transcription failed", retryable(code), "")
		outcome = "transcribe_failed"
		return
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		// Nothing was said; end the turn quietly.
		outcome = "empty_transcript"
		return
	}
	text = truncateToBytes(text, o.cfg.MaxMessageChars)

	o.sendCritical(outbound, mustFrame(protocol.TypeTranscriptFinal, sessionID, protocol.TranscriptPayload{
		Text:       text,
		Confidence: tr.Confidence,
		IsFinal:    true,
		Language:   tr.Language,
	}))

	conf := tr.Confidence
	userMsg := store.Message{
		SessionID:  sessionID,
		Role:       store.RoleUser,
		Content:    text,
		Confidence: &conf,
		Status:     store.StatusProcessing,
		Metadata:   map[string]any{"speech_ms": utt.speechDur.Milliseconds()},
	}
	if conf <= lowConfidenceFloor {
		userMsg.Metadata["low_confidence"] = true
		o.window.ObserveIndicator("low_confidence")
	}
	stageStart = time.Now()
	userMsg, err = o.store.AppendMessage(ctx, userMsg)
	o.window.Observe(observability.StagePersistUser, time.Since(stageStart))
	if err != nil {
		log.Printf("turn: persist user message for %s: %v", sessionID, err)
		o.sendError(outbound, sessionID, "storage_error", "could not persist message", true, "")
		outcome = "persist_failed"
		return
	}

	history, err := o.store.Messages(ctx, sessionID, historyLimit)
	if err != nil {
		log.Printf("turn: load history for %s: %v", sessionID, err)
		history = nil
	}
	req := speech.GenerateRequest{
		SessionID: sessionID,
		Prompt:    text,
		Model:     o.cfg.Model,
	}
	for _, m := range history {
		if m.ID == userMsg.ID {
			continue
		}
		req.History = append(req.History, speech.HistoryEntry{Role: string(m.Role), Content: m.Content})
	}

	generateCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()

	var firstDelta bool
	stageStart = time.Now()
	reply, err := o.responder.Generate(generateCtx, req, func(delta string) error {
		if !firstDelta {
			firstDelta = true
			o.window.Observe(observability.StageFirstDelta, time.Since(stageStart))
		}
		o.sendBestEffort(outbound, mustFrame(protocol.TypeAssistantDelta, sessionID, protocol.AssistantDeltaPayload{Text: delta}))
		return ctx.Err()
	})
	o.window.Observe(observability.StageGenerate, time.Since(stageStart))
	o.metrics.ObserveGenerateLatency(time.Since(stageStart))

	// The user's words survive whatever happens to the reply.
	if uerr := o.store.UpdateMessageStatus(ctx, userMsg.ID, store.StatusCompleted, ""); uerr != nil {
		log.Printf("turn: complete user message %s: %v", userMsg.ID, uerr)
	}

	if err != nil {
		code := speech.ErrorCode(err)
		o.metrics.ProviderErrors.WithLabelValues("responder", code).Inc()
		o.sendError(outbound, sessionID, code, "response generation failed", retryable(code), userMsg.ID)
		outcome = "generate_failed"
		return
	}

	stageStart = time.Now()
	_, err = o.store.AppendMessage(ctx, store.Message{
		SessionID:    sessionID,
		Role:         store.RoleAssistant,
		Content:      reply.Content,
		Status:       store.StatusCompleted,
		Model:        reply.Model,
		TokensUsed:   reply.TokensUsed,
		ProcessingMs: reply.ProcessingTime.Milliseconds(),
	})
	o.window.Observe(observability.StagePersistAssistant, time.Since(stageStart))
	if err != nil {
		log.Printf("turn: persist assistant message for %s: %v", sessionID, err)
		o.sendError(outbound, sessionID, "storage_error", "could not persist message", true, userMsg.ID)
		outcome = "persist_failed"
		return
	}

	o.sendCritical(outbound, mustFrame(protocol.TypeAssistantDone, sessionID, protocol.AssistantDonePayload{
		Content:          reply.Content,
		Model:            reply.Model,
		TokensUsed:       reply.TokensUsed,
		ProcessingTimeMs: reply.ProcessingTime.Milliseconds(),
	}))
}

// transcribe runs the provider, streaming interim results to the client as
// transcript.partial frames when the provider can produce them.
func (o *Orchestrator) transcribe(ctx context.Context, sessionID string, pcm []byte, sampleRate int, language string, autoDetect bool, outbound chan<- protocol.Frame) (speech.Transcription, error) {
	st, ok := o.transcriber.(speech.StreamingTranscriber)
	if !ok {
		return o.transcriber.Transcribe(ctx, pcm, sampleRate, language, autoDetect)
	}
	return st.TranscribeStream(ctx, pcm, sampleRate, language, autoDetect, func(p speech.Transcription) error {
		o.sendBestEffort(outbound, mustFrame(protocol.TypeTranscriptPartial, sessionID, protocol.TranscriptPayload{
			Text:       p.Text,
			Confidence: p.Confidence,
			Language:   p.Language,
		}))
		return ctx.Err()
	})
}

// truncateToBytes caps text at max bytes without splitting a rune.
func truncateToBytes(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// sendCritical blocks briefly for frames the client must see; drops are
// counted when the socket stays saturated.
func (o *Orchestrator) sendCritical(outbound chan<- protocol.Frame, f protocol.Frame) {
	timer := time.NewTimer(600 * time.Millisecond)
	defer timer.Stop()
	select {
	case outbound <- f:
		o.metrics.WSMessages.WithLabelValues("out", string(f.Type)).Inc()
	case <-timer.C:
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

// sendBestEffort drops immediately when the writer is saturated. Used for
// delta bursts only.
func (o *Orchestrator) sendBestEffort(outbound chan<- protocol.Frame, f protocol.Frame) {
	select {
	case outbound <- f:
		o.metrics.WSMessages.WithLabelValues("out", string(f.Type)).Inc()
	default:
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func (o *Orchestrator) sendError(outbound chan<- protocol.Frame, sessionID, code, message string, retry bool, messageID string) {
	o.sendCritical(outbound, mustFrame(protocol.TypeError, sessionID, protocol.ErrorPayload{
		Message:   message,
		Code:      code,
		Retryable: retry,
		MessageID: messageID,
	}))
}

func mustFrame(t protocol.Type, sessionID string, payload any) protocol.Frame {
	f, err := protocol.NewOutbound(t, sessionID, payload, time.Now().UnixMilli())
	if err != nil {
		// Payloads are plain structs; marshal failure is a programming error.
		log.Printf("turn: encode %s frame: %v", t, err)
		return protocol.Frame{Type: t, SessionID: sessionID, Timestamp: time.Now().UnixMilli()}
	}
	return f
}

func decodePayload(raw []byte, dst any) error {
	return json.Unmarshal(raw, dst)
}

func retryable(code string) bool {
	return code == "storage_error" || reliability.IsRetryableOutcome(code)
}
