package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parley-labs/parley/internal/config"
	"github.com/parley-labs/parley/internal/observability"
	"github.com/parley-labs/parley/internal/protocol"
	"github.com/parley-labs/parley/internal/session"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan protocol.Frame, outbound chan<- protocol.Frame) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Registry
	orchestrator Orchestrator
	metrics      *observability.Metrics
	window       *observability.StageWindow
	validator    protocol.Validator
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Registry, orchestrator Orchestrator, metrics *observability.Metrics, window *observability.StageWindow) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		metrics:      metrics,
		window:       window,
		validator: protocol.Validator{
			MaxFrameBytes:      cfg.MaxFrameBytes,
			MaxAudioChunkBytes: cfg.MaxAudioChunkBytes,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. This prevents other
				// websites from driving the user's mic session if the
				// service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/sessions/ws", s.handleSessionWS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type createSessionRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	Language   string `json:"language,omitempty"`
	AutoDetect bool   `json:"auto_detect,omitempty"`
}

type createSessionResponse struct {
	SessionID       string        `json:"session_id"`
	Language        string        `json:"language"`
	AutoDetect      bool          `json:"auto_detect"`
	State           session.State `json:"state"`
	StartedAt       time.Time     `json:"started_at"`
	InactivityTTLMS int64         `json:"inactivity_ttl_ms"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = s.cfg.DefaultLanguage
	}

	sess, created, err := s.sessions.FindOrCreate(strings.TrimSpace(req.SessionID), req.Language, req.AutoDetect)
	if err != nil {
		respondError(w, http.StatusConflict, "session_closed", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	if created {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:       sess.ID,
		Language:        sess.Language,
		AutoDetect:      sess.AutoDetect,
		State:           sess.State,
		StartedAt:       sess.StartedAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.Close(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	if _, err := uuid.Parse(sessionID); err != nil || len(sessionID) != 36 {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a canonical UUID")
		return
	}

	// First contact may arrive over the websocket; unknown ids get a fresh
	// session, known ids reattach.
	sess, created, err := s.sessions.FindOrCreate(sessionID, s.cfg.DefaultLanguage, false)
	if err != nil {
		respondError(w, http.StatusConflict, "session_closed", "session already ended")
		return
	}
	if created {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.Frame, 256)
	outbound := make(chan protocol.Frame, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.orchestrator.RunConnection(ctx, sess, inbound, outbound)
		cancel()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(f); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(int64(s.cfg.MaxFrameBytes))
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if res := s.validator.ValidateRaw(data); !res.Valid {
			s.rejectFrame(outbound, sessionID, res)
			continue
		}
		frame, err := protocol.ParseClientFrame(data)
		if err != nil {
			// Re-run the validator on the raw envelope so the client gets
			// the precise failure (missing type vs unknown type).
			var f protocol.Frame
			_ = json.Unmarshal(data, &f)
			if f.SessionID == "" {
				f.SessionID = sessionID
			}
			res := s.validator.Validate(f)
			if res.Valid {
				res = protocol.ValidationResult{ErrorMessage: err.Error(), Code: "unsupported_type"}
			}
			s.rejectFrame(outbound, sessionID, res)
			continue
		}
		if frame.SessionID == "" {
			frame.SessionID = sessionID
		}
		if res := s.validator.Validate(frame); !res.Valid {
			s.rejectFrame(outbound, sessionID, res)
			continue
		}

		s.metrics.WSMessages.WithLabelValues("in", string(frame.Type)).Inc()
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- frame:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
}

// rejectFrame reports a validation failure without blocking the read loop.
// Writes stay single-threaded through the writer goroutine; the error is
// dropped if the outbound queue is saturated.
func (s *Server) rejectFrame(outbound chan<- protocol.Frame, sessionID string, res protocol.ValidationResult) {
	s.metrics.ValidationFailures.WithLabelValues(res.Code).Inc()
	f, err := protocol.NewOutbound(protocol.TypeError, sessionID, protocol.ErrorPayload{
		Message: res.ErrorMessage,
		Code:    res.Code,
	}, time.Now().UnixMilli())
	if err != nil {
		return
	}
	select {
	case outbound <- f:
	default:
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
