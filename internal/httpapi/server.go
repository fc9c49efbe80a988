// Package httpapi exposes the gateway's admin and realtime surface
// (§6.3): health/metrics, session inspection, token issuance, and the
// /voice/{session_id} websocket upgrade that hands a connection off to
// the turn orchestrator.
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
	"github.com/gorilla/websocket"

	"github.com/antoniostano/samantha/internal/auth"
	"github.com/antoniostano/samantha/internal/config"
	"github.com/antoniostano/samantha/internal/observability"
	"github.com/antoniostano/samantha/internal/protocol"
	"github.com/antoniostano/samantha/internal/session"
	"github.com/antoniostano/samantha/internal/voice"
)

// Orchestrator runs one session's turn state machine over a demultiplexed
// inbound channel, emitting protocol messages on outbound.
type Orchestrator interface {
	RunConnection(ctx context.Context, sessionID, userID string, inbound <-chan voice.Inbound, outbound chan<- any) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Store
	orchestrator Orchestrator
	metrics      *observability.Metrics
	issuer       *auth.Issuer
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Store, orchestrator Orchestrator, metrics *observability.Metrics, issuer *auth.Issuer) *Server {
	allowAny := len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*"
	allowed := make(map[string]struct{}, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		allowed[strings.ToLower(o)] = struct{}{}
	}

	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		metrics:      metrics,
		issuer:       issuer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAny {
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
				if strings.EqualFold(u.Host, r.Host) {
					return true
				}
				_, ok := allowed[strings.ToLower(origin)]
				return ok
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetricsJSON)
	r.Get("/metrics/prom", func(w http.ResponseWriter, r *http.Request) {
		observability.Handler().ServeHTTP(w, r)
	})

	r.Post("/auth/token", s.handleIssueToken)

	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Delete("/sessions/{id}", s.handleDeleteSession)
	r.Delete("/sessions/cleanup", s.handleCleanupSessions)

	r.Get("/voice/{session_id}", s.handleVoiceWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessionStoreStatus := "ok"
	activeSessions, err := s.sessions.Count(r.Context())
	if err != nil {
		sessionStoreStatus = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"environment":     s.cfg.Environment,
		"active_sessions": activeSessions,
		"components": map[string]string{
			"session_store": sessionStoreStatus,
		},
	})
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	lastN := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("last_n")); raw != "" {
		if n, err := parseNonNegativeInt(raw); err == nil {
			lastN = n
		}
	}
	respondJSON(w, http.StatusOK, s.metrics.Stats(lastN))
}

type tokenRequest struct {
	UserID string `json:"user_id"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresIn int64  `json:"expires_in"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = auth.NewGuestUserID()
	}

	token, expiresIn, err := s.issuer.IssueToken(userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token_issue_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		UserID:    userID,
		ExpiresIn: int64(expiresIn.Seconds()),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sessions.ListActive(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_sessions_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_ids": ids, "count": len(ids)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ObserveSessionEvent("deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanupSessions(w http.ResponseWriter, r *http.Request) {
	removed, err := s.sessions.CleanupExpired(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cleanup_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// handleVoiceWS upgrades the connection, resolves or creates the
// session, and runs the orchestrator until the client disconnects
// (§4.9, §6.1). The session identity is taken from the path; when the
// path id names no stored session, a new session is created under a
// freshly generated id and the connection runs against that id. An
// optional ?token= query parameter degrades to a guest identity per
// §6.2 rather than rejecting the connection. On disconnect the session
// state is set to idle.
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session id path segment is required")
		return
	}

	userID := s.issuer.ResolveUserID(strings.TrimSpace(r.URL.Query().Get("token")))

	ctx := r.Context()
	d, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		created, createErr := s.sessions.Create(ctx, userID, map[string]any{})
		if createErr != nil {
			respondError(w, http.StatusInternalServerError, "session_create_failed", createErr.Error())
			return
		}
		d = created
		sessionID = d.SessionID
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, "session_lookup_failed", err.Error())
		return
	} else {
		userID = d.UserID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	runCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan voice.Inbound, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.orchestrator.RunConnection(runCtx, sessionID, userID, inbound, outbound); err != nil {
			s.metrics.ObserveSessionEvent("run_error")
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveWSWriteError("write_json")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
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

		switch msgType {
		case websocket.BinaryMessage:
			if len(data) <= 100 {
				// Too small to be audio; treat as keepalive noise (§4.9).
				continue
			}
			s.metrics.ObserveWSMessage("inbound", "audio")
			select {
			case <-runCtx.Done():
				break readLoop
			case inbound <- voice.Inbound{Kind: voice.InboundAudio, Audio: data}:
			}
		case websocket.TextMessage:
			control, err := protocol.ParseClientControl(data)
			if err != nil {
				s.metrics.ObserveOutboundMessage("control_parse_error", "drop")
				continue
			}
			s.metrics.ObserveWSMessage("inbound", string(control.Type))
			select {
			case <-runCtx.Done():
				break readLoop
			case inbound <- voice.Inbound{Kind: voice.InboundControl, Control: control}:
			}
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone

	_, _ = s.sessions.Update(context.Background(), sessionID, session.UpdateOptions{State: session.StateIdle})
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

func parseNonNegativeInt(raw string) (int, error) {
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, errors.New("not a number")
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.StateChange:
		return m.Type, true
	case protocol.TranscriptUpdate:
		return m.Type, true
	case protocol.Audio:
		return m.Type, true
	case protocol.AudioMetrics:
		return m.Type, true
	case protocol.VADStatus:
		return m.Type, true
	case protocol.InterruptAck:
		return m.Type, true
	case protocol.ErrorMessage:
		return m.Type, true
	default:
		return "", false
	}
}
