// Package gateway exposes the telephony webhook surface and the
// operator event feed. The voice platform drives a call by POSTing
// call/utterance/hangup webhooks; staff consoles follow sessions live
// over a WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/logging"
	"github.com/mvail/frontdesk/internal/session"
	"github.com/mvail/frontdesk/internal/version"
)

// Server is the frontdesk HTTP and WebSocket gateway.
type Server struct {
	cfg  config.GatewayConfig
	orch *session.Orchestrator
	hub  *Hub
	log  *logging.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
	startedAt  time.Time
}

// New creates a gateway server. The hub should also be wired into the
// orchestrator as its event sink so call turns reach the feed.
func New(cfg config.GatewayConfig, orch *session.Orchestrator, hub *Hub, log *logging.Logger) *Server {
	return &Server{
		cfg:  cfg,
		orch: orch,
		hub:  hub,
		log:  log.Sub("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Router builds the HTTP route tree.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Post("/telephony/call", s.handleCall)
	r.Post("/telephony/utterance", s.handleUtterance)
	r.Post("/telephony/hangup", s.handleHangup)
	r.Get("/sessions", s.handleSessions)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Start listens until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	bind := s.cfg.Bind
	if bind == "" {
		bind = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", bind, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.startedAt = time.Now()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("gateway listening")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type callRequest struct {
	CallID       string `json:"callId"`
	CallerNumber string `json:"callerNumber"`
}

type utteranceRequest struct {
	CallID string `json:"callId"`
	Text   string `json:"text"`
}

type replyResponse struct {
	CallID string `json:"callId"`
	Reply  string `json:"reply"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		writeError(w, http.StatusBadRequest, "callId is required")
		return
	}

	greeting, err := s.orch.StartCall(r.Context(), req.CallID, req.CallerNumber)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{CallID: req.CallID, Reply: greeting})
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		writeError(w, http.StatusBadRequest, "callId is required")
		return
	}

	reply, err := s.orch.HandleUtterance(r.Context(), req.CallID, req.Text)
	if err != nil {
		if errors.Is(err, domain.ErrSessionTerminated) {
			writeError(w, http.StatusGone, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{CallID: req.CallID, Reply: reply})
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		writeError(w, http.StatusBadRequest, "callId is required")
		return
	}

	if err := s.orch.EndCall(r.Context(), req.CallID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

type sessionSummary struct {
	SessionID    string              `json:"sessionId"`
	CallerNumber string              `json:"callerNumber"`
	State        domain.SessionState `json:"state"`
	TurnCount    int                 `json:"turnCount"`
	CreatedAt    time.Time           `json:"createdAt"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	live := s.orch.Sessions()
	out := make([]sessionSummary, 0, len(live))
	for _, sess := range live {
		out = append(out, sessionSummary{
			SessionID:    sess.ID,
			CallerNumber: sess.CallerNumber,
			State:        sess.State,
			TurnCount:    sess.TurnCount,
			CreatedAt:    sess.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       version.Version,
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
		"liveSessions":  len(s.orch.Sessions()),
		"wsClients":     s.hub.ClientCount(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("operator console connected")

	client := s.hub.add(conn)
	go s.hub.run(client)

	// Drain the read side so pings and close frames are processed; the
	// feed itself is one-way.
	go func() {
		defer s.hub.remove(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs each request with its chi request ID.
func requestLogger(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("requestId", middleware.GetReqID(r.Context())).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}
