package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/studymate/internal/identity"
	"github.com/ashureev/studymate/internal/middleware"
	"github.com/ashureev/studymate/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Frame types exchanged with clients.
const (
	FrameMessage  = "message"
	FramePing     = "ping"
	FrameResponse = "response"
	FramePong     = "pong"
	FrameError    = "error"
)

const writeTimeout = 10 * time.Second

// Frame is one JSON message on the chat socket.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Sessions is the part of the session registry the relay needs.
type Sessions interface {
	Exists(ctx context.Context, sessionID string) (bool, error)
	Dispatch(ctx context.Context, sessionID, message string) (string, error)
}

// WebSocketHandler serves /ws/chat.
type WebSocketHandler struct {
	sessions      Sessions
	cm            *ConnManager
	limiter       *middleware.RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. A nil limiter disables throttling.
func NewWebSocketHandler(sessions Sessions, cm *ConnManager, limiter *middleware.RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:      sessions,
		cm:            cm,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromRequest(r)
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	ok, err := h.sessions.Exists(r.Context(), sessionID)
	if err != nil {
		slog.Error("Session lookup failed", "error", err, "session_id", sessionID)
		http.Error(w, "session lookup failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.cm.Register(sessionID, ws)
	defer h.cm.Unregister(sessionID, ws)

	ctx := identity.ContextWithSessionID(r.Context(), sessionID)
	h.readLoop(ctx, ws, sessionID)
	slog.Info("Chat connection ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var reply Frame
		switch frame.Type {
		case FramePing:
			reply = Frame{Type: FramePong}
		case FrameMessage:
			reply = h.handleMessage(ctx, sessionID, frame.Content)
		default:
			reply = Frame{Type: FrameError, Content: "unknown frame type: " + frame.Type}
		}

		if err := h.writeJSON(ctx, ws, reply); err != nil {
			slog.Debug("Failed to write frame", "error", err, "session_id", sessionID)
			return
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, sessionID, content string) Frame {
	if strings.TrimSpace(content) == "" {
		return Frame{Type: FrameError, Content: "message cannot be empty"}
	}
	if h.limiter != nil && !h.limiter.Allow(sessionID) {
		return Frame{Type: FrameError, Content: "rate limit exceeded"}
	}

	reply, err := h.sessions.Dispatch(ctx, sessionID, content)
	if errors.Is(err, session.ErrSessionNotFound) {
		return Frame{Type: FrameError, Content: "Session not found"}
	}
	if err != nil {
		slog.Error("Chat relay failed", "error", err, "session_id", sessionID)
		return Frame{Type: FrameError, Content: "Chat error: " + err.Error()}
	}
	return Frame{Type: FrameResponse, Content: reply}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, v)
}
