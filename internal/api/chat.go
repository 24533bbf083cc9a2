package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/studymate/internal/middleware"
	"github.com/ashureev/studymate/internal/session"
	"github.com/go-chi/chi/v5"
)

// ChatHandler relays student messages to the session tutor.
type ChatHandler struct {
	*Handler
	limiter *middleware.RateLimiter
}

// NewChatHandler creates a chat handler. A nil limiter disables throttling.
func NewChatHandler(base *Handler, limiter *middleware.RateLimiter) *ChatHandler {
	return &ChatHandler{Handler: base, limiter: limiter}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.Chat)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// Chat handles one student message.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(req.SessionID) {
		slog.Warn("Chat rate limited", "session_id", req.SessionID)
		w.Header().Set("Retry-After", "1")
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	reply, err := h.registry.Dispatch(r.Context(), req.SessionID, req.Message)
	if errors.Is(err, session.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		slog.Error("Chat failed", "error", err, "session_id", req.SessionID)
		Error(w, http.StatusInternalServerError, "Chat error: "+err.Error())
		return
	}

	JSON(w, http.StatusOK, chatResponse{Response: reply, SessionID: req.SessionID})
}
