package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/studymate/internal/agent"
	"github.com/ashureev/studymate/internal/session"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Post("/create", h.Create)
		r.Get("/{sessionID}/history", h.History)
		r.Get("/{sessionID}/progress", h.Progress)
		r.Post("/{sessionID}/reset", h.Reset)
		r.Post("/{sessionID}/tools", h.RunTool)
	})
}

type createSessionRequest struct {
	GithubURL      string `json:"github_url"`
	StudentName    string `json:"student_name"`
	KnowledgeLevel string `json:"knowledge_level"`
}

// Create starts a new tutoring session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	res, err := h.registry.Create(r.Context(), session.CreateRequest{
		GithubURL:      req.GithubURL,
		StudentName:    req.StudentName,
		KnowledgeLevel: req.KnowledgeLevel,
	})
	if errors.Is(err, session.ErrInvalidRequest) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to create session: "+err.Error())
		return
	}

	JSON(w, http.StatusOK, res)
}

// History returns the display log of a session.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	msgs, err := h.registry.History(r.Context(), sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load history", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id":     sessionID,
		"messages":       msgs,
		"total_messages": len(msgs),
	})
}

// Progress returns the persisted learning progress, or an empty placeholder.
func (h *SessionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	p, found, err := h.registry.Progress(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to read progress", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "Error reading progress: "+err.Error())
		return
	}
	if !found {
		JSON(w, http.StatusOK, map[string]interface{}{
			"session_id":       sessionID,
			"concepts_covered": []any{},
			"message":          "No progress tracked yet",
		})
		return
	}

	JSON(w, http.StatusOK, p)
}

// Reset clears the tutor transcript of a session.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	err := h.registry.Reset(r.Context(), sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		slog.Error("Failed to reset session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     "reset",
	})
}

// RunTool executes one tool command for a session.
func (h *SessionHandler) RunTool(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	cmd := agent.ParseCommand(body)
	if invalid, ok := cmd.(agent.InvalidCommand); ok {
		JSON(w, http.StatusBadRequest, agent.ToolResult{Tool: agent.KindInvalid, Error: invalid.Reason})
		return
	}

	res, err := h.registry.RunTool(r.Context(), sessionID, cmd)
	if errors.Is(err, session.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		slog.Error("Tool dispatch failed", "error", err, "session_id", sessionID, "tool", cmd.Kind())
		Error(w, http.StatusInternalServerError, "tool dispatch failed")
		return
	}

	JSON(w, http.StatusOK, res)
}
