// Package api provides HTTP handlers for the StudyMate API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/studymate/internal/config"
	"github.com/ashureev/studymate/internal/session"
	"github.com/ashureev/studymate/internal/store"
)

const defaultMaxBodySize = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	registry    *session.Registry
	repo        store.Repository
	cfg         *config.Config
	maxBodySize int64
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(registry *session.Registry, repo store.Repository, cfg *config.Config) *Handler {
	h := &Handler{
		registry:    registry,
		repo:        repo,
		cfg:         cfg,
		maxBodySize: defaultMaxBodySize,
	}
	if cfg != nil && cfg.RateLimit.MaxRequestBodySize > 0 {
		h.maxBodySize = cfg.RateLimit.MaxRequestBodySize
	}
	return h
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// readBody reads a size-limited request body. It writes the error response
// itself and returns false when the body could not be read.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		Error(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// decodeBody decodes a size-limited JSON request body into v.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := h.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
