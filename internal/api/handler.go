// Package api provides HTTP handlers for the matchbot API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matchbot/matchbot/internal/chat"
	"github.com/matchbot/matchbot/internal/store"
)

const maxBodyBytes = 64 << 10

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	router *chat.Router
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, router *chat.Router) *Handler {
	return &Handler{
		repo:   repo,
		router: router,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Post("/register", h.Register)
		r.Get("/users/search", h.SearchUsers)
		r.Post("/events", h.PostEvent)
		r.Get("/questions", h.GetQuestions)
		r.Get("/answers", h.GetAnswers)
		r.Get("/matches", h.GetMatches)
		r.Get("/matches/history", h.GetMatchHistory)
		r.Get("/valentines", h.GetValentines)
		r.Get("/stats", h.GetStats)
	})
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

// decodeBody reads a single JSON object, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
