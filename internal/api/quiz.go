package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/matchbot/matchbot/internal/chat"
	"github.com/matchbot/matchbot/internal/domain"
	"github.com/matchbot/matchbot/internal/identity"
)

const maxListLimit = 100

// PostEvent feeds one chat event to the conversation router.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var ev chat.Event
	if err := decodeBody(w, r, &ev); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	replies := h.router.Handle(r.Context(), userID, ev)
	JSON(w, http.StatusOK, map[string]interface{}{"replies": replies})
}

// GetQuestions returns the question bank.
func (h *Handler) GetQuestions(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"questions": h.router.Bank().Questions(),
	})
}

// GetAnswers returns the current user's stored answers.
func (h *Handler) GetAnswers(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	lines, err := h.router.MyAnswers(r.Context(), userID)
	if errors.Is(err, chat.ErrNoAnswers) {
		Error(w, http.StatusNotFound, "no_answers")
		return
	}
	if err != nil {
		slog.Error("Failed to load answers", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load answers")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"answers": lines})
}

// GetMatches ranks other users against the current user.
func (h *Handler) GetMatches(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	matches, err := h.router.FindMatches(r.Context(), userID, limit)
	switch {
	case errors.Is(err, chat.ErrNoAnswers):
		Error(w, http.StatusNotFound, "no_answers")
		return
	case errors.Is(err, chat.ErrNotEnoughUsers):
		JSON(w, http.StatusOK, map[string]interface{}{"matches": []chat.RankedMatch{}})
		return
	case err != nil:
		slog.Error("Failed to find matches", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to find matches")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

// GetMatchHistory returns previously cached matches of the current user.
func (h *Handler) GetMatchHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = maxListLimit
	}

	matches, err := h.repo.ListMatches(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list matches", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list matches")
		return
	}
	if matches == nil {
		matches = []domain.MatchRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

// GetValentines returns the current user's inbox. Anonymous senders are hidden.
func (h *Handler) GetValentines(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = maxListLimit
	}

	valentines, err := h.repo.ListValentines(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list valentines", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list valentines")
		return
	}
	out := make([]domain.Valentine, 0, len(valentines))
	for _, v := range valentines {
		out = append(out, v.ForRecipient())
	}
	JSON(w, http.StatusOK, map[string]interface{}{"valentines": out})
}

// GetStats returns participation counters.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	users, err := h.repo.CountUsers(r.Context())
	if err != nil {
		slog.Error("Failed to count users", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	withAnswers, err := h.repo.CountUsersWithAnswers(r.Context())
	if err != nil {
		slog.Error("Failed to count answers", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	JSON(w, http.StatusOK, map[string]int{
		"users":              users,
		"users_with_answers": withAnswers,
		"questions":          h.router.Bank().Count(),
	})
}

// parseLimit reads ?limit=. Zero means "use the default".
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return 0, false
	}
	return n, true
}
