package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/matchbot/matchbot/internal/chat"
	"github.com/matchbot/matchbot/internal/domain"
	"github.com/matchbot/matchbot/internal/identity"
	"github.com/matchbot/matchbot/internal/store"
)

// registerLocks prevents concurrent registration for the same user.
var registerLocks sync.Map

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	_, hasAnswers, err := h.repo.GetAnswers(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to check answers", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     user.UserID,
		"username":    user.Username,
		"full_name":   user.FullName,
		"has_answers": hasAnswers,
	})
}

type registerRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// Register sets the username and display name of the current user.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	lock, _ := registerLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Registration already in progress", "user_id", userID)
		Error(w, http.StatusConflict, "registration_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		registerLocks.Delete(userID)
	}()

	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	username := domain.CleanUsername(req.Username)
	if !chat.ValidUsername(username) {
		Error(w, http.StatusBadRequest, "username must be 5-32 letters, digits or underscores")
		return
	}

	ctx := r.Context()
	owner, err := h.repo.GetUserByUsername(ctx, username)
	if err != nil {
		slog.Error("Failed to look up username", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to register")
		return
	}
	if owner != nil && owner.UserID != userID {
		Error(w, http.StatusConflict, "username_taken")
		return
	}

	user := &domain.User{UserID: userID, Username: username, FullName: strings.TrimSpace(req.FullName)}
	err = h.repo.UpsertUser(ctx, user)
	if errors.Is(err, store.ErrUsernameTaken) {
		Error(w, http.StatusConflict, "username_taken")
		return
	}
	if err != nil {
		slog.Error("Failed to register user", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to register")
		return
	}

	slog.Info("User registered", "user_id", userID, "username", username)
	JSON(w, http.StatusOK, map[string]string{
		"user_id":  userID,
		"username": username,
	})
}

// userResult is the public view of another user.
type userResult struct {
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
}

const defaultSearchLimit = 15

// SearchUsers finds registered users by part of their username or name.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultSearchLimit
	}

	users, err := h.repo.SearchUsers(r.Context(), r.URL.Query().Get("q"), limit+1)
	if err != nil {
		slog.Error("Failed to search users", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to search users")
		return
	}

	out := make([]userResult, 0, len(users))
	for _, u := range users {
		if u.UserID == userID || len(out) == limit {
			continue
		}
		out = append(out, userResult{Username: u.Username, FullName: u.FullName})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"users": out})
}
