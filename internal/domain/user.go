// Package domain contains core domain types for the matchbot application.
package domain

import (
	"strings"
	"time"
)

// User is a registered chat participant.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username,omitempty"`
	FullName   string    `json:"full_name,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DisplayName returns the best human-readable name for the user.
func (u *User) DisplayName() string {
	switch {
	case u.FullName != "":
		return u.FullName
	case u.Username != "":
		return "@" + u.Username
	default:
		return "someone without a name"
	}
}

// Handle returns "@username", or the display name when no username is set.
func (u *User) Handle() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.DisplayName()
}

// CleanUsername strips surrounding whitespace and a leading "@".
func CleanUsername(username string) string {
	return strings.TrimPrefix(strings.TrimSpace(username), "@")
}
