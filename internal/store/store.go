// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/matchbot/matchbot/internal/domain"
)

// ErrUsernameTaken is returned by UpsertUser when another user already
// holds the username.
var ErrUsernameTaken = errors.New("username taken")

// Repository defines the interface for persisting users, answers, matches
// and valentines.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when
	// the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByUsername looks a user up by username, ignoring case and a
	// leading "@". It returns nil, nil when nobody has that username.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// UpsertUser creates or updates a user record. It returns
	// ErrUsernameTaken when the username belongs to someone else.
	UpsertUser(ctx context.Context, user *domain.User) error

	// SearchUsers returns users with a username whose username or full name
	// contains query, ignoring case, most recently active first. An empty
	// query lists recent users.
	SearchUsers(ctx context.Context, query string, limit int) ([]domain.User, error)

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CountUsers returns the number of registered users.
	CountUsers(ctx context.Context) (int, error)

	// CountUsersWithAnswers returns the number of users with stored answers.
	CountUsersWithAnswers(ctx context.Context) (int, error)

	// PutAnswers stores the serialized quiz answers of a user, replacing
	// any previous result.
	PutAnswers(ctx context.Context, userID, blob string) error

	// GetAnswers returns the serialized answers of a user. ok is false when
	// the user has not completed the quiz.
	GetAnswers(ctx context.Context, userID string) (blob string, ok bool, err error)

	// ListAllWithAnswers returns every user that has stored answers.
	ListAllWithAnswers(ctx context.Context) ([]domain.StoredAnswers, error)

	// SaveMatch caches the similarity score of a pair of users.
	SaveMatch(ctx context.Context, userA, userB string, score float64) error

	// ListMatches returns cached matches of a user, best first.
	ListMatches(ctx context.Context, userID string, limit int) ([]domain.MatchRecord, error)

	// CleanupStaleMatches removes cached matches older than ttl.
	CleanupStaleMatches(ctx context.Context, ttl time.Duration) (int64, error)

	// SaveValentine stores a valentine in the recipient's inbox.
	SaveValentine(ctx context.Context, v *domain.Valentine) error

	// ListValentines returns the newest valentines received by a user.
	ListValentines(ctx context.Context, recipientID string, limit int) ([]domain.Valentine, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
