package domain

import "time"

// StoredAnswers is a user's serialized quiz result. There is at most one
// per user; retaking the quiz overwrites it.
type StoredAnswers struct {
	UserID    string
	Username  string
	FullName  string
	Blob      string
	UpdatedAt time.Time
}

// MatchRecord is a cached similarity score seen from one user's side.
// It is never authoritative; scores are recomputed from stored answers.
// UserID is the other user's identity token and is never serialized.
type MatchRecord struct {
	UserID    string    `json:"-"`
	Username  string    `json:"username,omitempty"`
	FullName  string    `json:"full_name,omitempty"`
	Score     float64   `json:"score"`
	MatchedAt time.Time `json:"matched_at"`
}
