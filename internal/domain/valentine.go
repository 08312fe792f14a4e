package domain

import "time"

// Valentine is a message from one user to another. When Anonymous is set
// the sender must never be revealed to the recipient.
type Valentine struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"-"`
	RecipientID string    `json:"-"`
	SenderName  string    `json:"sender,omitempty"`
	Text        string    `json:"text"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Anonymous   bool      `json:"anonymous"`
	CreatedAt   time.Time `json:"created_at"`
}

// ForRecipient returns a copy safe to show to the recipient.
func (v Valentine) ForRecipient() Valentine {
	if v.Anonymous {
		v.SenderName = ""
	}
	return v
}
