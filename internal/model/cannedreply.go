package model

import "time"

// CannedReply is a reusable quick message owned by one user. For the whole
// session the set lives either remote-backed or locally persisted, never
// partially both.
type CannedReply struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Shortcut  string    `json:"shortcut,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
