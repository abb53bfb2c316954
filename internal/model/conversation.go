package model

import (
	"strings"
	"time"
)

type ConversationStatus string

const (
	ConversationStatusOpen   ConversationStatus = "open"
	ConversationStatusClosed ConversationStatus = "closed"
)

// ConversationFilter selects which slice of the inbox a list call returns.
type ConversationFilter string

const (
	FilterOpen ConversationFilter = "open"
	FilterAll  ConversationFilter = "all"
)

// LastActivity is the denormalized preview of the newest message on a
// conversation. All four fields empty means the server sent no preview.
type LastActivity struct {
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Sender    SenderRole  `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`
}

func (a LastActivity) IsZero() bool {
	return a.Content == "" && a.Type == "" && a.Sender == "" && a.Timestamp.IsZero()
}

// Conversation is a customer contact thread as the engine sees it. Identity
// is immutable; the remaining fields mutate server-side and are watched by
// the reconciler. UpdatedAt is the server-assigned version marker.
type Conversation struct {
	ID              string             `json:"id"`
	Status          ConversationStatus `json:"status"`
	AssigneeID      string             `json:"assigneeId,omitempty"`
	AssigneeName    string             `json:"assigneeName,omitempty"`
	ContactIdentity string             `json:"contactIdentity"`
	ContactName     string             `json:"contactName,omitempty"`
	LastActivity    LastActivity       `json:"lastActivity"`
	AvatarRef       string             `json:"avatarRef,omitempty"`
	UnreadCount     int                `json:"unreadCount"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// NormalizeIdentity reduces a contact identity to its digits so the same
// contact matches regardless of punctuation or formatting.
func NormalizeIdentity(identity string) string {
	var b strings.Builder
	for _, r := range identity {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
