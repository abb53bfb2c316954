package apiclient

import (
	"context"

	"ticket-sync-engine/internal/model"
)

// AvatarStatus tags why an avatar lookup produced no URL. The negative cache
// keys its expiry off this tag.
type AvatarStatus string

const (
	AvatarStatusResolved    AvatarStatus = "resolved"
	AvatarStatusPending     AvatarStatus = "pending"
	AvatarStatusUnsupported AvatarStatus = "unsupported"
	AvatarStatusFailed      AvatarStatus = "failed"
)

// AvatarResult is the tagged outcome of an identity avatar lookup.
type AvatarResult struct {
	URL    string       `json:"url,omitempty"`
	Status AvatarStatus `json:"status"`
}

// ConnectionState reports whether the messaging gateway itself is connected
// upstream; it says nothing about this device's link.
type ConnectionState struct {
	Connected bool `json:"connected"`
}

// Gateway is the request/response interface the engine consumes. Every call
// may fail with *Error carrying ErrorCodeUnauthorized, which the caller must
// propagate as session death rather than retry.
type Gateway interface {
	ListConversations(ctx context.Context, filter model.ConversationFilter) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	SendMessage(ctx context.Context, conversationID, content, replyToID string) (model.Message, error)
	SetConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error
	MarkRead(ctx context.Context, conversationID string) error
	GetConnectionState(ctx context.Context) (ConnectionState, error)

	// Canned-reply CRUD. Any of these may answer feature_not_found, which
	// flips the capability-fallback controller to its local store.
	ListCannedReplies(ctx context.Context) ([]model.CannedReply, error)
	CreateCannedReply(ctx context.Context, reply model.CannedReply) (model.CannedReply, error)
	UpdateCannedReply(ctx context.Context, reply model.CannedReply) (model.CannedReply, error)
	DeleteCannedReply(ctx context.Context, id int64) error

	ResolveIdentityAvatar(ctx context.Context, identity string, forceRefresh bool) (AvatarResult, error)
}
