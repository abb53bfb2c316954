package model

import "time"

type SenderRole string

const (
	SenderAgent    SenderRole = "agent"
	SenderCustomer SenderRole = "customer"
	SenderSystem   SenderRole = "system"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeVideo    MessageType = "video"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeDocument MessageType = "document"
	MessageTypeSystem   MessageType = "system"
)

// DeliveryState is only meaningful for agent-authored messages; it is empty
// for customer and system messages.
type DeliveryState string

const (
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
	DeliveryFailed    DeliveryState = "failed"
)

// Message belongs to exactly one conversation. Within a conversation,
// messages are totally ordered by (CreatedAt, ID) ascending.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Sender         SenderRole    `json:"sender"`
	Type           MessageType   `json:"type"`
	Content        string        `json:"content"`
	ReplyToID      string        `json:"replyToId,omitempty"`
	Delivery       DeliveryState `json:"delivery,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Before reports the ordering of two messages within a conversation.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
