// Package reconcile decides whether a freshly fetched list or record is
// observably different from the one already published. When nothing the UI
// renders has changed, the functions return the currently published value
// itself; consumers rely on that reference equality to skip re-rendering.
package reconcile

import "ticket-sync-engine/internal/model"

// Conversations returns current unchanged when next is element-wise
// identical in length, order, id and every watched field. An empty list is
// only equal to another empty list.
func Conversations(current, next []model.Conversation) []model.Conversation {
	if len(current) != len(next) {
		return next
	}
	for i := range next {
		if !conversationEqual(current[i], next[i]) {
			return next
		}
	}
	return current
}

// Conversation returns current unchanged when next carries no watched-field
// change for the same record.
func Conversation(current, next model.Conversation, published bool) (model.Conversation, bool) {
	if published && conversationEqual(current, next) {
		return current, false
	}
	return next, true
}

func conversationEqual(a, b model.Conversation) bool {
	return a.ID == b.ID &&
		a.Status == b.Status &&
		a.AssigneeID == b.AssigneeID &&
		a.AssigneeName == b.AssigneeName &&
		a.ContactIdentity == b.ContactIdentity &&
		a.ContactName == b.ContactName &&
		a.AvatarRef == b.AvatarRef &&
		a.UnreadCount == b.UnreadCount &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		lastActivityEqual(a.LastActivity, b.LastActivity)
}

func lastActivityEqual(a, b model.LastActivity) bool {
	return a.Content == b.Content &&
		a.Type == b.Type &&
		a.Sender == b.Sender &&
		a.Timestamp.Equal(b.Timestamp)
}

// Messages returns current unchanged when membership, order and every
// watched field match.
func Messages(current, next []model.Message) []model.Message {
	if len(current) != len(next) {
		return next
	}
	for i := range next {
		if !messageEqual(current[i], next[i]) {
			return next
		}
	}
	return current
}

func messageEqual(a, b model.Message) bool {
	return a.ID == b.ID &&
		a.ConversationID == b.ConversationID &&
		a.Sender == b.Sender &&
		a.Type == b.Type &&
		a.Content == b.Content &&
		a.ReplyToID == b.ReplyToID &&
		a.Delivery == b.Delivery &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

// CannedReplies returns current unchanged when the two lists match
// element-wise.
func CannedReplies(current, next []model.CannedReply) []model.CannedReply {
	if len(current) != len(next) {
		return next
	}
	for i := range next {
		if !cannedReplyEqual(current[i], next[i]) {
			return next
		}
	}
	return current
}

func cannedReplyEqual(a, b model.CannedReply) bool {
	return a.ID == b.ID &&
		a.UserID == b.UserID &&
		a.Shortcut == b.Shortcut &&
		a.Title == b.Title &&
		a.Content == b.Content &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
