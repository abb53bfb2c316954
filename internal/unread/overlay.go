// Package unread tracks a device-local "has new activity" overlay per
// conversation. The overlay only ever supplements the server's own unread
// counter and always defers to it: a positive server count, a selection, or
// a successful mark-read resets the local state.
package unread

import (
	"sync"
	"time"

	"ticket-sync-engine/internal/model"
)

// jitterTolerance absorbs clock skew and timestamp-format rounding between
// refreshes, so a re-fetch of unchanged data never counts as new activity.
const jitterTolerance = 2 * time.Second

type entry struct {
	baseline time.Time
	count    int
}

// Overlay is owned by one engine instance. selected reads the single
// authoritative selected-conversation id shared with the scheduler and the
// state surface.
type Overlay struct {
	selected func() string

	mu        sync.Mutex
	entries   map[string]*entry
	baselined bool
}

func NewOverlay(selected func() string) *Overlay {
	if selected == nil {
		selected = func() string { return "" }
	}
	return &Overlay{
		selected: selected,
		entries:  make(map[string]*entry),
	}
}

// Observe feeds a freshly fetched authoritative conversation list through
// the overlay state machine. The first call of a session only establishes
// baselines; pre-existing history must never manufacture unread counts.
// Entries for conversations that left the list are pruned.
func (o *Overlay) Observe(conversations []model.Conversation) {
	o.mu.Lock()
	defer o.mu.Unlock()

	selectedID := o.selected()
	seen := make(map[string]bool, len(conversations))

	for _, conv := range conversations {
		seen[conv.ID] = true
		activity := conv.LastActivity.Timestamp

		e, ok := o.entries[conv.ID]
		if !ok {
			o.entries[conv.ID] = &entry{baseline: activity}
			continue
		}

		switch {
		case conv.UnreadCount > 0:
			// Server truth wins and clears the local overlay.
			e.count = 0
			e.baseline = activity
		case conv.ID == selectedID:
			e.count = 0
			e.baseline = activity
		case o.baselined && activity.After(e.baseline.Add(jitterTolerance)):
			e.count++
			e.baseline = activity
		case activity.After(e.baseline):
			e.baseline = activity
		}
	}

	for id := range o.entries {
		if !seen[id] {
			delete(o.entries, id)
		}
	}

	o.baselined = true
}

// Reset clears the overlay for a conversation. Called when it becomes
// selected or an explicit mark-read round trip succeeds.
func (o *Overlay) Reset(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[conversationID]; ok {
		e.count = 0
	}
}

// Count returns the local overlay count for a conversation.
func (o *Overlay) Count(conversationID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[conversationID]; ok {
		return e.count
	}
	return 0
}

// Visible returns the unread count the UI should display.
func (o *Overlay) Visible(conv model.Conversation) int {
	local := o.Count(conv.ID)
	if conv.UnreadCount > local {
		return conv.UnreadCount
	}
	return local
}
