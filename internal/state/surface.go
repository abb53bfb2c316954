// Package state is the reactive surface the rendering layer subscribes to.
// It owns the single authoritative selected-conversation id; every other
// layer reads selection from here and none of them may write it.
package state

import (
	"sync"

	"ticket-sync-engine/internal/model"
)

// Snapshot is what the UI renders. Slices inside a snapshot are never
// mutated after publication; the reconciler guarantees an unchanged fetch
// republishes the same slice, so subscribers can compare by reference.
type Snapshot struct {
	Conversations []model.Conversation
	// Messages holds the selected conversation's messages, oldest first.
	Messages     []model.Message
	QuickReplies []model.CannedReply
	// Unread maps conversation id to the UI-visible count,
	// max(server count, local overlay).
	Unread map[string]int
	// Historical marks conversations that are not the newest thread for
	// their contact. Derived client-side, never authoritative.
	Historical map[string]bool
	SelectedID string
	// Connected mirrors the gateway's upstream connection state.
	Connected bool
}

type Surface struct {
	mu      sync.RWMutex
	snap    Snapshot
	subs    map[int]chan struct{}
	nextSub int
	closed  bool
}

func NewSurface() *Surface {
	return &Surface{
		subs: make(map[int]chan struct{}),
	}
}

// Snapshot returns the current published state. The returned value shares
// slices with the surface; callers treat them as read-only.
func (s *Surface) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// SelectedID reads the authoritative selected-conversation id.
func (s *Surface) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.SelectedID
}

// Select writes the selected-conversation id. Only explicit user selection
// or programmatic navigation calls this, never a background refresh.
func (s *Surface) Select(conversationID string) {
	s.Update(func(snap *Snapshot) bool {
		if snap.SelectedID == conversationID {
			return false
		}
		snap.SelectedID = conversationID
		snap.Messages = nil
		return true
	})
}

// Update applies fn to a copy of the snapshot under the write lock and
// publishes it when fn reports a change. Subscribers get a coalesced
// notification.
func (s *Surface) Update(fn func(snap *Snapshot) bool) bool {
	s.mu.Lock()
	next := s.snap
	if !fn(&next) {
		s.mu.Unlock()
		return false
	}
	s.snap = next
	subs := make([]chan struct{}, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has a pending notification.
		}
	}
	return true
}

// Subscribe returns a channel that receives a signal whenever a new
// snapshot is published, and a cancel func releasing the subscription.
func (s *Surface) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close releases every subscriber. Further updates notify no one.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
