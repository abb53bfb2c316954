// Package preview fills the denormalized last-message preview for
// conversations the server sends without one, by fetching the single newest
// message. Backfills are cached against the conversation's version stamp and
// bounded per refresh cycle so a large inbox cannot trigger a fetch storm.
package preview

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ticket-sync-engine/internal/model"
)

const defaultBatchLimit = 5

// FetchNewest returns the most recent messages of a conversation, newest
// last, honouring limit.
type FetchNewest func(ctx context.Context, conversationID string, limit int) ([]model.Message, error)

type entry struct {
	stamp   time.Time
	preview model.LastActivity
}

type Loader struct {
	fetch      FetchNewest
	log        zerolog.Logger
	batchLimit int

	mu sync.Mutex
	// cache holds computed previews keyed by conversation id, valid only
	// while the conversation's UpdatedAt stamp is unchanged.
	cache map[string]entry
	// serverCapable marks conversations whose preview the server has sent
	// at least once; those are never backfilled again.
	serverCapable map[string]bool
}

func NewLoader(fetch FetchNewest, log zerolog.Logger) *Loader {
	return &Loader{
		fetch:         fetch,
		log:           log.With().Str("component", "preview-backfill").Logger(),
		batchLimit:    defaultBatchLimit,
		cache:         make(map[string]entry),
		serverCapable: make(map[string]bool),
	}
}

// Fill mutates conversations in place, populating empty previews. It is
// called on freshly fetched slices before they reach the reconciler, so the
// mutation never touches a published snapshot.
func (l *Loader) Fill(ctx context.Context, conversations []model.Conversation) {
	budget := l.batchLimit

	for i := range conversations {
		conv := &conversations[i]

		if !conv.LastActivity.IsZero() {
			l.markServerCapable(conv.ID)
			continue
		}
		if l.isServerCapable(conv.ID) {
			continue
		}

		if preview, ok := l.cached(conv.ID, conv.UpdatedAt); ok {
			conv.LastActivity = preview
			continue
		}

		if budget <= 0 {
			continue
		}
		budget--

		preview, ok := l.backfill(ctx, conv.ID)
		if !ok {
			continue
		}
		l.put(conv.ID, conv.UpdatedAt, preview)
		conv.LastActivity = preview
	}
}

func (l *Loader) backfill(ctx context.Context, conversationID string) (model.LastActivity, bool) {
	messages, err := l.fetch(ctx, conversationID, 1)
	if err != nil {
		l.log.Debug().Err(err).Str("conversationId", conversationID).Msg("preview backfill failed")
		return model.LastActivity{}, false
	}
	if len(messages) == 0 {
		return model.LastActivity{}, false
	}

	newest := messages[len(messages)-1]
	return model.LastActivity{
		Content:   newest.Content,
		Type:      newest.Type,
		Sender:    newest.Sender,
		Timestamp: newest.CreatedAt,
	}, true
}

func (l *Loader) cached(id string, stamp time.Time) (model.LastActivity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.cache[id]
	if !ok || !e.stamp.Equal(stamp) {
		return model.LastActivity{}, false
	}
	return e.preview, true
}

func (l *Loader) put(id string, stamp time.Time, preview model.LastActivity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[id] = entry{stamp: stamp, preview: preview}
}

func (l *Loader) markServerCapable(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.serverCapable[id] {
		l.serverCapable[id] = true
		delete(l.cache, id)
	}
}

func (l *Loader) isServerCapable(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serverCapable[id]
}
