package preview

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ticket-sync-engine/internal/model"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	messages map[string][]model.Message
	err      error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:    make(map[string]int),
		messages: make(map[string][]model.Message),
	}
}

func (f *fakeFetcher) fetch(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[conversationID]++
	if f.err != nil {
		return nil, f.err
	}
	msgs := f.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func conv(id string, stamp time.Time, preview model.LastActivity) model.Conversation {
	return model.Conversation{
		ID:           id,
		Status:       model.ConversationStatusOpen,
		LastActivity: preview,
		UpdatedAt:    stamp,
	}
}

func TestFillBackfillsEmptyPreview(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	fetcher := newFakeFetcher()
	fetcher.messages["42"] = []model.Message{
		{ID: "m9", ConversationID: "42", Sender: model.SenderCustomer, Type: model.MessageTypeText, Content: "última", CreatedAt: base},
	}

	loader := NewLoader(fetcher.fetch, zerolog.Nop())
	conversations := []model.Conversation{conv("42", base, model.LastActivity{})}

	loader.Fill(context.Background(), conversations)

	got := conversations[0].LastActivity
	if got.Content != "última" || got.Sender != model.SenderCustomer || !got.Timestamp.Equal(base) {
		t.Fatalf("unexpected backfilled preview: %+v", got)
	}
}

func TestFillUsesCacheWhileStampUnchanged(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	fetcher := newFakeFetcher()
	fetcher.messages["42"] = []model.Message{
		{ID: "m9", ConversationID: "42", Content: "oi", Type: model.MessageTypeText, Sender: model.SenderCustomer, CreatedAt: base},
	}

	loader := NewLoader(fetcher.fetch, zerolog.Nop())

	loader.Fill(context.Background(), []model.Conversation{conv("42", base, model.LastActivity{})})
	loader.Fill(context.Background(), []model.Conversation{conv("42", base, model.LastActivity{})})

	if n := fetcher.callCount("42"); n != 1 {
		t.Fatalf("unchanged stamp must reuse cached preview, fetches=%d", n)
	}

	// A new version stamp invalidates the cached preview.
	loader.Fill(context.Background(), []model.Conversation{conv("42", base.Add(time.Minute), model.LastActivity{})})
	if n := fetcher.callCount("42"); n != 2 {
		t.Fatalf("stamp change must recompute preview, fetches=%d", n)
	}
}

func TestFillRespectsBatchLimit(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	fetcher := newFakeFetcher()

	loader := NewLoader(fetcher.fetch, zerolog.Nop())

	var conversations []model.Conversation
	for i := 0; i < 12; i++ {
		id := string(rune('a' + i))
		fetcher.messages[id] = []model.Message{{ID: "m", ConversationID: id, Content: "x", CreatedAt: base}}
		conversations = append(conversations, conv(id, base, model.LastActivity{}))
	}

	loader.Fill(context.Background(), conversations)

	total := 0
	for i := 0; i < 12; i++ {
		total += fetcher.callCount(string(rune('a' + i)))
	}
	if total != defaultBatchLimit {
		t.Fatalf("expected %d backfills per cycle, got %d", defaultBatchLimit, total)
	}
}

func TestServerPreviewPermanentlyWins(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	fetcher := newFakeFetcher()
	fetcher.messages["42"] = []model.Message{
		{ID: "m9", ConversationID: "42", Content: "local", CreatedAt: base},
	}

	loader := NewLoader(fetcher.fetch, zerolog.Nop())

	// Server starts sending its own preview.
	serverPreview := model.LastActivity{Content: "do servidor", Type: model.MessageTypeText, Sender: model.SenderCustomer, Timestamp: base}
	conversations := []model.Conversation{conv("42", base, serverPreview)}
	loader.Fill(context.Background(), conversations)

	if conversations[0].LastActivity != serverPreview {
		t.Fatalf("server preview must be untouched, got %+v", conversations[0].LastActivity)
	}
	if n := fetcher.callCount("42"); n != 0 {
		t.Fatalf("no backfill expected for server-provided preview, fetches=%d", n)
	}

	// Even if a later refresh arrives without the preview, the record is
	// marked server-capable and is never backfilled again.
	conversations = []model.Conversation{conv("42", base.Add(time.Minute), model.LastActivity{})}
	loader.Fill(context.Background(), conversations)

	if !conversations[0].LastActivity.IsZero() {
		t.Fatalf("server-capable conversation must not be backfilled, got %+v", conversations[0].LastActivity)
	}
	if n := fetcher.callCount("42"); n != 0 {
		t.Fatalf("no backfill expected after server capability, fetches=%d", n)
	}
}
