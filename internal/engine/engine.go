// Package engine wires the sync components into one instance with a single
// teardown path. All caches, counters and timers are owned here; disposing
// the engine releases every timer, in-flight lookup and the realtime socket.
package engine

import (
	"context"
	"maps"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ticket-sync-engine/internal/apiclient"
	"ticket-sync-engine/internal/avatar"
	"ticket-sync-engine/internal/model"
	"ticket-sync-engine/internal/preview"
	"ticket-sync-engine/internal/quickreply"
	"ticket-sync-engine/internal/realtime"
	"ticket-sync-engine/internal/reconcile"
	"ticket-sync-engine/internal/scheduler"
	"ticket-sync-engine/internal/session"
	"ticket-sync-engine/internal/state"
	"ticket-sync-engine/internal/unread"
)

const (
	keyConversations = "conversations"
	keyQuickReplies  = "quickreplies"
	keyMessages      = "messages"

	defaultConversationInterval = 10 * time.Second
	defaultMessageInterval      = 3 * time.Second
	defaultQuickReplyInterval   = time.Minute
	defaultMessageLimit         = 100
)

type Config struct {
	Gateway apiclient.Gateway
	Session *session.Session
	// RealtimeURL is the websocket endpoint for refresh hints. Empty
	// disables the push channel; polling alone stays correct.
	RealtimeURL string
	UserID      string
	// DataDir hosts the local quick-reply store if the server turns out
	// not to support the feature.
	DataDir string
	Filter  model.ConversationFilter
	Logger  zerolog.Logger

	ConversationInterval time.Duration
	MessageInterval      time.Duration
	QuickReplyInterval   time.Duration
	MessageLimit         int

	// OnQuickReplyFallback is the one-time notice shown when canned
	// replies degrade to local storage.
	OnQuickReplyFallback func()
}

func (c *Config) applyDefaults() {
	if c.ConversationInterval <= 0 {
		c.ConversationInterval = defaultConversationInterval
	}
	if c.MessageInterval <= 0 {
		c.MessageInterval = defaultMessageInterval
	}
	if c.QuickReplyInterval <= 0 {
		c.QuickReplyInterval = defaultQuickReplyInterval
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = defaultMessageLimit
	}
	if c.Filter == "" {
		c.Filter = model.FilterOpen
	}
}

type Engine struct {
	log    zerolog.Logger
	gw     apiclient.Gateway
	sess   *session.Session
	filter model.ConversationFilter
	limit  int

	surface  *state.Surface
	gate     *scheduler.Gate
	overlay  *unread.Overlay
	avatars  *avatar.Cache
	previews *preview.Loader
	replies  *quickreply.Controller
	sched    *scheduler.Scheduler
	recon    *realtime.Reconnector

	closeOnce sync.Once
}

func New(cfg Config) (*Engine, error) {
	if cfg.Gateway == nil {
		return nil, apiclient.NewError(apiclient.ErrorCodeValidation, "engine requires a gateway", nil)
	}
	if cfg.Session == nil {
		return nil, apiclient.NewError(apiclient.ErrorCodeValidation, "engine requires a session", nil)
	}
	cfg.applyDefaults()

	log := cfg.Logger.With().Str("component", "engine").Logger()
	surface := state.NewSurface()

	e := &Engine{
		log:     log,
		gw:      cfg.Gateway,
		sess:    cfg.Session,
		filter:  cfg.Filter,
		limit:   cfg.MessageLimit,
		surface: surface,
		gate:    scheduler.NewGate(),
	}

	e.overlay = unread.NewOverlay(surface.SelectedID)
	e.avatars = avatar.New(cfg.Gateway.ResolveIdentityAvatar, cfg.Logger)
	e.previews = preview.NewLoader(cfg.Gateway.ListMessages, cfg.Logger)
	e.replies = quickreply.NewController(
		cfg.Gateway,
		func() (quickreply.Store, error) {
			return quickreply.OpenPebbleStore(filepath.Join(cfg.DataDir, "quickreplies"), cfg.UserID)
		},
		cfg.UserID,
		cfg.OnQuickReplyFallback,
		cfg.Logger,
	)

	e.sched = scheduler.New(cfg.Logger, e.sess.Expire)
	e.sched.Register(scheduler.Poller{
		Name:     keyConversations,
		Interval: cfg.ConversationInterval,
		Fetch:    e.refreshConversations,
	})
	e.sched.Register(scheduler.Poller{
		Name:     keyMessages,
		Interval: cfg.MessageInterval,
		Active:   func() bool { return surface.SelectedID() != "" },
		Fetch:    e.refreshMessages,
	})
	e.sched.Register(scheduler.Poller{
		Name:     keyQuickReplies,
		Interval: cfg.QuickReplyInterval,
		Active:   func() bool { return e.replies.Mode() == quickreply.ModeRemote },
		Fetch:    e.refreshQuickReplies,
	})

	if cfg.RealtimeURL != "" {
		e.recon = realtime.NewReconnector(cfg.RealtimeURL, e.sess.Token, e.onHint, cfg.Logger)
	}

	return e, nil
}

// Start launches polling and the realtime channel, and arranges teardown
// when the session dies.
func (e *Engine) Start() {
	e.sched.Start()
	if e.recon != nil {
		e.recon.Start()
	}

	go func() {
		<-e.sess.Done()
		e.Close()
	}()
}

// onHint routes a push hint to the right poller. A message hint for a
// conversation that is not selected still means its list row changed, so it
// refreshes the conversation list instead.
func (e *Engine) onHint(hint realtime.Hint) {
	switch hint.Resource {
	case realtime.ResourceMessages:
		if hint.ConversationID != "" && hint.ConversationID != e.surface.SelectedID() {
			e.sched.Hint(keyConversations)
			return
		}
		e.sched.Hint(keyMessages)
	case realtime.ResourceConversations:
		e.sched.Hint(keyConversations)
	}
}

// AuthExpired is closed when the session dies; the embedding application
// must route this to its login flow, never retry.
func (e *Engine) AuthExpired() <-chan struct{} {
	return e.sess.Done()
}

// Snapshot returns the current published state.
func (e *Engine) Snapshot() state.Snapshot {
	return e.surface.Snapshot()
}

// Subscribe returns a notification channel for snapshot changes.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	return e.surface.Subscribe()
}

// SetVisible reflects app foreground/background state into the scheduler.
func (e *Engine) SetVisible(visible bool) {
	e.sched.SetVisible(visible)
}

// Select makes a conversation current. This is the only write point for
// the selected id, and it resets the conversation's local unread overlay.
func (e *Engine) Select(conversationID string) {
	previous := e.surface.SelectedID()
	if previous == conversationID {
		return
	}
	if previous != "" {
		e.gate.Forget(messagesKey(previous))
	}

	e.surface.Select(conversationID)
	if conversationID != "" {
		e.overlay.Reset(conversationID)
		e.clearUnread(conversationID)
		e.sched.Hint(keyMessages)
	}
}

// Refresh is the user-initiated (non-silent) refresh: failures are returned
// to the caller as retryable errors instead of being swallowed.
func (e *Engine) Refresh(ctx context.Context) error {
	if err := e.refreshConversations(ctx); err != nil {
		return e.fail(err)
	}
	if e.surface.SelectedID() != "" {
		if err := e.refreshMessages(ctx); err != nil {
			return e.fail(err)
		}
	}
	return nil
}

// MarkRead tells the server the conversation was read and clears the local
// overlay once the round trip succeeds.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	if err := e.gw.MarkRead(ctx, conversationID); err != nil {
		return e.fail(err)
	}
	e.overlay.Reset(conversationID)
	e.clearUnread(conversationID)
	return nil
}

// SendMessage posts an agent message to the selected conversation and
// schedules an immediate refresh so the composer sees it echoed.
func (e *Engine) SendMessage(ctx context.Context, content, replyToID string) (model.Message, error) {
	selected := e.surface.SelectedID()
	if selected == "" {
		return model.Message{}, apiclient.NewError(apiclient.ErrorCodeValidation, "no conversation selected", nil)
	}

	message, err := e.gw.SendMessage(ctx, selected, content, replyToID)
	if err != nil {
		return model.Message{}, e.fail(err)
	}

	e.sched.Hint(keyMessages)
	e.sched.Hint(keyConversations)
	return message, nil
}

// SetStatus changes a conversation's status (open/closed).
func (e *Engine) SetStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error {
	if err := e.gw.SetConversationStatus(ctx, conversationID, status); err != nil {
		return e.fail(err)
	}
	e.sched.Hint(keyConversations)
	return nil
}

// AvatarURL resolves a contact's avatar through the cache.
func (e *Engine) AvatarURL(ctx context.Context, identity string, force bool) (string, bool) {
	return e.avatars.Lookup(ctx, identity, force)
}

// ReportAvatarRenderFailure drops the cached URL for an identity whose
// image failed to load, so the next forced lookup refetches it.
func (e *Engine) ReportAvatarRenderFailure(identity string) {
	e.avatars.Invalidate(identity)
}

// QuickReplies lists the canned-reply library in whichever mode the
// capability-fallback controller is in.
func (e *Engine) QuickReplies(ctx context.Context) ([]model.CannedReply, error) {
	replies, err := e.replies.List(ctx)
	if err != nil {
		return nil, e.fail(err)
	}
	e.publishQuickReplies(replies)
	return replies, nil
}

func (e *Engine) CreateQuickReply(ctx context.Context, reply model.CannedReply) (model.CannedReply, error) {
	created, err := e.replies.Create(ctx, reply)
	if err != nil {
		return model.CannedReply{}, e.fail(err)
	}
	e.republishQuickReplies(ctx)
	return created, nil
}

func (e *Engine) UpdateQuickReply(ctx context.Context, reply model.CannedReply) (model.CannedReply, error) {
	updated, err := e.replies.Update(ctx, reply)
	if err != nil {
		return model.CannedReply{}, e.fail(err)
	}
	e.republishQuickReplies(ctx)
	return updated, nil
}

func (e *Engine) DeleteQuickReply(ctx context.Context, id int64) error {
	if err := e.replies.Delete(ctx, id); err != nil {
		return e.fail(err)
	}
	e.republishQuickReplies(ctx)
	return nil
}

// Close tears the engine down: all pollers stop, the socket closes, the
// local store flushes, subscribers are released. Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.log.Info().Msg("engine shutting down")
		e.sched.Close()
		if e.recon != nil {
			e.recon.Close()
		}
		if err := e.replies.Close(); err != nil {
			e.log.Warn().Err(err).Msg("failed to close quick-reply store")
		}
		e.sess.Close()
		e.surface.Close()
	})
}

// fail maps an authentication-expired error onto session death before
// handing the error back to the caller.
func (e *Engine) fail(err error) error {
	if apiclient.IsUnauthenticated(err) {
		e.sess.Expire()
	}
	return err
}

func messagesKey(conversationID string) string {
	return keyMessages + ":" + conversationID
}

func (e *Engine) refreshConversations(ctx context.Context) error {
	seq := e.gate.Issue(keyConversations)

	conversations, err := e.gw.ListConversations(ctx, e.filter)
	if err != nil {
		return err
	}

	connected := e.surface.Snapshot().Connected
	if st, cerr := e.gw.GetConnectionState(ctx); cerr == nil {
		connected = st.Connected
	}

	e.previews.Fill(ctx, conversations)
	e.overlay.Observe(conversations)

	unreadCounts := make(map[string]int, len(conversations))
	for _, conv := range conversations {
		unreadCounts[conv.ID] = e.overlay.Visible(conv)
	}
	historical := historicalByContact(conversations)

	e.gate.Apply(keyConversations, seq, func() {
		e.surface.Update(func(snap *state.Snapshot) bool {
			changed := false
			next := reconcile.Conversations(snap.Conversations, conversations)
			if !sameSlice(next, snap.Conversations) {
				snap.Conversations = next
				changed = true
			}
			if !maps.Equal(snap.Unread, unreadCounts) {
				snap.Unread = unreadCounts
				changed = true
			}
			if !maps.Equal(snap.Historical, historical) {
				snap.Historical = historical
				changed = true
			}
			if snap.Connected != connected {
				snap.Connected = connected
				changed = true
			}
			return changed
		})
	})
	return nil
}

func (e *Engine) refreshMessages(ctx context.Context) error {
	selected := e.surface.SelectedID()
	if selected == "" {
		return nil
	}

	key := messagesKey(selected)
	seq := e.gate.Issue(key)

	messages, err := e.gw.ListMessages(ctx, selected, e.limit)
	if err != nil {
		return err
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].Before(messages[j]) })

	e.gate.Apply(key, seq, func() {
		e.surface.Update(func(snap *state.Snapshot) bool {
			// Selection moved while the fetch was in flight.
			if snap.SelectedID != selected {
				return false
			}
			next := reconcile.Messages(snap.Messages, messages)
			if sameSlice(next, snap.Messages) {
				return false
			}
			snap.Messages = next
			return true
		})
	})
	return nil
}

func (e *Engine) refreshQuickReplies(ctx context.Context) error {
	seq := e.gate.Issue(keyQuickReplies)

	replies, err := e.replies.List(ctx)
	if err != nil {
		return err
	}

	e.gate.Apply(keyQuickReplies, seq, func() {
		e.publishQuickReplies(replies)
	})
	return nil
}

func (e *Engine) republishQuickReplies(ctx context.Context) {
	replies, err := e.replies.List(ctx)
	if err != nil {
		e.log.Debug().Err(err).Msg("failed to republish quick replies")
		return
	}
	e.publishQuickReplies(replies)
}

func (e *Engine) publishQuickReplies(replies []model.CannedReply) {
	e.surface.Update(func(snap *state.Snapshot) bool {
		next := reconcile.CannedReplies(snap.QuickReplies, replies)
		if sameSlice(next, snap.QuickReplies) {
			return false
		}
		snap.QuickReplies = next
		return true
	})
}

func (e *Engine) clearUnread(conversationID string) {
	e.surface.Update(func(snap *state.Snapshot) bool {
		if snap.Unread[conversationID] == 0 {
			return false
		}
		unreadCounts := make(map[string]int, len(snap.Unread))
		maps.Copy(unreadCounts, snap.Unread)
		unreadCounts[conversationID] = 0
		snap.Unread = unreadCounts
		return true
	})
}

// sameSlice reports whether two slices are the same underlying array, the
// identity the reconciler preserves for unchanged data.
func sameSlice[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}

// historicalByContact derives which conversations are historical: for each
// contact identity, only the thread with the newest activity is current.
// This is a heuristic over the visible list, not a server-asserted flag.
func historicalByContact(conversations []model.Conversation) map[string]bool {
	newest := make(map[string]model.Conversation)
	for _, conv := range conversations {
		key := model.NormalizeIdentity(conv.ContactIdentity)
		if key == "" {
			continue
		}
		current, ok := newest[key]
		if !ok || activityStamp(conv).After(activityStamp(current)) {
			newest[key] = conv
		}
	}

	historical := make(map[string]bool, len(conversations))
	for _, conv := range conversations {
		key := model.NormalizeIdentity(conv.ContactIdentity)
		if key == "" {
			continue
		}
		if newest[key].ID != conv.ID {
			historical[conv.ID] = true
		}
	}
	return historical
}

func activityStamp(conv model.Conversation) time.Time {
	if !conv.LastActivity.Timestamp.IsZero() {
		return conv.LastActivity.Timestamp
	}
	return conv.UpdatedAt
}
