// Package quickreply manages the canned-reply library. It starts against
// the remote gateway; the first "feature not found" answer flips it, once
// and for the whole session, to a locally persisted store that mirrors the
// validation the remote would have enforced.
package quickreply

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ticket-sync-engine/internal/apiclient"
	"ticket-sync-engine/internal/model"
)

type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// Remote is the slice of the gateway the controller needs.
type Remote interface {
	ListCannedReplies(ctx context.Context) ([]model.CannedReply, error)
	CreateCannedReply(ctx context.Context, reply model.CannedReply) (model.CannedReply, error)
	UpdateCannedReply(ctx context.Context, reply model.CannedReply) (model.CannedReply, error)
	DeleteCannedReply(ctx context.Context, id int64) error
}

type Controller struct {
	remote    Remote
	openLocal func() (Store, error)
	onDegrade func()
	userID    string
	log       zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	mode   Mode
	local  Store
	lastID int64
}

func NewController(remote Remote, openLocal func() (Store, error), userID string, onDegrade func(), log zerolog.Logger) *Controller {
	return &Controller{
		remote:    remote,
		openLocal: openLocal,
		onDegrade: onDegrade,
		userID:    userID,
		log:       log.With().Str("component", "quickreply").Logger(),
		now:       time.Now,
		mode:      ModeRemote,
	}
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// degrade performs the one-way switch to local mode. Caller holds c.mu.
// The remote path is never tried again for the rest of the session.
func (c *Controller) degrade() error {
	if c.mode == ModeLocal {
		return nil
	}

	store, err := c.openLocal()
	if err != nil {
		return apiclient.NewError(apiclient.ErrorCodeInternal, "failed to open local quick-reply store", err)
	}

	existing, err := store.List()
	if err != nil {
		store.Close()
		return apiclient.NewError(apiclient.ErrorCodeInternal, "failed to read local quick-reply store", err)
	}
	for _, reply := range existing {
		if reply.ID > c.lastID {
			c.lastID = reply.ID
		}
	}

	c.local = store
	c.mode = ModeLocal
	c.log.Warn().Msg("canned replies unsupported by server, switched to local store for this session")

	if c.onDegrade != nil {
		// One-time notice to the user.
		go c.onDegrade()
	}
	return nil
}

// noteRemoteIDs keeps lastID ahead of every id the remote has ever shown
// us, so a later degrade cannot hand out a colliding local id.
func (c *Controller) noteRemoteIDs(replies []model.CannedReply) {
	for _, reply := range replies {
		if reply.ID > c.lastID {
			c.lastID = reply.ID
		}
	}
}

func (c *Controller) nextID() int64 {
	c.lastID++
	return c.lastID
}

func (c *Controller) List(ctx context.Context) ([]model.CannedReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeLocal {
		return c.local.List()
	}

	replies, err := c.remote.ListCannedReplies(ctx)
	if err != nil {
		if apiclient.IsFeatureNotFound(err) {
			if derr := c.degrade(); derr != nil {
				return nil, derr
			}
			return c.local.List()
		}
		return nil, err
	}
	c.noteRemoteIDs(replies)
	return replies, nil
}

func (c *Controller) Create(ctx context.Context, reply model.CannedReply) (model.CannedReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeLocal {
		return c.createLocal(reply)
	}

	created, err := c.remote.CreateCannedReply(ctx, reply)
	if err != nil {
		if apiclient.IsFeatureNotFound(err) {
			if derr := c.degrade(); derr != nil {
				return model.CannedReply{}, derr
			}
			return c.createLocal(reply)
		}
		return model.CannedReply{}, err
	}
	c.noteRemoteIDs([]model.CannedReply{created})
	return created, nil
}

func (c *Controller) Update(ctx context.Context, reply model.CannedReply) (model.CannedReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeLocal {
		return c.updateLocal(reply)
	}

	updated, err := c.remote.UpdateCannedReply(ctx, reply)
	if err != nil {
		if apiclient.IsFeatureNotFound(err) {
			if derr := c.degrade(); derr != nil {
				return model.CannedReply{}, derr
			}
			return c.updateLocal(reply)
		}
		return model.CannedReply{}, err
	}
	return updated, nil
}

func (c *Controller) Delete(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeLocal {
		return c.deleteLocal(id)
	}

	if err := c.remote.DeleteCannedReply(ctx, id); err != nil {
		if apiclient.IsFeatureNotFound(err) {
			if derr := c.degrade(); derr != nil {
				return derr
			}
			return c.deleteLocal(id)
		}
		return err
	}
	return nil
}

// validate mirrors the remote's enforcement, which is unavailable in local
// mode: title and content are required, shortcuts are unique per user.
func (c *Controller) validate(reply model.CannedReply, selfID int64) error {
	if strings.TrimSpace(reply.Title) == "" {
		return apiclient.NewError(apiclient.ErrorCodeValidation, "title is required", nil)
	}
	if strings.TrimSpace(reply.Content) == "" {
		return apiclient.NewError(apiclient.ErrorCodeValidation, "content is required", nil)
	}
	shortcut := strings.TrimSpace(reply.Shortcut)
	if shortcut == "" {
		return nil
	}

	existing, err := c.local.List()
	if err != nil {
		return apiclient.NewError(apiclient.ErrorCodeInternal, "failed to read local quick-reply store", err)
	}
	for _, other := range existing {
		if other.ID != selfID && strings.EqualFold(other.Shortcut, shortcut) {
			return apiclient.NewError(apiclient.ErrorCodeConflict, "shortcut already in use", nil)
		}
	}
	return nil
}

func (c *Controller) createLocal(reply model.CannedReply) (model.CannedReply, error) {
	if err := c.validate(reply, 0); err != nil {
		return model.CannedReply{}, err
	}

	now := c.now().UTC()
	reply.ID = c.nextID()
	reply.UserID = c.userID
	reply.CreatedAt = now
	reply.UpdatedAt = now

	if err := c.local.Put(reply); err != nil {
		return model.CannedReply{}, err
	}
	return reply, nil
}

func (c *Controller) updateLocal(reply model.CannedReply) (model.CannedReply, error) {
	existing, err := c.findLocal(reply.ID)
	if err != nil {
		return model.CannedReply{}, err
	}
	if err := c.validate(reply, reply.ID); err != nil {
		return model.CannedReply{}, err
	}

	existing.Shortcut = reply.Shortcut
	existing.Title = reply.Title
	existing.Content = reply.Content
	existing.UpdatedAt = c.now().UTC()

	if err := c.local.Put(existing); err != nil {
		return model.CannedReply{}, err
	}
	return existing, nil
}

func (c *Controller) deleteLocal(id int64) error {
	if _, err := c.findLocal(id); err != nil {
		return err
	}
	return c.local.Delete(id)
}

func (c *Controller) findLocal(id int64) (model.CannedReply, error) {
	replies, err := c.local.List()
	if err != nil {
		return model.CannedReply{}, apiclient.NewError(apiclient.ErrorCodeInternal, "failed to read local quick-reply store", err)
	}
	for _, reply := range replies {
		if reply.ID == id {
			return reply, nil
		}
	}
	return model.CannedReply{}, apiclient.NewError(apiclient.ErrorCodeNotFound, "quick reply not found", nil)
}

// Close releases the local store if fallback mode was ever activated.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local != nil {
		err := c.local.Close()
		c.local = nil
		return err
	}
	return nil
}
