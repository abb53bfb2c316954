// Package avatar caches identity-to-avatar lookups. Misses are remembered
// too: a failed resolution blocks ambient re-lookups for a TTL that depends
// on why it failed, while user-triggered retries bypass the negative cache.
package avatar

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ticket-sync-engine/internal/apiclient"
	"ticket-sync-engine/internal/model"
)

const (
	pendingTTL     = 10 * time.Second
	unsupportedTTL = 6 * time.Hour
	failureTTL     = 5 * time.Minute

	ambientCooldown = 30 * time.Second
	forcedCooldown  = 2 * time.Second
)

// Resolver performs the underlying lookup against the gateway.
type Resolver func(ctx context.Context, identity string, forceRefresh bool) (apiclient.AvatarResult, error)

type entry struct {
	url           string
	resolved      bool
	lastLookup    time.Time
	negativeUntil time.Time
	status        apiclient.AvatarStatus
}

// Cache is owned by one engine instance; all state is explicit and released
// with the engine.
type Cache struct {
	resolver Resolver
	log      zerolog.Logger
	now      func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*entry
}

func New(resolver Resolver, log zerolog.Logger) *Cache {
	return &Cache{
		resolver: resolver,
		log:      log.With().Str("component", "avatar-cache").Logger(),
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
}

// Lookup resolves the avatar URL for a contact identity. Ambient lookups
// honour the per-key cooldown and the negative-cache TTL; forced lookups
// (explicit user retry, render failure) bypass both but still respect a
// short cooldown floor so they cannot run in a tight loop.
func (c *Cache) Lookup(ctx context.Context, identity string, force bool) (string, bool) {
	key := model.NormalizeIdentity(identity)
	if key == "" {
		return "", false
	}

	c.mu.Lock()
	e := c.entries[key]
	now := c.now()
	if e != nil {
		if e.resolved && !force {
			c.mu.Unlock()
			incHit()
			return e.url, true
		}
		cooldown := ambientCooldown
		if force {
			cooldown = forcedCooldown
		}
		if now.Sub(e.lastLookup) < cooldown {
			url, ok := e.url, e.resolved
			c.mu.Unlock()
			return url, ok
		}
		if !force && now.Before(e.negativeUntil) {
			c.mu.Unlock()
			incNegativeHit()
			return "", false
		}
	}
	c.mu.Unlock()

	// Concurrent callers for the same identity share one network call.
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		res, err := c.resolver(ctx, identity, force)
		c.store(key, res, err, force)
		return res, err
	})
	if err != nil {
		return "", false
	}
	res := result.(apiclient.AvatarResult)
	return res.URL, res.URL != ""
}

func (c *Cache) store(key string, res apiclient.AvatarResult, err error, force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	incLookup()

	if err == nil && res.URL != "" {
		c.entries[key] = &entry{
			url:        res.URL,
			resolved:   true,
			lastLookup: now,
			status:     apiclient.AvatarStatusResolved,
		}
		return
	}

	status := res.Status
	if err != nil || status == "" || status == apiclient.AvatarStatusResolved {
		status = apiclient.AvatarStatusFailed
	}

	ttl := failureTTL
	switch status {
	case apiclient.AvatarStatusPending:
		ttl = pendingTTL
	case apiclient.AvatarStatusUnsupported:
		ttl = unsupportedTTL
	}

	// A forced retry that still misses must not leave a stale positive
	// entry behind; the UI falls back to its placeholder instead.
	prev := c.entries[key]
	if force && prev != nil && prev.resolved {
		c.log.Debug().Str("identity", key).Msg("evicting stale avatar after forced miss")
	}

	c.entries[key] = &entry{
		lastLookup:    now,
		negativeUntil: now.Add(ttl),
		status:        status,
	}
	incNegative()
}

// Invalidate drops the positive entry for an identity whose cached URL
// failed to load at render time, so the next forced lookup refetches it.
func (c *Cache) Invalidate(identity string) {
	key := model.NormalizeIdentity(identity)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.resolved {
		delete(c.entries, key)
	}
}

// Len reports the number of cached entries, positive and negative.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
