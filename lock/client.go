// Package lock implements the client side of the cooperative edit-lock
// protocol: acquire with TTL, periodic heartbeat refresh, an expiry
// warning ahead of the deadline, and best-effort release. The lock is
// advisory; it coordinates editors, it does not guard storage writes.
package lock

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/dkrasov/fieldmark/cache"
	"github.com/dkrasov/fieldmark/models"
)

const (
	DefaultTTL        = 180 * time.Second
	DefaultHeartbeat  = 60 * time.Second
	ExpiryWarningLead = 30 * time.Second
)

type State int

const (
	// Unlocked means no acquire has succeeded yet; it is NOT writable.
	Unlocked State = iota
	HeldBySelf
	HeldByOther
)

func (s State) String() string {
	switch s {
	case HeldBySelf:
		return "held-by-self"
	case HeldByOther:
		return "held-by-other"
	default:
		return "unlocked"
	}
}

// Events are the client's notification callbacks. OnDenied fires when an
// explicit acquire finds another holder; OnLost when a heartbeat
// discovers the lock was taken mid-session; OnExpiryWarning shortly
// before the held lock lapses. Callbacks run on timer goroutines.
type Events struct {
	OnDenied        func(holderName string)
	OnLost          func(holderName string)
	OnExpiryWarning func(expiresAt time.Time)
}

type Client struct {
	cache     cache.FieldmarkCache
	photoId   string
	userId    string
	userName  string
	ttl       time.Duration
	heartbeat time.Duration
	events    Events

	mu         sync.Mutex
	state      State
	holderName string
	expiresAt  time.Time
	hbTimer    *time.Timer
	warnTimer  *time.Timer
	closed     bool
}

func NewClient(c cache.FieldmarkCache, photoId, userId, userName string, ttl, heartbeat time.Duration, events Events) *Client {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if heartbeat <= 0 || heartbeat >= ttl {
		heartbeat = ttl / 3
	}
	return &Client{
		cache:     c,
		photoId:   photoId,
		userId:    userId,
		userName:  userName,
		ttl:       ttl,
		heartbeat: heartbeat,
		events:    events,
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Editable reports whether mutating input and saves may proceed. Only
// held-by-self qualifies; an unlocked (never-acquired) state is treated
// as read-only for remote safety.
func (c *Client) Editable() bool {
	return c.State() == HeldBySelf
}

func (c *Client) HolderName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holderName
}

func (c *Client) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

// Acquire attempts to take the lock. On success heartbeating starts and
// the expiry warning is armed; on denial the holder identity is recorded
// and OnDenied fires.
func (c *Client) Acquire(ctx context.Context) (State, error) {
	res, err := c.cache.AcquireLock(ctx, c.photoId, c.userId, c.userName, c.ttl)
	if err != nil {
		return c.State(), err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		// Session closed while the call was in flight; undo the grant.
		if res.Granted {
			c.releaseRemote()
		}
		return Unlocked, nil
	}

	if !res.Granted {
		c.state = HeldByOther
		c.holderName = res.HolderName
		c.expiresAt = res.ExpiresAt
		c.stopTimersLocked()
		c.mu.Unlock()
		if c.events.OnDenied != nil {
			c.events.OnDenied(res.HolderName)
		}
		return HeldByOther, nil
	}

	c.state = HeldBySelf
	c.holderName = c.userName
	c.expiresAt = res.ExpiresAt
	c.rearmTimersLocked()
	c.mu.Unlock()

	c.publishLockEvent(models.EventLockAcquired, res.ExpiresAt)
	return HeldBySelf, nil
}

// heartbeatTick re-issues the acquire call to extend the TTL. Discovering
// another holder means the lock was lost: heartbeats stop, and the
// session must block further mutation.
func (c *Client) heartbeatTick() {
	c.mu.Lock()
	if c.closed || c.state != HeldBySelf {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := c.cache.AcquireLock(ctx, c.photoId, c.userId, c.userName, c.ttl)

	c.mu.Lock()
	if c.closed || c.state != HeldBySelf {
		c.mu.Unlock()
		return
	}

	if err != nil {
		log.Printf("Lock heartbeat for photo %s failed: %v", c.photoId, err)
		// Transient failure: keep the held state and retry next tick.
		c.hbTimer = time.AfterFunc(c.heartbeat, c.heartbeatTick)
		c.mu.Unlock()
		return
	}

	if !res.Granted {
		c.state = HeldByOther
		c.holderName = res.HolderName
		c.expiresAt = res.ExpiresAt
		c.stopTimersLocked()
		c.mu.Unlock()
		if c.events.OnLost != nil {
			c.events.OnLost(res.HolderName)
		}
		return
	}

	c.expiresAt = res.ExpiresAt
	c.rearmTimersLocked()
	c.mu.Unlock()
}

func (c *Client) expiryWarningTick() {
	c.mu.Lock()
	if c.closed || c.state != HeldBySelf {
		c.mu.Unlock()
		return
	}
	expiresAt := c.expiresAt
	c.mu.Unlock()

	if c.events.OnExpiryWarning != nil {
		c.events.OnExpiryWarning(expiresAt)
	}
}

// Release stops the timers first, then removes the lock if held.
// Idempotent and best-effort: teardown paths call it without caring
// whether the lock survived.
func (c *Client) Release() {
	c.mu.Lock()
	wasHeld := c.state == HeldBySelf
	c.state = Unlocked
	c.holderName = ""
	c.stopTimersLocked()
	c.closed = true
	c.mu.Unlock()

	if wasHeld {
		c.releaseRemote()
	}
}

func (c *Client) releaseRemote() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cache.ReleaseLock(ctx, c.photoId, c.userId); err != nil {
		log.Printf("Lock release for photo %s failed: %v", c.photoId, err)
		return
	}
	c.publishLockEvent(models.EventLockReleased, time.Time{})
}

func (c *Client) publishLockEvent(eventType models.EventType, expiresAt time.Time) {
	event := models.LockEvent{
		Type: eventType,
		Data: models.LockEventData{
			PhotoId:    c.photoId,
			HolderId:   c.userId,
			HolderName: c.userName,
			ExpiresAt:  expiresAt,
		},
	}
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cache.Publish(ctx, models.PhotoChannel(c.photoId), msgBytes); err != nil {
		log.Printf("Lock event publish for photo %s failed: %v", c.photoId, err)
	}
}

// rearmTimersLocked schedules the next heartbeat and the expiry warning.
// Caller holds c.mu.
func (c *Client) rearmTimersLocked() {
	c.stopTimersLocked()
	c.hbTimer = time.AfterFunc(c.heartbeat, c.heartbeatTick)

	warnIn := time.Until(c.expiresAt.Add(-ExpiryWarningLead))
	if warnIn > 0 {
		c.warnTimer = time.AfterFunc(warnIn, c.expiryWarningTick)
	}
}

func (c *Client) stopTimersLocked() {
	if c.hbTimer != nil {
		c.hbTimer.Stop()
		c.hbTimer = nil
	}
	if c.warnTimer != nil {
		c.warnTimer.Stop()
		c.warnTimer = nil
	}
}
