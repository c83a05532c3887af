// Package keycache holds unlocked private keys for a sliding time window.
//
// Every successful Get pushes the entry's deadline out by its TTL. A single
// timer is armed for the nearest deadline; when it fires, the sweep removes
// only entries whose deadline has passed, under the same lock as Get, so an
// access that refreshed an entry before the sweep always wins.
package keycache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/ironpass/crypto"
)

// DefaultTTL is how long an unlocked key survives without being used.
const DefaultTTL = 10 * time.Minute

type entry struct {
	id       crypto.KeyID
	handle   crypto.PrivateKey
	ttl      time.Duration
	deadline time.Time
}

// Cache maps key ids to unlocked private key handles.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   Clock
	logger  *slog.Logger
	entries map[string]*entry

	timer   Timer
	timerAt time.Time
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(k *Cache) {
		k.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Cache) {
		k.logger = l
	}
}

// New returns an empty cache whose entries expire ttl after their last use.
// A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		clock:   realClock{},
		logger:  slog.New(slog.DiscardHandler),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the default time-to-live.
func (c *Cache) TTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

// Put caches handle under id with the default TTL.
func (c *Cache) Put(id crypto.KeyID, handle crypto.PrivateKey) {
	c.PutTTL(id, handle, 0)
}

// PutTTL caches handle under id, replacing and destroying any previous
// handle. A non-positive ttl selects the cache default.
func (c *Cache) PutTTL(id crypto.KeyID, handle crypto.PrivateKey, ttl time.Duration) {
	var replaced crypto.PrivateKey

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		destroy(handle)
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	key := id.Canonical()
	if old, ok := c.entries[key]; ok && old.handle != handle {
		replaced = old.handle
	}
	e := &entry{id: id, handle: handle, ttl: ttl, deadline: c.clock.Now().Add(ttl)}
	c.entries[key] = e
	c.scheduleLocked(e.deadline)
	c.mu.Unlock()

	destroy(replaced)
	c.logger.Debug("key cached", "key_id", id.ShortID(), "ttl", ttl)
}

// Get returns the handle for id and restarts its TTL. A miss means the key
// is not currently unlocked.
func (c *Cache) Get(id crypto.KeyID) (crypto.PrivateKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(id)
}

func (c *Cache) getLocked(id crypto.KeyID) (crypto.PrivateKey, bool) {
	e, ok := c.entries[id.Canonical()]
	if !ok {
		return nil, false
	}
	now := c.clock.Now()
	if !e.deadline.After(now) {
		// Expired but not yet swept.
		return nil, false
	}
	e.deadline = now.Add(e.ttl)
	return e.handle, true
}

// GetAny returns the first cached id in caller order, restarting its TTL.
func (c *Cache) GetAny(ids []crypto.KeyID) (crypto.KeyID, crypto.PrivateKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if h, ok := c.getLocked(id); ok {
			return id, h, true
		}
	}
	return "", nil, false
}

// Delete evicts id immediately.
func (c *Cache) Delete(id crypto.KeyID) {
	c.mu.Lock()
	e, ok := c.entries[id.Canonical()]
	if ok {
		delete(c.entries, id.Canonical())
	}
	c.mu.Unlock()

	if ok {
		destroy(e.handle)
		c.logger.Debug("key evicted", "key_id", id.ShortID(), "reason", "delete")
	}
}

// Len returns the number of cached entries, including expired ones that
// have not been swept yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// IDs returns the ids of all cached entries.
func (c *Cache) IDs() []crypto.KeyID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]crypto.KeyID, 0, len(c.entries))
	for _, e := range c.entries {
		ids = append(ids, e.id)
	}
	return ids
}

// SetTTL changes the default TTL and restarts every cached entry with it.
func (c *Cache) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
	now := c.clock.Now()
	for _, e := range c.entries {
		e.ttl = ttl
		e.deadline = now.Add(ttl)
	}
	c.rearmLocked()
}

// Purge evicts every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	evicted := c.entries
	c.entries = make(map[string]*entry)
	c.stopTimerLocked()
	c.mu.Unlock()

	for _, e := range evicted {
		destroy(e.handle)
	}
	if len(evicted) > 0 {
		c.logger.Debug("keys purged", "count", len(evicted))
	}
}

// Close purges the cache and rejects further puts.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Purge()
}

func (c *Cache) sweep() {
	var evicted []*entry

	c.mu.Lock()
	c.timer = nil
	c.timerAt = time.Time{}
	now := c.clock.Now()
	for key, e := range c.entries {
		if !e.deadline.After(now) {
			delete(c.entries, key)
			evicted = append(evicted, e)
		}
	}
	c.rearmLocked()
	c.mu.Unlock()

	for _, e := range evicted {
		destroy(e.handle)
		c.logger.Debug("key evicted", "key_id", e.id.ShortID(), "reason", "expired")
	}
}

// scheduleLocked makes sure the timer fires no later than deadline.
func (c *Cache) scheduleLocked(deadline time.Time) {
	if c.timer != nil && !c.timerAt.After(deadline) {
		return
	}
	c.stopTimerLocked()
	c.timer = c.clock.AfterFunc(deadline.Sub(c.clock.Now()), c.sweep)
	c.timerAt = deadline
}

// rearmLocked arms the timer for the nearest remaining deadline.
func (c *Cache) rearmLocked() {
	c.stopTimerLocked()
	var next time.Time
	for _, e := range c.entries {
		if next.IsZero() || e.deadline.Before(next) {
			next = e.deadline
		}
	}
	if !next.IsZero() {
		c.scheduleLocked(next)
	}
}

func (c *Cache) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
		c.timerAt = time.Time{}
	}
}

func destroy(h crypto.PrivateKey) {
	if h != nil {
		h.Destroy()
	}
}
