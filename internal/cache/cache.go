package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/logging"
	"github.com/muurk/homelight/internal/protocol"
)

// Defaults applied by New when an Options field is zero
const (
	DefaultTTL          = 5 * time.Minute
	DefaultPollInterval = 50 * time.Millisecond
)

var (
	// ErrStale is returned when no fresh value arrived before the wait limit.
	// GetFresh returns the last known value alongside it when one exists.
	ErrStale = errors.New("device state is stale")

	// ErrNoData is returned instead of a stale value when the device has
	// never reported state. It matches ErrStale with errors.Is.
	ErrNoData = fmt.Errorf("%w: no state received from device", ErrStale)
)

// DeviceID is the opaque numeric identifier of a light
type DeviceID uint32

// Field names one cached attribute that a write can patch locally
type Field int

const (
	FieldPower Field = iota
	FieldHue
	FieldSaturation
	FieldValue
)

// String returns the field name used in logs
func (f Field) String() string {
	switch f {
	case FieldPower:
		return "power"
	case FieldHue:
		return "hue"
	case FieldSaturation:
		return "saturation"
	case FieldValue:
		return "value"
	default:
		return "unknown"
	}
}

// Querier sends a GetDeviceInfo command to one device.
// It must not block on the wire; enqueueing is enough.
type Querier interface {
	RequestDeviceInfo(id DeviceID) error
}

// Options tunes freshness and waiting behaviour
type Options struct {
	// TTL is how long a value stays fresh (0 = DefaultTTL)
	TTL time.Duration

	// PollInterval is the re-claim tick for waiters and the grace window for
	// forced reads (0 = DefaultPollInterval)
	PollInterval time.Duration

	// MaxWait bounds how long GetFresh waits for the device (0 = until ctx ends)
	MaxWait time.Duration

	// Now overrides the clock in tests
	Now func() time.Time
}

// Entry is a snapshot of one device's cached state
type Entry struct {
	Info       protocol.LightInfo
	ObservedAt time.Time
	Valid      bool
	InFlight   bool
}

// entry is the mutable per-device record. Entries are created on first use and
// never deleted.
type entry struct {
	info       protocol.LightInfo
	valid      bool
	observedAt time.Time
	inFlight   bool
	claimedAt  time.Time

	// updated is closed and replaced on every Update to wake all waiters
	updated chan struct{}
}

// Cache holds the last known LightInfo per device and coordinates refreshes
// so that at most one GetDeviceInfo query per device is outstanding.
//
// All methods are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[DeviceID]*entry
	querier Querier
	opts    Options
}

// New creates a cache that sends refresh queries through q
func New(q Querier, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logging.Debug("Freshness cache initialized",
		zap.Duration("ttl", opts.TTL),
		zap.Duration("poll_interval", opts.PollInterval),
		zap.Duration("max_wait", opts.MaxWait),
	)

	return &Cache{
		entries: make(map[DeviceID]*entry),
		querier: q,
		opts:    opts,
	}
}

// entryLocked returns the entry for id, creating it if needed. c.mu must be held.
func (c *Cache) entryLocked(id DeviceID) *entry {
	e, ok := c.entries[id]
	if !ok {
		e = &entry{updated: make(chan struct{})}
		c.entries[id] = e
	}
	return e
}

// GetFresh returns a fresh LightInfo for the device, querying it if needed.
//
// A non-forced call returns immediately when the cached value is younger than
// the TTL. Otherwise the caller tries to claim the device's in-flight slot;
// only the claimant sends GetDeviceInfo and everyone waits for the next
// update. A forced call accepts only values observed no earlier than one poll
// interval before the call started.
//
// The wait ends when ctx is cancelled, which returns ctx.Err(), or when ctx's
// deadline or MaxWait passes. A deadline returns the last known value with
// ErrStale, or ErrNoData when there is none. A claimant that stops waiting
// releases its claim, and a claim left unanswered for MaxWait (TTL when
// MaxWait is zero) may be taken over, so a lost reply is re-queried.
func (c *Cache) GetFresh(ctx context.Context, id DeviceID, force bool) (protocol.LightInfo, error) {
	start := c.opts.Now()
	var notBefore time.Time
	if force {
		notBefore = start.Add(-c.opts.PollInterval)
	}

	waitCtx := ctx
	if c.opts.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.opts.MaxWait)
		defer cancel()
	}

	var (
		ticker  *time.Ticker
		myClaim time.Time
	)
	for {
		info, wake, claimedAt, ok := c.tryGet(id, force, notBefore)
		if ok {
			return info, nil
		}

		if !claimedAt.IsZero() {
			myClaim = claimedAt
			logging.Debug("Claimed in-flight slot, requesting device info",
				zap.Uint32("device_id", uint32(id)),
				zap.Bool("force", force),
			)
			if err := c.querier.RequestDeviceInfo(id); err != nil {
				c.releaseClaim(id, myClaim)
				return protocol.LightInfo{}, fmt.Errorf("request device info: %w", err)
			}
		}

		if ticker == nil {
			ticker = time.NewTicker(c.opts.PollInterval)
			defer ticker.Stop()
		}

		select {
		case <-wake:
		case <-ticker.C:
		case <-waitCtx.Done():
			// An unanswered query must not hold the slot for later readers
			if !myClaim.IsZero() {
				c.releaseClaim(id, myClaim)
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return protocol.LightInfo{}, ctx.Err()
			}
			return c.stale(id, start)
		}
	}
}

// tryGet checks freshness and claims the in-flight slot in one critical
// section. It returns the update channel to wait on when no value is ready,
// and the claim time when this call took the slot.
func (c *Cache) tryGet(id DeviceID, force bool, notBefore time.Time) (protocol.LightInfo, <-chan struct{}, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(id)
	if e.valid && c.acceptable(e, force, notBefore) {
		return e.info, nil, time.Time{}, true
	}

	var claimedAt time.Time
	if c.claimableLocked(e) {
		claimedAt = c.claimLocked(e)
	}
	return protocol.LightInfo{}, e.updated, claimedAt, false
}

// claimableLocked reports whether the slot is free or its claim has expired.
// c.mu must be held.
func (c *Cache) claimableLocked(e *entry) bool {
	if !e.inFlight {
		return true
	}
	return c.opts.Now().Sub(e.claimedAt) >= c.claimTimeout()
}

// claimLocked takes the slot and returns a claim time unique to this claim.
// c.mu must be held.
func (c *Cache) claimLocked(e *entry) time.Time {
	now := c.opts.Now()
	if !now.After(e.claimedAt) {
		now = e.claimedAt.Add(time.Nanosecond)
	}
	e.inFlight = true
	e.claimedAt = now
	return now
}

// claimTimeout is how long an unanswered query holds the slot
func (c *Cache) claimTimeout() time.Duration {
	if c.opts.MaxWait > 0 {
		return c.opts.MaxWait
	}
	return c.opts.TTL
}

// releaseClaim frees the slot only if it still belongs to the claim made at
// claimedAt.
func (c *Cache) releaseClaim(id DeviceID, claimedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(id)
	if e.inFlight && e.claimedAt.Equal(claimedAt) {
		e.inFlight = false
	}
}

// Claim takes the device's in-flight slot for a query sent outside GetFresh,
// such as the one a session sends when its link comes up. It reports false
// when another query already holds the slot. release frees the slot unless
// an Update or a newer claim has replaced this one.
func (c *Cache) Claim(id DeviceID) (release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(id)
	if !c.claimableLocked(e) {
		return nil, false
	}
	claimedAt := c.claimLocked(e)
	return func() { c.releaseClaim(id, claimedAt) }, true
}

// acceptable reports whether a valid entry satisfies the caller. c.mu must be held.
func (c *Cache) acceptable(e *entry, force bool, notBefore time.Time) bool {
	age := c.opts.Now().Sub(e.observedAt)
	if age >= c.opts.TTL {
		return false
	}
	if force {
		return !e.observedAt.Before(notBefore)
	}
	return true
}

// stale builds the result for a wait that ran out
func (c *Cache) stale(id DeviceID, start time.Time) (protocol.LightInfo, error) {
	c.mu.Lock()
	e := c.entryLocked(id)
	info, valid, observedAt := e.info, e.valid, e.observedAt
	c.mu.Unlock()

	logging.Warn("Timed out waiting for device state",
		zap.Uint32("device_id", uint32(id)),
		zap.Duration("waited", c.opts.Now().Sub(start)),
		zap.Bool("has_last_known", valid),
	)

	if !valid {
		return protocol.LightInfo{}, ErrNoData
	}
	return info, fmt.Errorf("%w: last observed %s ago", ErrStale, c.opts.Now().Sub(observedAt).Round(time.Millisecond))
}

// Update stores a decoded LightInfo, stamps it with the current time, releases
// the in-flight slot and wakes every waiter. Last write wins.
func (c *Cache) Update(id DeviceID, info protocol.LightInfo) {
	c.mu.Lock()
	e := c.entryLocked(id)
	e.info = info
	e.valid = true
	e.observedAt = c.opts.Now()
	e.inFlight = false
	close(e.updated)
	e.updated = make(chan struct{})
	c.mu.Unlock()

	logging.Debug("Cache updated",
		zap.Uint32("device_id", uint32(id)),
		zap.String("state", info.String()),
	)
}

// ApplyLocalPatch overwrites one field of the cached value after a write was
// queued. The observation time is kept and waiters are not woken. It is a
// no-op when the device has never reported state.
func (c *Cache) ApplyLocalPatch(id DeviceID, field Field, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(id)
	if !e.valid {
		return
	}

	switch field {
	case FieldPower:
		e.info.IsOn = value != 0
	case FieldHue:
		e.info.Color.H = value
	case FieldSaturation:
		e.info.Color.S = value
	case FieldValue:
		e.info.Color.V = value
	}

	logging.Debug("Applied local patch",
		zap.Uint32("device_id", uint32(id)),
		zap.String("field", field.String()),
		zap.Float64("value", value),
	)
}

// ReleaseInFlight clears the device's in-flight slot without storing a value.
// Device sessions call it when the link drops so the next reader re-queries.
func (c *Cache) ReleaseInFlight(id DeviceID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entryLocked(id).inFlight = false
}

// Snapshot returns the cached state without triggering a refresh
func (c *Cache) Snapshot(id DeviceID) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(id)
	return Entry{
		Info:       e.info,
		ObservedAt: e.observedAt,
		Valid:      e.valid,
		InFlight:   e.inFlight,
	}
}

// Updated returns a channel that is closed on the device's next Update.
// Call it again after each wake to keep following updates.
func (c *Cache) Updated(id DeviceID) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entryLocked(id).updated
}

// Sink adapts the cache to protocol.StateSink for one device
func (c *Cache) Sink(id DeviceID) protocol.StateSink {
	return deviceSink{cache: c, id: id}
}

type deviceSink struct {
	cache *Cache
	id    DeviceID
}

func (s deviceSink) UpdateLightInfo(info protocol.LightInfo) {
	s.cache.Update(s.id, info)
}
