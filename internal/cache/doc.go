// Package cache keeps the last known state of each light and turns the
// device's asynchronous DeviceInfo notifications into synchronous reads.
//
// # Freshness
//
// A cached value is fresh while it is younger than the TTL (5 minutes by
// default). GetFresh returns fresh values immediately. Stale, missing or
// forced reads trigger at most one GetDeviceInfo query per device: the first
// caller claims the device's in-flight slot and sends the query, every other
// caller waits for the same answer.
//
// # Waiting
//
// Waiters block on a channel that is closed on every Update, so an answer
// wakes them at once. A ticker at the poll interval (50 ms by default) lets a
// waiter re-claim the slot after ReleaseInFlight, which device sessions call
// when their link drops.
//
// Waits are bounded by the caller's context and by Options.MaxWait:
//
//	info, err := c.GetFresh(ctx, id, false)
//	if errors.Is(err, cache.ErrStale) {
//	    // info holds the last known value unless err is ErrNoData
//	}
//
// # Optimistic Writes
//
// After a write command is queued, ApplyLocalPatch overwrites the matching
// field without changing the observation time. The device is not asked to
// confirm the write.
package cache
