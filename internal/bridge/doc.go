// Package bridge runs device sessions and connects them to the freshness
// cache.
//
// Each Device owns one link. A session runs:
//   - the read loop, which owns the protocol Decoder and turns chunks into
//     messages
//   - the consumer, which applies DeviceInfo messages to the cache
//   - the Sender, which drains the device's command queue into the link,
//     optionally paced by a rate limiter
//
// The Manager indexes devices by numeric id and is the cache's Querier, so a
// cache refresh turns into a GetDeviceInfo command on the right queue. Write
// operations queue a command and patch the cached value locally without
// waiting for the light to confirm.
//
// # Usage Example
//
//	mgr, err := bridge.NewManager(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	go mgr.Run(ctx)
//
//	info, err := mgr.GetFresh(ctx, 1, false)
//	err = mgr.SetColor(ctx, 1, cache.FieldHue, 120)
package bridge
