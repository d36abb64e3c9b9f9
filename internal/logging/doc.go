// Package logging provides structured logging for the homelight bridge.
//
// This package wraps a package-global zap logger with convenience functions
// for the patterns used across the bridge: link lifecycle events, raw
// notification chunks, outbound command frames and HTTP requests.
//
// # Log Levels
//
//   - Debug: Hex dumps of notification chunks, decoder resyncs, poll ticks
//   - Info: Link events, decoded device state, commands sent, HTTP requests
//   - Warn: Payload decode failures, queue overflow, stale reads
//   - Error: Link failures and startup errors
//
// # Structured Logging
//
//	logging.Info("Device state updated",
//	    zap.Uint32("device_id", 1),
//	    zap.String("name", info.Name),
//	    zap.Bool("is_on", info.IsOn),
//	)
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// An empty level falls back to the HOMELIGHT_LOG_LEVEL environment variable.
// With neither set the logger is a no-op, which keeps CLI output clean.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use once Initialize has run.
package logging
