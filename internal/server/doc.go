// Package server implements the HTTP API for homelight lights.
//
// Each configured light is addressed by its numeric id under /devices/{id}.
// The value routes answer in plain text so simple HTTP accessory plugins can
// poll and set them:
//
//	GET  /devices/{id}/light_state   forced refresh, JSON LightInfo
//	GET  /devices/{id}/power_state   "1" or "0"
//	PUT  /devices/{id}/power_state   body "ON" or "OFF"
//	GET  /devices/{id}/brightness    0..100
//	PUT  /devices/{id}/brightness    body 0..100
//	GET  /devices/{id}/hue           0..360
//	PUT  /devices/{id}/hue           body degrees
//	GET  /devices/{id}/saturation    0..100
//	PUT  /devices/{id}/saturation    body 0..100
//
// The same value routes without the /devices/{id} prefix address the first
// configured device.
//
// Reads go through the freshness cache: a value younger than the TTL is
// served from memory, anything older waits for the light to answer a
// GetDeviceInfo query. Writes are queued to the light and patched into the
// cache immediately.
//
// # Other Routes
//
//	GET /health              {status, version, devices}
//	GET /devices             status of every device
//	GET /devices/{id}        status of one device
//	GET /devices/{id}/events websocket stream of status updates
//
// # Errors
//
// Errors are JSON objects of the form {status, code, message}:
//   - 400 bad_request: unparseable body or id
//   - 404 not_found: unknown device
//   - 503 queue_full, device_offline: the command could not be queued
//   - 504 stale, no_data: the light did not answer in time; stale responses
//     carry the last known state
//
// # Usage Example
//
//	srv, err := server.New(&server.Config{Port: 8000}, manager)
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx) // blocks until ctx is cancelled
package server
