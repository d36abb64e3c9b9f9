// Package link provides the transports that carry raw bytes to and from a
// light.
//
// The light itself speaks over a short-range notification channel. The bridge
// never holds that radio connection; instead a relay sits in between:
//   - SerialLink: a BLE-UART module on a serial port (go.bug.st/serial)
//   - WebsocketLink: a network gateway, optionally found via mDNS (gorilla/websocket)
//   - MQTTLink: a gateway that publishes chunks to a broker (paho.mqtt.golang)
//   - Simulator: an in-process light for demos and tests
//
// Every Link delivers chunks with no framing guarantees; the protocol
// Decoder recovers frames. Reconnection is left to the caller.
//
// # Usage Example
//
//	l, err := link.New(deviceCfg.Link)
//	if err != nil {
//	    return err
//	}
//	if err := l.Connect(ctx); err != nil {
//	    return err
//	}
//	defer l.Close()
//
//	for {
//	    chunk, err := l.ReadChunk(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    msgs := dec.Consume(chunk)
//	    ...
//	}
package link
