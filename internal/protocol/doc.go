// Package protocol implements the homelight device link protocol.
//
// The light talks over a notification-style wireless channel that delivers
// raw byte chunks with no framing guarantees: a chunk may hold half a frame,
// several frames, or radio noise. This package recovers messages from that
// stream, decodes their payloads into light state, and encodes outbound
// commands.
//
// # Frame Format
//
// Notifications and commands share one frame shape:
//   - Start byte: 0xFE
//   - Type/command code: 1 byte
//   - Payload length: 1 byte
//   - Payload: length bytes
//   - End byte: 0xFF
//
// There is no checksum. A frame is accepted when its end byte lands exactly
// where the length byte said it would.
//
// # Message Types
//
// Notifications from the light:
//   - DeviceInfo (0x01): name, power flag, colour state, optional HSV
//   - DeviceColor (0x02): exactly 3 bytes; framed but not decoded
//
// Commands to the light:
//   - SetLEDColor (0x02): hue, saturation, value bytes
//   - SetBrightness (0x03): one level byte
//   - GetDeviceInfo (0x04): no data; the light answers with DeviceInfo
//
// # Usage Example - Decoding
//
//	dec := protocol.NewDecoder()
//	for chunk := range chunks {
//	    for _, msg := range dec.Consume(chunk) {
//	        if err := protocol.HandleMessage(deviceID, msg, cache); err != nil {
//	            // decode failures affect only this message
//	        }
//	    }
//	}
//
// # Usage Example - Encoding
//
//	frame := protocol.Encode(protocol.SetLEDColor{Color: protocol.HSVColor{H: 180, S: 0.9, V: 1}})
//	// frame = fe 02 03 80 e6 ff ff
//
// # Error Handling
//
// The package distinguishes between:
//   - Framing noise: bytes that break the frame grammar. The decoder resets
//     and resynchronizes on the next start byte. Never reported.
//   - Decode errors: a framed DeviceInfo whose name is not UTF-8. Reported as
//     *DecodeError for that one message.
//
// # Thread Safety
//
// Decoder holds per-stream state and must be owned by a single goroutine.
// Encode, DecodeLightInfo and DecodeCommand are stateless and safe for
// concurrent use.
package protocol
