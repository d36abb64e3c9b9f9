package protocol

import (
	"encoding/hex"
	"fmt"
)

// Frame marker bytes, shared by notification and command framing
const (
	FrameStart byte = 0xFE
	FrameEnd   byte = 0xFF
)

// DeviceColorLength is the only payload length accepted for DeviceColor frames
const DeviceColorLength = 3

// MessageType identifies the kind of notification sent by the light
type MessageType byte

// Message types sent by the light (wire values)
const (
	MessageTypeDeviceInfo  MessageType = 0x01 // Name, power and colour state
	MessageTypeDeviceColor MessageType = 0x02 // Raw colour triple, no decoder yet
)

// ParseMessageType maps a wire byte to a known message type.
// The second return value is false for unknown codes.
func ParseMessageType(b byte) (MessageType, bool) {
	switch MessageType(b) {
	case MessageTypeDeviceInfo, MessageTypeDeviceColor:
		return MessageType(b), true
	default:
		return 0, false
	}
}

// acceptsLength reports whether a payload of n bytes is valid for this type
func (t MessageType) acceptsLength(n byte) bool {
	switch t {
	case MessageTypeDeviceColor:
		return n == DeviceColorLength
	default:
		return true
	}
}

// String returns a human-readable message type name
func (t MessageType) String() string {
	switch t {
	case MessageTypeDeviceInfo:
		return "DeviceInfo"
	case MessageTypeDeviceColor:
		return "DeviceColor"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(t))
	}
}

// Message is one complete frame recovered by the Decoder
type Message struct {
	Type    MessageType
	Payload []byte
}

// String returns a debug representation of the message
func (m Message) String() string {
	return fmt.Sprintf("Message{type=%s, len=%d, payload=%s}",
		m.Type, len(m.Payload), hex.EncodeToString(m.Payload))
}

// Bytes re-frames the message exactly as it appeared on the wire
func (m Message) Bytes() []byte {
	raw := make([]byte, 0, len(m.Payload)+4)
	raw = append(raw, FrameStart, byte(m.Type), byte(len(m.Payload)))
	raw = append(raw, m.Payload...)
	return append(raw, FrameEnd)
}
