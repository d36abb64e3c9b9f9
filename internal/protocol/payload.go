package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidName is returned when the DeviceInfo name is not valid UTF-8
var ErrInvalidName = errors.New("device name is not valid UTF-8")

// ColorState is the colour mode byte that follows the power flag
type ColorState byte

const (
	ColorStateSolid     ColorState = 0x00 // Followed by hue, saturation, value bytes
	ColorStateAnimating ColorState = 0x01 // Followed by animation data we do not decode
)

// HSVColor is a hue/saturation/value colour.
// H is in degrees [0,360); S and V are in [0,1].
type HSVColor struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
	V float64 `json:"v"`
}

// String returns a compact representation of the colour
func (c HSVColor) String() string {
	return fmt.Sprintf("HSV{h=%.1f, s=%.3f, v=%.3f}", c.H, c.S, c.V)
}

// LightInfo is the light state carried by a DeviceInfo message.
// It is always rebuilt from a full payload, never patched from the wire.
type LightInfo struct {
	Name  string   `json:"name"`
	IsOn  bool     `json:"is_on"`
	Color HSVColor `json:"color"`
}

// String returns a debug representation of the light state
func (l LightInfo) String() string {
	return fmt.Sprintf("LightInfo{name=%q, on=%v, color=%s}", l.Name, l.IsOn, l.Color)
}

// DecodeError describes a message whose payload could not be decoded.
// Only the one message is affected; decoder state is untouched.
type DecodeError struct {
	Type MessageType
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeLightInfo decodes a DeviceInfo payload.
//
// Payload layout:
//
//	[0..n)  name           UTF-8 bytes up to the first 0x00
//	[n]     0x00           Name terminator
//	[n+1]   is_on          Non-zero means on
//	[n+2]   color_state    0x00 solid, 0x01 animating
//	[n+3]   hue            Only when solid: hue/255*360
//	[n+4]   saturation     Only when solid: sat/255
//	[n+5]   value          Only when solid: val/255
//	[...]   ignored        Animation and schedule data
//
// Missing trailing fields keep their zero values. Extra bytes never cause
// a failure; the only error is a name that is not valid UTF-8.
func DecodeLightInfo(payload []byte) (LightInfo, error) {
	var info LightInfo

	nameEnd := bytes.IndexByte(payload, 0x00)
	if nameEnd < 0 {
		nameEnd = len(payload)
	}
	name := payload[:nameEnd]
	if !utf8.Valid(name) {
		return LightInfo{}, &DecodeError{Type: MessageTypeDeviceInfo, Err: ErrInvalidName}
	}
	info.Name = string(name)

	rest := payload[min(nameEnd+1, len(payload)):]

	if len(rest) < 1 {
		return info, nil
	}
	info.IsOn = rest[0] != 0
	rest = rest[1:]

	if len(rest) < 1 {
		return info, nil
	}
	state := ColorState(rest[0])
	rest = rest[1:]

	if state == ColorStateSolid && len(rest) >= 3 {
		info.Color = HSVColor{
			H: float64(rest[0]) / 255 * 360,
			S: float64(rest[1]) / 255,
			V: float64(rest[2]) / 255,
		}
	}

	return info, nil
}

// EncodeLightInfo builds a DeviceInfo payload for a solid colour.
// It is the inverse of DecodeLightInfo and is used by simulators and tests.
func EncodeLightInfo(info LightInfo) []byte {
	payload := make([]byte, 0, len(info.Name)+6)
	payload = append(payload, info.Name...)
	payload = append(payload, 0x00)
	if info.IsOn {
		payload = append(payload, 0x01)
	} else {
		payload = append(payload, 0x00)
	}
	payload = append(payload, byte(ColorStateSolid))
	return append(payload, colorBytes(info.Color)...)
}
