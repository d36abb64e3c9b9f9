package protocol

import (
	"fmt"
	"math"
)

// Command codes written to the light
const (
	CmdSetLEDColor   byte = 0x02
	CmdSetBrightness byte = 0x03
	CmdGetDeviceInfo byte = 0x04
)

// Command is an outbound instruction for the light.
// Commands are plain values; Encode turns one into a wire frame.
type Command interface {
	// Code returns the wire command code
	Code() byte
	// Data returns the command's data bytes (without framing)
	Data() []byte
	String() string
}

// SetLEDColor sets hue, saturation and value in one write
type SetLEDColor struct {
	Color HSVColor
}

func (c SetLEDColor) Code() byte   { return CmdSetLEDColor }
func (c SetLEDColor) Data() []byte { return colorBytes(c.Color) }
func (c SetLEDColor) String() string {
	return fmt.Sprintf("SetLEDColor{%s}", c.Color)
}

// SetBrightness sets the output level; Level is clamped to [0,1]
type SetBrightness struct {
	Level float64
}

func (c SetBrightness) Code() byte   { return CmdSetBrightness }
func (c SetBrightness) Data() []byte { return []byte{scaleToByte(c.Level, 1)} }
func (c SetBrightness) String() string {
	return fmt.Sprintf("SetBrightness{level=%.3f}", c.Level)
}

// GetDeviceInfo asks the light to send a DeviceInfo notification
type GetDeviceInfo struct{}

func (GetDeviceInfo) Code() byte     { return CmdGetDeviceInfo }
func (GetDeviceInfo) Data() []byte   { return nil }
func (GetDeviceInfo) String() string { return "GetDeviceInfo{}" }

// Encode builds the complete wire frame for a command.
//
// Frame structure:
//
//	[0]     0xFE           FrameStart
//	[1]     code           Command code
//	[2]     len(data)      Data length
//	[3..]   data           Command data
//	[N]     0xFF           FrameEnd
//
// Encoding is total: every command value produces a valid frame.
func Encode(cmd Command) []byte {
	data := cmd.Data()
	frame := make([]byte, 0, len(data)+4)
	frame = append(frame, FrameStart, cmd.Code(), byte(len(data)))
	frame = append(frame, data...)
	return append(frame, FrameEnd)
}

// DecodeCommand parses a command frame produced by Encode.
// Simulated devices use it to answer queries.
func DecodeCommand(frame []byte) (Command, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("command frame too short: %d bytes (minimum 4)", len(frame))
	}
	if frame[0] != FrameStart {
		return nil, fmt.Errorf("invalid start byte: 0x%02x (expected 0x%02x)", frame[0], FrameStart)
	}
	length := int(frame[2])
	if len(frame) != length+4 {
		return nil, fmt.Errorf("frame length %d does not match data length %d", len(frame), length)
	}
	if frame[len(frame)-1] != FrameEnd {
		return nil, fmt.Errorf("invalid end byte: 0x%02x (expected 0x%02x)", frame[len(frame)-1], FrameEnd)
	}
	data := frame[3 : 3+length]

	switch frame[1] {
	case CmdSetLEDColor:
		if length != 3 {
			return nil, fmt.Errorf("SetLEDColor requires 3 data bytes, got %d", length)
		}
		return SetLEDColor{Color: HSVColor{
			H: float64(data[0]) / 255 * 360,
			S: float64(data[1]) / 255,
			V: float64(data[2]) / 255,
		}}, nil
	case CmdSetBrightness:
		if length != 1 {
			return nil, fmt.Errorf("SetBrightness requires 1 data byte, got %d", length)
		}
		return SetBrightness{Level: float64(data[0]) / 255}, nil
	case CmdGetDeviceInfo:
		if length != 0 {
			return nil, fmt.Errorf("GetDeviceInfo takes no data, got %d bytes", length)
		}
		return GetDeviceInfo{}, nil
	default:
		return nil, fmt.Errorf("unknown command code: 0x%02x", frame[1])
	}
}

// colorBytes quantizes a colour to its three wire bytes
func colorBytes(c HSVColor) []byte {
	return []byte{
		scaleToByte(c.H, 360),
		scaleToByte(c.S, 1),
		scaleToByte(c.V, 1),
	}
}

// scaleToByte clamps v into [0,limit], maps it onto [0,255] and rounds half
// away from zero. NaN encodes as 0.
func scaleToByte(v, limit float64) byte {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(0, math.Min(v, limit))
	return byte(math.Round(v * 255 / limit))
}
