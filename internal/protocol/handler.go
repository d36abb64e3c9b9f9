package protocol

import (
	"errors"

	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/logging"
)

// ErrUnhandledType is returned for framed messages that have no payload decoder
var ErrUnhandledType = errors.New("message type has no payload decoder")

// StateSink receives light state decoded from DeviceInfo messages
type StateSink interface {
	UpdateLightInfo(info LightInfo)
}

// HandleMessage decodes one framed message and delivers the result to sink.
//
// DeviceInfo payloads are decoded into LightInfo. A payload that fails to
// decode is logged and returned as a *DecodeError; the sink is not called.
// DeviceColor messages are accepted at the framing layer only and return
// ErrUnhandledType so callers can count or ignore them.
func HandleMessage(deviceID uint32, msg Message, sink StateSink) error {
	logging.Debug("Decoded frame",
		zap.Uint32("device_id", deviceID),
		zap.String("type", msg.Type.String()),
		zap.Int("payload_len", len(msg.Payload)),
		zap.String("payload_hex", logging.HexDump(msg.Payload)),
	)

	switch msg.Type {
	case MessageTypeDeviceInfo:
		return handleDeviceInfo(deviceID, msg, sink)
	case MessageTypeDeviceColor:
		logging.Debug("Unhandled DeviceColor message",
			zap.Uint32("device_id", deviceID),
			zap.String("payload_hex", logging.HexDump(msg.Payload)),
		)
		return ErrUnhandledType
	default:
		logging.Warn("Unknown message type",
			zap.Uint32("device_id", deviceID),
			zap.String("type", msg.Type.String()),
		)
		return ErrUnhandledType
	}
}

// handleDeviceInfo processes DeviceInfo messages (0x01)
func handleDeviceInfo(deviceID uint32, msg Message, sink StateSink) error {
	info, err := DecodeLightInfo(msg.Payload)
	if err != nil {
		logging.Warn("Failed to decode DeviceInfo payload",
			zap.Uint32("device_id", deviceID),
			zap.Error(err),
			zap.String("payload_hex", logging.HexDump(msg.Payload)),
		)
		return err
	}

	logging.Info("Device state received",
		zap.Uint32("device_id", deviceID),
		zap.String("name", info.Name),
		zap.Bool("is_on", info.IsOn),
		zap.Float64("hue", info.Color.H),
		zap.Float64("saturation", info.Color.S),
		zap.Float64("value", info.Color.V),
	)

	sink.UpdateLightInfo(info)
	return nil
}
