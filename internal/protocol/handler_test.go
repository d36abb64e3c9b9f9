package protocol

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/muurk/homelight/internal/logging"
)

type recordingSink struct {
	updates []LightInfo
}

func (r *recordingSink) UpdateLightInfo(info LightInfo) {
	r.updates = append(r.updates, info)
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(zap.NewNop()) })
	return logs
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name        string
		msg         Message
		wantErr     error
		wantUpdates int
		wantLog     string
	}{
		{
			name: "DeviceInfo updates sink",
			msg: Message{
				Type:    MessageTypeDeviceInfo,
				Payload: []byte{'A', 0x00, 0x01, 0x00, 0x80, 0x80, 0x80},
			},
			wantUpdates: 1,
			wantLog:     "Device state received",
		},
		{
			name: "DeviceInfo with invalid name",
			msg: Message{
				Type:    MessageTypeDeviceInfo,
				Payload: []byte{0xC3, 0x28, 0x00},
			},
			wantErr: ErrInvalidName,
			wantLog: "Failed to decode DeviceInfo payload",
		},
		{
			name: "DeviceColor is framed only",
			msg: Message{
				Type:    MessageTypeDeviceColor,
				Payload: []byte{0x01, 0x02, 0x03},
			},
			wantErr: ErrUnhandledType,
			wantLog: "Unhandled DeviceColor message",
		},
		{
			name:    "unknown type",
			msg:     Message{Type: MessageType(0x7A)},
			wantErr: ErrUnhandledType,
			wantLog: "Unknown message type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := observeLogs(t)
			sink := &recordingSink{}

			err := HandleMessage(7, tt.msg, sink)

			if tt.wantErr == nil && err != nil {
				t.Fatalf("HandleMessage() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("HandleMessage() error = %v, want %v", err, tt.wantErr)
			}
			if len(sink.updates) != tt.wantUpdates {
				t.Errorf("sink received %d updates, want %d", len(sink.updates), tt.wantUpdates)
			}
			if logs.FilterMessage(tt.wantLog).Len() == 0 {
				t.Errorf("expected log %q, got %v", tt.wantLog, logs.All())
			}
		})
	}
}

func TestHandleMessage_LogsDeviceID(t *testing.T) {
	logs := observeLogs(t)

	msg := Message{Type: MessageTypeDeviceInfo, Payload: EncodeLightInfo(LightInfo{Name: "Hall", IsOn: true})}
	if err := HandleMessage(42, msg, &recordingSink{}); err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}

	entries := logs.FilterMessage("Device state received").All()
	if len(entries) != 1 {
		t.Fatalf("got %d state log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["device_id"] != uint32(42) {
		t.Errorf("device_id field = %v, want 42", fields["device_id"])
	}
	if fields["name"] != "Hall" {
		t.Errorf("name field = %v, want Hall", fields["name"])
	}
}
