package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/muurk/homelight/internal/config"
)

var (
	// ErrClosed is returned by ReadChunk and Write after Close
	ErrClosed = errors.New("link closed")

	// ErrNotConnected is returned when Connect has not succeeded yet
	ErrNotConnected = errors.New("link not connected")
)

// Link carries raw bytes between the bridge and one light.
//
// Chunks returned by ReadChunk have no framing guarantees. A Link supports
// one reader and one writer running concurrently; Close may be called from
// any goroutine and unblocks both.
type Link interface {
	// Connect opens the transport
	Connect(ctx context.Context) error

	// ReadChunk blocks until bytes arrive, the link fails or ctx ends
	ReadChunk(ctx context.Context) ([]byte, error)

	// Write sends one encoded command frame
	Write(ctx context.Context, frame []byte) error

	// Close releases the transport. It is safe to call more than once.
	Close() error

	String() string
}

// New builds the Link described by cfg. Nothing is opened until Connect.
func New(cfg config.LinkConfig) (Link, error) {
	switch cfg.Type {
	case config.LinkSerial:
		if cfg.Serial == nil {
			return nil, errors.New("serial link requires serial settings")
		}
		return NewSerial(*cfg.Serial), nil
	case config.LinkWebsocket:
		if cfg.Websocket == nil {
			return nil, errors.New("websocket link requires websocket settings")
		}
		return NewWebsocket(*cfg.Websocket), nil
	case config.LinkMQTT:
		if cfg.MQTT == nil {
			return nil, errors.New("mqtt link requires mqtt settings")
		}
		return NewMQTT(*cfg.MQTT), nil
	case config.LinkSimulator:
		var sc config.SimulatorConfig
		if cfg.Simulator != nil {
			sc = *cfg.Simulator
		}
		return NewSimulator(sc), nil
	default:
		return nil, fmt.Errorf("unknown link type %q", cfg.Type)
	}
}
