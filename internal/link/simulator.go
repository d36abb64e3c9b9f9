package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/config"
	"github.com/muurk/homelight/internal/logging"
	"github.com/muurk/homelight/internal/protocol"
)

// Simulator is an in-process light. It decodes command frames, keeps its own
// LightInfo and answers GetDeviceInfo with a DeviceInfo notification split
// across two chunks, the way a radio link delivers it.
type Simulator struct {
	cfg config.SimulatorConfig

	mu        sync.Mutex
	state     protocol.LightInfo
	connected bool
	closed    bool
	commands  []protocol.Command

	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSimulator creates a simulated light that starts off with a warm white colour
func NewSimulator(cfg config.SimulatorConfig) *Simulator {
	name := cfg.Name
	if name == "" {
		name = "Simulated light"
	}
	return &Simulator{
		cfg: cfg,
		state: protocol.LightInfo{
			Name:  name,
			Color: protocol.HSVColor{H: 30, S: 0.4, V: 1},
		},
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

// Connect marks the simulator connected
func (s *Simulator) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.connected = true
	return nil
}

// ReadChunk returns the next notification chunk
func (s *Simulator) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	select {
	case chunk := <-s.chunks:
		return chunk, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write decodes a command frame and applies it
func (s *Simulator) Write(ctx context.Context, frame []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	cmd, err := protocol.DecodeCommand(frame)
	if err != nil {
		return fmt.Errorf("simulator: %w", err)
	}

	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	switch c := cmd.(type) {
	case protocol.SetLEDColor:
		s.state.Color = c.Color
	case protocol.SetBrightness:
		s.state.IsOn = c.Level > 0
	}
	s.mu.Unlock()

	logging.Debug("Simulator received command",
		zap.String("link", s.String()),
		zap.String("command", cmd.String()),
	)

	if _, ok := cmd.(protocol.GetDeviceInfo); ok && !s.cfg.Silent {
		go s.answer()
	}
	return nil
}

// answer sends the current state after the configured latency
func (s *Simulator) answer() {
	if s.cfg.Latency > 0 {
		select {
		case <-time.After(s.cfg.Latency):
		case <-s.done:
			return
		}
	}

	frame := protocol.Message{
		Type:    protocol.MessageTypeDeviceInfo,
		Payload: protocol.EncodeLightInfo(s.State()),
	}.Bytes()

	half := len(frame) / 2
	for _, chunk := range [][]byte{frame[:half], frame[half:]} {
		select {
		case s.chunks <- chunk:
		case <-s.done:
			return
		}
	}
}

// Notify injects raw bytes as if the light had sent them
func (s *Simulator) Notify(chunk []byte) {
	select {
	case s.chunks <- append([]byte(nil), chunk...):
	case <-s.done:
	}
}

// State returns the simulated light's current state
func (s *Simulator) State() protocol.LightInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Commands returns every command written so far
func (s *Simulator) Commands() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Command(nil), s.commands...)
}

// Close stops the simulator
func (s *Simulator) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *Simulator) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.connected {
		return ErrNotConnected
	}
	return nil
}

func (s *Simulator) String() string {
	return fmt.Sprintf("simulator:%s", s.cfg.Name)
}
