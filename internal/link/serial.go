package link

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/config"
	"github.com/muurk/homelight/internal/logging"
)

const serialReadBuffer = 256

// SerialLink talks to a BLE-UART bridge module (HM-10, Bluno and similar)
// that passes the light's notification bytes through a serial port.
type SerialLink struct {
	cfg  config.SerialConfig
	mode *serial.Mode

	mu     sync.Mutex
	port   serial.Port
	closed bool
}

// NewSerial creates a serial link; the port is opened by Connect
func NewSerial(cfg config.SerialConfig) *SerialLink {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = config.DefaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = config.DefaultReadTimeout
	}
	return &SerialLink{
		cfg: cfg,
		mode: &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
}

// Connect opens the serial port
func (s *SerialLink) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	port, err := serial.Open(s.cfg.Port, s.mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Port, err)
	}
	// Bounded reads let ReadChunk notice ctx cancellation
	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set read timeout on %s: %w", s.cfg.Port, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = port.Close()
		return ErrClosed
	}
	s.port = port

	logging.Debug("Serial port opened",
		zap.String("port", s.cfg.Port),
		zap.Int("baud_rate", s.cfg.BaudRate),
	)
	return nil
}

func (s *SerialLink) current() (serial.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.port == nil {
		return nil, ErrNotConnected
	}
	return s.port, nil
}

// ReadChunk reads whatever bytes the port has, polling at the read timeout
func (s *SerialLink) ReadChunk(ctx context.Context) ([]byte, error) {
	port, err := s.current()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, serialReadBuffer)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := port.Read(buf)
		if err != nil {
			if _, cerr := s.current(); cerr != nil {
				return nil, cerr
			}
			return nil, fmt.Errorf("serial read: %w", err)
		}
		if n > 0 {
			return buf[:n], nil
		}
	}
}

// Write sends a frame to the port
func (s *SerialLink) Write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	port, err := s.current()
	if err != nil {
		return err
	}
	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// Close closes the port
func (s *SerialLink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

func (s *SerialLink) String() string {
	return fmt.Sprintf("serial:%s@%d", s.cfg.Port, s.cfg.BaudRate)
}

// ListPorts returns the serial ports present on this machine
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
