package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/muurk/homelight/internal/link"
	"github.com/muurk/homelight/internal/logging"
	"github.com/muurk/homelight/internal/protocol"
)

var (
	// ErrQueueFull is returned by Enqueue when the device's command queue is full
	ErrQueueFull = errors.New("command queue full")

	// ErrSenderStopped is returned by Enqueue after the sender stopped
	ErrSenderStopped = errors.New("command sender stopped")
)

// Sender owns a device's outbound command queue. A single worker drains the
// queue and writes each encoded frame to the link, so writes never interleave
// and callers never hold a lock around the transport.
type Sender struct {
	deviceID uint32
	queue    chan protocol.Command
	limiter  *rate.Limiter

	// closing is closed when the worker exits; Enqueue stops accepting work
	closing   chan struct{}
	closeOnce sync.Once
}

// NewSender creates a sender with room for queueSize pending commands.
// writeRate limits frames per second; zero or less means unlimited.
func NewSender(deviceID uint32, queueSize int, writeRate float64) *Sender {
	if queueSize <= 0 {
		queueSize = 1
	}
	limit := rate.Inf
	if writeRate > 0 {
		limit = rate.Limit(writeRate)
	}
	return &Sender{
		deviceID: deviceID,
		queue:    make(chan protocol.Command, queueSize),
		limiter:  rate.NewLimiter(limit, 1),
		closing:  make(chan struct{}),
	}
}

// Enqueue queues a command without blocking
func (s *Sender) Enqueue(cmd protocol.Command) error {
	select {
	case <-s.closing:
		return ErrSenderStopped
	default:
	}

	select {
	case s.queue <- cmd:
		return nil
	default:
		logging.Warn("Command queue full, dropping command",
			zap.Uint32("device_id", s.deviceID),
			zap.String("command", cmd.String()),
		)
		return ErrQueueFull
	}
}

// Pending returns the number of queued commands
func (s *Sender) Pending() int {
	return len(s.queue)
}

// Run drains the queue into l until ctx ends or a write fails. A Sender runs
// at most once; Enqueue fails with ErrSenderStopped afterwards.
func (s *Sender) Run(ctx context.Context, l link.Link) error {
	defer s.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			frame := protocol.Encode(cmd)
			logging.LogCommand(s.deviceID, cmd.String(), frame)
			if err := l.Write(ctx, frame); err != nil {
				return fmt.Errorf("write %s: %w", cmd, err)
			}
		}
	}
}

// Stop makes Enqueue reject new commands. Commands still queued are dropped.
func (s *Sender) Stop() {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
}
