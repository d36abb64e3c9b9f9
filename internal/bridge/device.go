package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/cache"
	"github.com/muurk/homelight/internal/config"
	"github.com/muurk/homelight/internal/link"
	"github.com/muurk/homelight/internal/logging"
	"github.com/muurk/homelight/internal/protocol"
)

const (
	// messageBuffer is how many decoded messages may wait for the consumer
	messageBuffer = 32

	// initialQueryTimeout bounds how long the session's own GetDeviceInfo
	// holds the cache's in-flight slot
	initialQueryTimeout = 5 * time.Second
)

// ErrDeviceOffline is returned when a command is sent to a device whose link
// session has ended
var ErrDeviceOffline = errors.New("device offline")

// SessionState describes where a device is in its link lifecycle
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateConnecting SessionState = "connecting"
	StateOnline     SessionState = "online"
	StateOffline    SessionState = "offline"
)

// Status is a point-in-time view of one device for listings
type Status struct {
	ID           uint32              `json:"id"`
	Name         string              `json:"name"`
	Link         string              `json:"link"`
	LinkType     string              `json:"link_type"`
	Session      SessionState        `json:"session"`
	LastError    string              `json:"last_error,omitempty"`
	Queued       int                 `json:"queued_commands"`
	Chunks       uint64              `json:"chunks"`
	Frames       uint64              `json:"frames"`
	DecodeErrors uint64              `json:"decode_errors"`
	State        *protocol.LightInfo `json:"state,omitempty"`
	ObservedAt   *time.Time          `json:"observed_at,omitempty"`
	Refreshing   bool                `json:"refreshing"`
}

// Device is one light's session: its link, the read loop that feeds a frame
// decoder, the consumer that applies messages to the cache and the sender
// that drains the command queue.
type Device struct {
	cfg    config.DeviceConfig
	id     cache.DeviceID
	link   link.Link
	cache  *cache.Cache
	sender *Sender

	mu      sync.Mutex
	state   SessionState
	lastErr error

	chunks       atomic.Uint64
	frames       atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewDevice creates a device session over l that reports into c
func NewDevice(cfg config.DeviceConfig, l link.Link, c *cache.Cache) *Device {
	return &Device{
		cfg:    cfg,
		id:     cache.DeviceID(cfg.ID),
		link:   l,
		cache:  c,
		sender: NewSender(cfg.ID, cfg.QueueSize, cfg.WriteRate),
		state:  StateIdle,
	}
}

// ID returns the device's numeric identifier
func (d *Device) ID() uint32 {
	return uint32(d.id)
}

// Name returns the configured display name
func (d *Device) Name() string {
	return d.cfg.DisplayName()
}

// Enqueue queues a command for the device without blocking
func (d *Device) Enqueue(cmd protocol.Command) error {
	err := d.sender.Enqueue(cmd)
	if errors.Is(err, ErrSenderStopped) {
		return fmt.Errorf("%s: %w", d.Name(), ErrDeviceOffline)
	}
	return err
}

// Run connects the link and serves the session until ctx ends or the link
// fails. There is no reconnect: once Run returns the device stays offline and
// queued or future commands fail with ErrDeviceOffline.
//
// Once connected the session queries the device through the cache's
// in-flight slot, so a reader refreshing at the same moment does not send a
// second query.
//
// Run returns nil when ctx ended the session.
func (d *Device) Run(ctx context.Context) error {
	d.setState(StateConnecting, nil)
	logging.LogLinkEvent(d.ID(), d.link.String(), "connecting")

	err := d.session(ctx)

	d.sender.Stop()
	d.cache.ReleaseInFlight(d.id)
	if cerr := d.link.Close(); cerr != nil {
		logging.Debug("Link close failed", zap.Uint32("device_id", d.ID()), zap.Error(cerr))
	}

	if ctx.Err() != nil {
		err = nil
	}
	d.setState(StateOffline, err)
	if err != nil {
		logging.Error("Device session ended",
			zap.Uint32("device_id", d.ID()),
			zap.String("link", d.link.String()),
			zap.Error(err),
		)
	}
	logging.LogLinkEvent(d.ID(), d.link.String(), "disconnected")
	return err
}

// session runs the read loop, the consumer and the sender for one connection
func (d *Device) session(ctx context.Context) error {
	if err := d.link.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", d.link, err)
	}
	d.setState(StateOnline, nil)
	logging.LogLinkEvent(d.ID(), d.link.String(), "connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages := make(chan protocol.Message, messageBuffer)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		d.consume(messages)
	}()

	sendErr := make(chan error, 1)
	go func() {
		err := d.sender.Run(ctx, d.link)
		cancel()
		sendErr <- err
	}()

	// Skip the initial query when a reader already has one outstanding
	if release, ok := d.cache.Claim(d.id); ok {
		if err := d.Enqueue(protocol.GetDeviceInfo{}); err != nil {
			release()
			logging.Warn("Initial device info request not queued",
				zap.Uint32("device_id", d.ID()),
				zap.Error(err),
			)
		} else {
			// No reader waits on this query to give up its claim
			unanswered := time.AfterFunc(initialQueryTimeout, release)
			defer unanswered.Stop()
		}
	}

	readErr := d.readLoop(ctx, messages)
	close(messages)
	cancel()
	<-consumed
	writeErr := <-sendErr

	switch {
	case writeErr != nil && !isContextErr(writeErr):
		return writeErr
	case readErr != nil && !isContextErr(readErr):
		return fmt.Errorf("read %s: %w", d.link, readErr)
	default:
		return nil
	}
}

// readLoop owns the frame decoder. Chunks may split or merge frames.
func (d *Device) readLoop(ctx context.Context, out chan<- protocol.Message) error {
	var dec protocol.Decoder
	for {
		chunk, err := d.link.ReadChunk(ctx)
		if err != nil {
			return err
		}
		d.chunks.Add(1)
		logging.LogChunk(d.ID(), chunk)

		for _, msg := range dec.Consume(chunk) {
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// consume applies decoded messages to the cache in arrival order
func (d *Device) consume(messages <-chan protocol.Message) {
	sink := d.cache.Sink(d.id)
	for msg := range messages {
		d.frames.Add(1)
		err := protocol.HandleMessage(d.ID(), msg, sink)
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			d.decodeErrors.Add(1)
		}
	}
}

func (d *Device) setState(state SessionState, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
	d.lastErr = err
}

// Status returns the device's session counters and cached state
func (d *Device) Status() Status {
	d.mu.Lock()
	state, lastErr := d.state, d.lastErr
	d.mu.Unlock()

	st := Status{
		ID:           d.ID(),
		Name:         d.Name(),
		Link:         d.link.String(),
		LinkType:     d.cfg.Link.Type,
		Session:      state,
		Queued:       d.sender.Pending(),
		Chunks:       d.chunks.Load(),
		Frames:       d.frames.Load(),
		DecodeErrors: d.decodeErrors.Load(),
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}

	entry := d.cache.Snapshot(d.id)
	st.Refreshing = entry.InFlight
	if entry.Valid {
		info, observedAt := entry.Info, entry.ObservedAt
		st.State = &info
		st.ObservedAt = &observedAt
	}
	return st
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
