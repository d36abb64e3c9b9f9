package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/cache"
	"github.com/muurk/homelight/internal/config"
	"github.com/muurk/homelight/internal/link"
	"github.com/muurk/homelight/internal/logging"
	"github.com/muurk/homelight/internal/protocol"
)

// ErrUnknownDevice is returned for ids that are not configured
var ErrUnknownDevice = errors.New("unknown device")

// LinkFactory builds the transport for one device
type LinkFactory func(cfg config.LinkConfig) (link.Link, error)

// Manager indexes device sessions by numeric id and owns the freshness cache
// they report into. It is the cache's Querier: a refresh becomes a
// GetDeviceInfo command on the device's queue.
type Manager struct {
	cache   *cache.Cache
	devices map[cache.DeviceID]*Device
	order   []cache.DeviceID
}

// NewManager builds a device session for every configured device.
// A nil newLink uses link.New.
func NewManager(cfg *config.Config, newLink LinkFactory) (*Manager, error) {
	if newLink == nil {
		newLink = link.New
	}

	m := &Manager{
		devices: make(map[cache.DeviceID]*Device, len(cfg.Devices)),
	}
	m.cache = cache.New(m, cache.Options{
		TTL:          cfg.Cache.TTL,
		PollInterval: cfg.Cache.PollInterval,
		MaxWait:      cfg.Cache.MaxWait,
	})

	for _, dc := range cfg.Devices {
		id := cache.DeviceID(dc.ID)
		if _, exists := m.devices[id]; exists {
			return nil, fmt.Errorf("duplicate device id %d", dc.ID)
		}
		l, err := newLink(dc.Link)
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", dc.ID, err)
		}
		m.devices[id] = NewDevice(dc, l, m.cache)
		m.order = append(m.order, id)
	}

	return m, nil
}

// Run runs every device session and waits for all of them to end.
// Sessions that fail are logged and leave their device offline.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(m.order))

	for i, id := range m.order {
		wg.Add(1)
		go func(i int, d *Device) {
			defer wg.Done()
			if err := d.Run(ctx); err != nil {
				errs[i] = fmt.Errorf("device %d: %w", d.ID(), err)
			}
		}(i, m.devices[id])
	}

	logging.Info("Device sessions started", zap.Int("devices", len(m.order)))
	wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) device(id uint32) (*Device, error) {
	d, ok := m.devices[cache.DeviceID(id)]
	if !ok {
		return nil, fmt.Errorf("device %d: %w", id, ErrUnknownDevice)
	}
	return d, nil
}

// RequestDeviceInfo queues a GetDeviceInfo command. The cache calls it when
// it claims a device's in-flight slot.
func (m *Manager) RequestDeviceInfo(id cache.DeviceID) error {
	d, err := m.device(uint32(id))
	if err != nil {
		return err
	}
	return d.Enqueue(protocol.GetDeviceInfo{})
}

// GetFresh returns fresh state for a device; see cache.Cache.GetFresh
func (m *Manager) GetFresh(ctx context.Context, id uint32, force bool) (protocol.LightInfo, error) {
	if _, err := m.device(id); err != nil {
		return protocol.LightInfo{}, err
	}
	return m.cache.GetFresh(ctx, cache.DeviceID(id), force)
}

// SetPower switches the light on (brightness 1) or off (brightness 0) and
// patches the cached power flag
func (m *Manager) SetPower(id uint32, on bool) error {
	d, err := m.device(id)
	if err != nil {
		return err
	}

	level := 0.0
	if on {
		level = 1.0
	}
	if err := d.Enqueue(protocol.SetBrightness{Level: level}); err != nil {
		return err
	}
	m.cache.ApplyLocalPatch(d.id, cache.FieldPower, level)
	return nil
}

// SetColor changes one colour component. The other two come from the cached
// state, refreshed first if it is stale. Hue is in degrees and clamped to
// [0,360]; saturation and value are clamped to [0,1].
func (m *Manager) SetColor(ctx context.Context, id uint32, field cache.Field, value float64) error {
	d, err := m.device(id)
	if err != nil {
		return err
	}

	info, err := m.cache.GetFresh(ctx, d.id, false)
	if err != nil {
		return fmt.Errorf("read current colour: %w", err)
	}

	color := info.Color
	switch field {
	case cache.FieldHue:
		color.H = clamp(value, 0, 360)
		value = color.H
	case cache.FieldSaturation:
		color.S = clamp(value, 0, 1)
		value = color.S
	case cache.FieldValue:
		color.V = clamp(value, 0, 1)
		value = color.V
	default:
		return fmt.Errorf("field %s is not a colour component", field)
	}

	if err := d.Enqueue(protocol.SetLEDColor{Color: color}); err != nil {
		return err
	}
	m.cache.ApplyLocalPatch(d.id, field, value)
	return nil
}

// Devices returns the status of every device in configuration order
func (m *Manager) Devices() []Status {
	out := make([]Status, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.devices[id].Status())
	}
	return out
}

// Device returns the status of one device
func (m *Manager) Device(id uint32) (Status, error) {
	d, err := m.device(id)
	if err != nil {
		return Status{}, err
	}
	return d.Status(), nil
}

// Updates returns a channel closed on the device's next state report
func (m *Manager) Updates(id uint32) (<-chan struct{}, error) {
	d, err := m.device(id)
	if err != nil {
		return nil, err
	}
	return m.cache.Updated(d.id), nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}
