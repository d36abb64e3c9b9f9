package bridge

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/homelight/internal/cache"
	"github.com/muurk/homelight/internal/config"
	"github.com/muurk/homelight/internal/link"
	"github.com/muurk/homelight/internal/protocol"
)

// fakeLink is a scripted link.Link
type fakeLink struct {
	connectErr error
	writeErr   error
	chunks     chan []byte

	mu     sync.Mutex
	writes [][]byte

	done      chan struct{}
	closeOnce sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeLink) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeLink) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case c := <-f.chunks:
		return c, nil
	case <-f.done:
		return nil, link.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeLink) Write(ctx context.Context, frame []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, frame)
	return nil
}

func (f *fakeLink) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeLink) String() string { return "fake" }

func (f *fakeLink) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

type querier func(id cache.DeviceID) error

func (f querier) RequestDeviceInfo(id cache.DeviceID) error { return f(id) }

// waitFor polls cond until it holds or the test times out
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func countGetDeviceInfo(cmds []protocol.Command) int {
	n := 0
	for _, c := range cmds {
		if _, ok := c.(protocol.GetDeviceInfo); ok {
			n++
		}
	}
	return n
}

// near compares quantized colour components
func near(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func testConfig(devices ...config.DeviceConfig) *config.Config {
	cfg := &config.Config{Version: 1, Devices: devices}
	cfg.ApplyDefaults()
	return cfg
}

func simulatorDevice(id uint32, sc config.SimulatorConfig) config.DeviceConfig {
	return config.DeviceConfig{
		ID:   id,
		Link: config.LinkConfig{Type: config.LinkSimulator, Simulator: &sc},
	}
}

// startManager runs a manager whose devices are simulators and returns them by id
func startManager(t *testing.T, cfg *config.Config) (*Manager, map[uint32]*link.Simulator) {
	t.Helper()

	sims := make(map[uint32]*link.Simulator)
	next := 0
	factory := func(lc config.LinkConfig) (link.Link, error) {
		sim := link.NewSimulator(*lc.Simulator)
		sims[cfg.Devices[next].ID] = sim
		next++
		return sim, nil
	}

	m, err := NewManager(cfg, factory)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, sims
}

func TestSenderEnqueue(t *testing.T) {
	s := NewSender(1, 2, 0)

	if err := s.Enqueue(protocol.GetDeviceInfo{}); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	if err := s.Enqueue(protocol.GetDeviceInfo{}); err != nil {
		t.Fatalf("second Enqueue() error = %v", err)
	}
	if err := s.Enqueue(protocol.GetDeviceInfo{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue() on full queue error = %v, want ErrQueueFull", err)
	}
	if got := s.Pending(); got != 2 {
		t.Errorf("Pending() = %d, want 2", got)
	}

	s.Stop()
	s.Stop()
	if err := s.Enqueue(protocol.GetDeviceInfo{}); !errors.Is(err, ErrSenderStopped) {
		t.Errorf("Enqueue() after Stop error = %v, want ErrSenderStopped", err)
	}
}

func TestSenderRunWritesInOrder(t *testing.T) {
	fl := newFakeLink()
	s := NewSender(1, 8, 0)

	cmds := []protocol.Command{
		protocol.SetBrightness{Level: 1},
		protocol.SetLEDColor{Color: protocol.HSVColor{H: 180, S: 0.5, V: 0.9}},
		protocol.GetDeviceInfo{},
	}
	for _, c := range cmds {
		if err := s.Enqueue(c); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", c, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, fl) }()

	waitFor(t, "three writes", func() bool { return len(fl.written()) == 3 })
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}

	for i, frame := range fl.written() {
		want := protocol.Encode(cmds[i])
		if string(frame) != string(want) {
			t.Errorf("write %d = % x, want % x", i, frame, want)
		}
	}
}

func TestSenderRunStopsOnWriteError(t *testing.T) {
	fl := newFakeLink()
	fl.writeErr = link.ErrNotConnected
	s := NewSender(1, 4, 0)
	_ = s.Enqueue(protocol.GetDeviceInfo{})

	err := s.Run(context.Background(), fl)
	if !errors.Is(err, link.ErrNotConnected) {
		t.Fatalf("Run() error = %v, want ErrNotConnected", err)
	}
	if err := s.Enqueue(protocol.GetDeviceInfo{}); !errors.Is(err, ErrSenderStopped) {
		t.Errorf("Enqueue() after failed Run error = %v, want ErrSenderStopped", err)
	}
}

func TestSenderRateLimit(t *testing.T) {
	fl := newFakeLink()
	s := NewSender(1, 8, 20) // one frame every 50ms
	for i := 0; i < 3; i++ {
		_ = s.Enqueue(protocol.GetDeviceInfo{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	go func() { _ = s.Run(ctx, fl) }()

	waitFor(t, "three writes", func() bool { return len(fl.written()) == 3 })
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("three writes took %v, want at least ~100ms at 20/s", elapsed)
	}
}

func TestDeviceSessionDecodesChunks(t *testing.T) {
	fl := newFakeLink()
	c := cache.New(nil, cache.Options{})
	d := NewDevice(config.DeviceConfig{ID: 7, QueueSize: 4}, fl, c)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	// The session asks for device info as soon as it connects
	waitFor(t, "initial GetDeviceInfo", func() bool { return len(fl.written()) == 1 })
	if got, want := fl.written()[0], protocol.Encode(protocol.GetDeviceInfo{}); string(got) != string(want) {
		t.Errorf("initial write = % x, want % x", got, want)
	}

	bad := protocol.Message{Type: protocol.MessageTypeDeviceInfo, Payload: []byte{0xC3, 0x28, 0x00, 0x01}}.Bytes()
	good := protocol.Message{
		Type:    protocol.MessageTypeDeviceInfo,
		Payload: []byte{0x41, 0x00, 0x01, 0x00, 0xFF, 0x66, 0x19},
	}.Bytes()

	fl.chunks <- append([]byte{0x00, 0x13}, bad...)
	fl.chunks <- good[:4]
	fl.chunks <- good[4:]

	waitFor(t, "cache update", func() bool { return c.Snapshot(7).Valid })

	info := c.Snapshot(7).Info
	if info.Name != "A" || !info.IsOn {
		t.Errorf("cached info = %+v, want name A and on", info)
	}
	if !near(info.Color.S, 0.4) {
		t.Errorf("cached saturation = %v, want 0.4", info.Color.S)
	}

	st := d.Status()
	if st.Session != StateOnline {
		t.Errorf("Session = %s, want online", st.Session)
	}
	if st.Chunks != 3 || st.Frames != 2 || st.DecodeErrors != 1 {
		t.Errorf("counters chunks=%d frames=%d decode_errors=%d, want 3/2/1", st.Chunks, st.Frames, st.DecodeErrors)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run() after cancel error = %v, want nil", err)
	}
	if got := d.Status().Session; got != StateOffline {
		t.Errorf("Session after Run = %s, want offline", got)
	}
}

func TestDeviceSessionInitialQueryUsesInFlightSlot(t *testing.T) {
	t.Run("reader waits on the session query", func(t *testing.T) {
		var readerQueries atomic.Int32
		c := cache.New(querier(func(cache.DeviceID) error {
			readerQueries.Add(1)
			return nil
		}), cache.Options{PollInterval: 5 * time.Millisecond})
		fl := newFakeLink()
		d := NewDevice(config.DeviceConfig{ID: 4, QueueSize: 4}, fl, c)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = d.Run(ctx) }()
		waitFor(t, "initial GetDeviceInfo", func() bool { return len(fl.written()) == 1 })

		got := make(chan error, 1)
		go func() {
			readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
			defer readCancel()
			_, err := c.GetFresh(readCtx, 4, false)
			got <- err
		}()

		time.Sleep(30 * time.Millisecond)
		fl.chunks <- protocol.Message{
			Type:    protocol.MessageTypeDeviceInfo,
			Payload: protocol.EncodeLightInfo(protocol.LightInfo{Name: "Lamp", IsOn: true}),
		}.Bytes()

		if err := <-got; err != nil {
			t.Fatalf("GetFresh() error = %v", err)
		}
		if n := readerQueries.Load(); n != 0 {
			t.Errorf("reader sent %d queries while the session query was outstanding, want 0", n)
		}
		if n := len(fl.written()); n != 1 {
			t.Errorf("link saw %d writes, want 1", n)
		}
	})

	t.Run("no initial query while a reader holds the slot", func(t *testing.T) {
		c := cache.New(nil, cache.Options{})
		if _, ok := c.Claim(5); !ok {
			t.Fatal("Claim() = false on an idle device")
		}
		fl := newFakeLink()
		d := NewDevice(config.DeviceConfig{ID: 5, QueueSize: 4}, fl, c)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- d.Run(ctx) }()
		waitFor(t, "session online", func() bool { return d.Status().Session == StateOnline })

		time.Sleep(30 * time.Millisecond)
		if n := len(fl.written()); n != 0 {
			t.Errorf("session wrote %d frames while a reader held the slot, want 0", n)
		}

		cancel()
		<-errCh
	})
}

func TestDeviceSessionEnds(t *testing.T) {
	t.Run("connect failure", func(t *testing.T) {
		fl := newFakeLink()
		fl.connectErr = errors.New("no such port")
		d := NewDevice(config.DeviceConfig{ID: 1, QueueSize: 4}, fl, cache.New(nil, cache.Options{}))

		if err := d.Run(context.Background()); err == nil {
			t.Fatal("Run() error = nil, want connect error")
		}
		st := d.Status()
		if st.Session != StateOffline || st.LastError == "" {
			t.Errorf("Status() = %+v, want offline with last error", st)
		}
		if err := d.Enqueue(protocol.GetDeviceInfo{}); !errors.Is(err, ErrDeviceOffline) {
			t.Errorf("Enqueue() error = %v, want ErrDeviceOffline", err)
		}
	})

	t.Run("link closed releases in-flight slot", func(t *testing.T) {
		fl := newFakeLink()
		c := cache.New(nil, cache.Options{})
		d := NewDevice(config.DeviceConfig{ID: 2, QueueSize: 4}, fl, c)

		errCh := make(chan error, 1)
		go func() { errCh <- d.Run(context.Background()) }()
		waitFor(t, "initial write", func() bool { return len(fl.written()) == 1 })

		_ = fl.Close()
		if err := <-errCh; !errors.Is(err, link.ErrClosed) {
			t.Errorf("Run() error = %v, want ErrClosed", err)
		}
		if c.Snapshot(2).InFlight {
			t.Error("in-flight slot still claimed after session ended")
		}
	})

	t.Run("write failure", func(t *testing.T) {
		fl := newFakeLink()
		fl.writeErr = errors.New("broken pipe")
		d := NewDevice(config.DeviceConfig{ID: 3, QueueSize: 4}, fl, cache.New(nil, cache.Options{}))

		err := d.Run(context.Background())
		if err == nil || errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want write error", err)
		}
	})
}

func TestManagerGetFresh(t *testing.T) {
	m, sims := startManager(t, testConfig(
		simulatorDevice(1, config.SimulatorConfig{Name: "Desk"}),
		simulatorDevice(2, config.SimulatorConfig{Name: "Hall"}),
	))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for id, want := range map[uint32]string{1: "Desk", 2: "Hall"} {
		info, err := m.GetFresh(ctx, id, false)
		if err != nil {
			t.Fatalf("GetFresh(%d) error = %v", id, err)
		}
		if info.Name != want {
			t.Errorf("GetFresh(%d).Name = %q, want %q", id, info.Name, want)
		}
	}

	// A forced read only accepts a value observed after it began
	time.Sleep(2 * config.DefaultPollInterval)
	start := time.Now()
	if _, err := m.GetFresh(ctx, 1, true); err != nil {
		t.Fatalf("forced GetFresh() error = %v", err)
	}
	st, _ := m.Device(1)
	if st.ObservedAt == nil || st.ObservedAt.Before(start.Add(-config.DefaultPollInterval)) {
		t.Errorf("forced read returned a value observed at %v, before the call at %v", st.ObservedAt, start)
	}
	if got := countGetDeviceInfo(sims[1].Commands()); got < 2 {
		t.Errorf("device saw %d GetDeviceInfo commands, want at least 2", got)
	}

	if _, err := m.GetFresh(ctx, 99, false); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("GetFresh(99) error = %v, want ErrUnknownDevice", err)
	}
}

func TestManagerGetFreshNoAnswer(t *testing.T) {
	cfg := testConfig(simulatorDevice(1, config.SimulatorConfig{Silent: true}))
	cfg.Cache.MaxWait = 100 * time.Millisecond
	m, _ := startManager(t, cfg)

	_, err := m.GetFresh(context.Background(), 1, false)
	if !errors.Is(err, cache.ErrNoData) {
		t.Errorf("GetFresh() error = %v, want ErrNoData", err)
	}
	if !errors.Is(err, cache.ErrStale) {
		t.Errorf("GetFresh() error = %v, want it to match ErrStale", err)
	}
}

func TestManagerWrites(t *testing.T) {
	m, sims := startManager(t, testConfig(simulatorDevice(1, config.SimulatorConfig{})))
	sim := sims[1]
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := m.GetFresh(ctx, 1, false); err != nil {
		t.Fatalf("GetFresh() error = %v", err)
	}

	if err := m.SetPower(1, true); err != nil {
		t.Fatalf("SetPower() error = %v", err)
	}
	waitFor(t, "light on", func() bool { return sim.State().IsOn })
	if st, _ := m.Device(1); st.State == nil || !st.State.IsOn {
		t.Errorf("cached state after SetPower = %+v, want on", st.State)
	}

	tests := []struct {
		name  string
		field cache.Field
		value float64
		check func(protocol.HSVColor) bool
	}{
		{"hue", cache.FieldHue, 120, func(c protocol.HSVColor) bool { return near(c.H, 120) && near(c.S, 0.4) && near(c.V, 1) }},
		{"saturation", cache.FieldSaturation, 1, func(c protocol.HSVColor) bool { return near(c.H, 120) && near(c.S, 1) }},
		{"value clamped", cache.FieldValue, 7, func(c protocol.HSVColor) bool { return near(c.V, 1) }},
		{"value", cache.FieldValue, 0.2, func(c protocol.HSVColor) bool { return near(c.V, 0.2) && near(c.S, 1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.SetColor(ctx, 1, tt.field, tt.value); err != nil {
				t.Fatalf("SetColor() error = %v", err)
			}
			waitFor(t, "simulator colour", func() bool { return tt.check(sim.State().Color) })

			st, err := m.Device(1)
			if err != nil {
				t.Fatalf("Device() error = %v", err)
			}
			if !tt.check(st.State.Color) {
				t.Errorf("cached colour = %s, does not match", st.State.Color)
			}
		})
	}

	if err := m.SetColor(ctx, 1, cache.FieldPower, 1); err == nil {
		t.Error("SetColor(FieldPower) error = nil, want error")
	}
	if err := m.SetPower(42, false); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("SetPower(42) error = %v, want ErrUnknownDevice", err)
	}
}

func TestManagerDevices(t *testing.T) {
	m, _ := startManager(t, testConfig(
		simulatorDevice(3, config.SimulatorConfig{}),
		simulatorDevice(1, config.SimulatorConfig{}),
	))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.GetFresh(ctx, 3, false); err != nil {
		t.Fatalf("GetFresh() error = %v", err)
	}

	list := m.Devices()
	if len(list) != 2 || list[0].ID != 3 || list[1].ID != 1 {
		t.Fatalf("Devices() = %+v, want ids [3 1] in config order", list)
	}
	if list[0].LinkType != config.LinkSimulator {
		t.Errorf("LinkType = %q, want simulator", list[0].LinkType)
	}
	if list[0].State == nil || list[0].ObservedAt == nil {
		t.Errorf("device 3 has no cached state: %+v", list[0])
	}
	if list[0].Name != "light-3" {
		t.Errorf("Name = %q, want light-3", list[0].Name)
	}

	if _, err := m.Device(5); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Device(5) error = %v, want ErrUnknownDevice", err)
	}
}

func TestNewManagerLinkError(t *testing.T) {
	cfg := testConfig(config.DeviceConfig{ID: 1, Link: config.LinkConfig{Type: "carrier-pigeon"}})
	if _, err := NewManager(cfg, nil); err == nil {
		t.Error("NewManager() error = nil, want unknown link type")
	}
}
