package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/homelight/internal/bridge"
	"github.com/muurk/homelight/internal/cache"
	"github.com/muurk/homelight/internal/config"
	"github.com/muurk/homelight/internal/link"
	"github.com/muurk/homelight/internal/protocol"
)

type colorCall struct {
	id    uint32
	field cache.Field
	value float64
}

// fakeBridge records calls and returns scripted results
type fakeBridge struct {
	mu      sync.Mutex
	devices []bridge.Status
	info    protocol.LightInfo
	getErr  error
	setErr  error

	forced     []bool
	powerCalls []bool
	colorCalls []colorCall
}

func newFakeBridge(ids ...uint32) *fakeBridge {
	fb := &fakeBridge{
		info: protocol.LightInfo{
			Name:  "Desk",
			IsOn:  true,
			Color: protocol.HSVColor{H: 359.6, S: 0.404, V: 0.996},
		},
	}
	for _, id := range ids {
		fb.devices = append(fb.devices, bridge.Status{ID: id, Name: fmt.Sprintf("light-%d", id)})
	}
	return fb
}

func (f *fakeBridge) known(id uint32) error {
	for _, d := range f.devices {
		if d.ID == id {
			return nil
		}
	}
	return fmt.Errorf("device %d: %w", id, bridge.ErrUnknownDevice)
}

func (f *fakeBridge) Devices() []bridge.Status { return f.devices }

func (f *fakeBridge) Device(id uint32) (bridge.Status, error) {
	for _, d := range f.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return bridge.Status{}, f.known(id)
}

func (f *fakeBridge) GetFresh(_ context.Context, id uint32, force bool) (protocol.LightInfo, error) {
	if err := f.known(id); err != nil {
		return protocol.LightInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, force)
	return f.info, f.getErr
}

func (f *fakeBridge) SetPower(id uint32, on bool) error {
	if err := f.known(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.powerCalls = append(f.powerCalls, on)
	return f.setErr
}

func (f *fakeBridge) SetColor(_ context.Context, id uint32, field cache.Field, value float64) error {
	if err := f.known(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.colorCalls = append(f.colorCalls, colorCall{id, field, value})
	return f.setErr
}

func (f *fakeBridge) Updates(id uint32) (<-chan struct{}, error) {
	if err := f.known(id); err != nil {
		return nil, err
	}
	return make(chan struct{}), nil
}

func newTestServer(t *testing.T, b Bridge) *Server {
	t.Helper()
	s, err := New(&Config{Version: "test"}, b)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body %q is not JSON: %v", rec.Body.String(), err)
	}
	return e
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, newFakeBridge(1, 2))
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" || body["devices"] != float64(2) {
		t.Errorf("health = %v", body)
	}
}

func TestDeviceRoutes(t *testing.T) {
	s := newTestServer(t, newFakeBridge(1, 2))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"list", http.MethodGet, "/devices", http.StatusOK, ""},
		{"get", http.MethodGet, "/devices/2", http.StatusOK, ""},
		{"unknown device", http.MethodGet, "/devices/9", http.StatusNotFound, ErrCodeNotFound},
		{"unknown device value", http.MethodGet, "/devices/9/hue", http.StatusNotFound, ErrCodeNotFound},
		{"bad id", http.MethodGet, "/devices/lamp/hue", http.StatusBadRequest, ErrCodeBadRequest},
		{"id overflow", http.MethodGet, "/devices/4294967296/hue", http.StatusBadRequest, ErrCodeBadRequest},
		{"no route", http.MethodGet, "/nope", http.StatusNotFound, ErrCodeNotFound},
		{"wrong method", http.MethodPost, "/devices/1/hue", http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s.Handler(), tt.method, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantCode != "" {
				if e := decodeError(t, rec); e.Code != tt.wantCode || e.Status != tt.wantStatus {
					t.Errorf("error = %+v, want code %s", e, tt.wantCode)
				}
			}
		})
	}

	rec := do(t, s.Handler(), http.MethodGet, "/devices", "")
	var list []bridge.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("list body is not JSON: %v", err)
	}
	if len(list) != 2 || list[1].ID != 2 {
		t.Errorf("list = %+v, want ids 1 and 2", list)
	}
}

func TestGetValues(t *testing.T) {
	tests := []struct {
		path      string
		want      string
		wantForce bool
	}{
		{"/devices/1/power_state", "1", false},
		{"/devices/1/brightness", "100", false},
		{"/devices/1/hue", "360", false},
		{"/devices/1/saturation", "40", false},
		{"/hue", "360", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			fb := newFakeBridge(1)
			s := newTestServer(t, fb)

			rec := do(t, s.Handler(), http.MethodGet, tt.path, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
			}
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", ct)
			}
			if len(fb.forced) != 1 || fb.forced[0] != tt.wantForce {
				t.Errorf("GetFresh force = %v, want [%v]", fb.forced, tt.wantForce)
			}
		})
	}

	t.Run("power off", func(t *testing.T) {
		fb := newFakeBridge(1)
		fb.info.IsOn = false
		rec := do(t, newTestServer(t, fb).Handler(), http.MethodGet, "/devices/1/power_state", "")
		if rec.Body.String() != "0" {
			t.Errorf("body = %q, want 0", rec.Body.String())
		}
	})
}

func TestLightStateForcesRefresh(t *testing.T) {
	fb := newFakeBridge(1)
	s := newTestServer(t, fb)

	rec := do(t, s.Handler(), http.MethodGet, "/devices/1/light_state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var info protocol.LightInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if info != fb.info {
		t.Errorf("light_state = %+v, want %+v", info, fb.info)
	}
	if len(fb.forced) != 1 || !fb.forced[0] {
		t.Errorf("GetFresh force = %v, want [true]", fb.forced)
	}
}

func TestSetPower(t *testing.T) {
	tests := []struct {
		body       string
		wantStatus int
		wantOn     []bool
	}{
		{"ON", http.StatusOK, []bool{true}},
		{"OFF\n", http.StatusOK, []bool{false}},
		{"on", http.StatusOK, []bool{true}},
		{"maybe", http.StatusBadRequest, nil},
		{"", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.body), func(t *testing.T) {
			fb := newFakeBridge(1)
			rec := do(t, newTestServer(t, fb).Handler(), http.MethodPut, "/devices/1/power_state", tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if fmt.Sprint(fb.powerCalls) != fmt.Sprint(tt.wantOn) {
				t.Errorf("SetPower calls = %v, want %v", fb.powerCalls, tt.wantOn)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != "Power state set" {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestSetColorComponents(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantField  cache.Field
		wantValue  float64
	}{
		{"brightness", "/devices/1/brightness", "50", http.StatusOK, cache.FieldValue, 0.5},
		{"brightness above 100", "/devices/1/brightness", "150", http.StatusOK, cache.FieldValue, 1},
		{"brightness out of byte range", "/devices/1/brightness", "300", http.StatusBadRequest, 0, 0},
		{"brightness negative", "/devices/1/brightness", "-1", http.StatusBadRequest, 0, 0},
		{"brightness text", "/devices/1/brightness", "bright", http.StatusBadRequest, 0, 0},
		{"hue", "/devices/1/hue", "120.5", http.StatusOK, cache.FieldHue, 120.5},
		{"hue passes through for clamping", "/devices/1/hue", "400", http.StatusOK, cache.FieldHue, 400},
		{"hue NaN", "/devices/1/hue", "NaN", http.StatusBadRequest, 0, 0},
		{"saturation", "/devices/1/saturation", " 20 ", http.StatusOK, cache.FieldSaturation, 0.2},
		{"unprefixed saturation", "/saturation", "100", http.StatusOK, cache.FieldSaturation, 1},
		{"body too large", "/devices/1/hue", strings.Repeat("1", maxBodyBytes+1), http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBridge(1)
			rec := do(t, newTestServer(t, fb).Handler(), http.MethodPut, tt.path, tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus != http.StatusOK {
				if len(fb.colorCalls) != 0 {
					t.Errorf("SetColor called on bad input: %+v", fb.colorCalls)
				}
				return
			}
			want := colorCall{1, tt.wantField, tt.wantValue}
			if len(fb.colorCalls) != 1 || fb.colorCalls[0] != want {
				t.Errorf("SetColor calls = %+v, want [%+v]", fb.colorCalls, want)
			}
		})
	}
}

func TestBridgeErrors(t *testing.T) {
	stale := fmt.Errorf("%w: last observed 6m ago", cache.ErrStale)

	tests := []struct {
		name       string
		method     string
		path       string
		getErr     error
		setErr     error
		wantStatus int
		wantCode   string
		wantState  bool
	}{
		{"stale with value", http.MethodGet, "/devices/1/hue", stale, nil, http.StatusGatewayTimeout, ErrCodeStale, true},
		{"no data", http.MethodGet, "/devices/1/light_state", cache.ErrNoData, nil, http.StatusGatewayTimeout, ErrCodeNoData, false},
		{"cancelled", http.MethodGet, "/devices/1/hue", context.Canceled, nil, http.StatusServiceUnavailable, ErrCodeUnavailable, false},
		{"queue full", http.MethodPut, "/devices/1/power_state", nil, bridge.ErrQueueFull, http.StatusServiceUnavailable, ErrCodeQueueFull, false},
		{"offline", http.MethodPut, "/devices/1/hue", nil, bridge.ErrDeviceOffline, http.StatusServiceUnavailable, ErrCodeOffline, false},
		{"unexpected", http.MethodPut, "/devices/1/saturation", nil, errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBridge(1)
			fb.getErr, fb.setErr = tt.getErr, tt.setErr

			body := ""
			if tt.method == http.MethodPut {
				body = "ON"
				if !strings.HasSuffix(tt.path, "power_state") {
					body = "10"
				}
			}
			rec := do(t, newTestServer(t, fb).Handler(), tt.method, tt.path, body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			e := decodeError(t, rec)
			if e.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
			}
			if (e.State != nil) != tt.wantState {
				t.Errorf("state present = %v, want %v", e.State != nil, tt.wantState)
			}
			if tt.wantState && e.State.Name != "Desk" {
				t.Errorf("stale state = %+v, want last known value", e.State)
			}
		})
	}
}

func TestUnprefixedRoutesWithoutDevices(t *testing.T) {
	s := newTestServer(t, newFakeBridge())
	rec := do(t, s.Handler(), http.MethodGet, "/power_state", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEventsStream(t *testing.T) {
	cfg := &config.Config{Version: 1, Devices: []config.DeviceConfig{{
		ID:   1,
		Link: config.LinkConfig{Type: config.LinkSimulator, Simulator: &config.SimulatorConfig{Name: "Porch", Silent: true}},
	}}}
	cfg.ApplyDefaults()

	sims := make(chan *link.Simulator, 1)
	mgr, err := bridge.NewManager(cfg, func(lc config.LinkConfig) (link.Link, error) {
		sim := link.NewSimulator(*lc.Simulator)
		sims <- sim
		return sim, nil
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	sim := <-sims
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mgr.Run(ctx) }()

	s := newTestServer(t, mgr)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/devices/1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first bridge.Status
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("first event: %v", err)
	}
	if first.ID != 1 || first.State != nil {
		t.Errorf("first event = %+v, want device 1 without state", first)
	}

	// A silent simulator only reports when poked
	sim.Notify(protocol.Message{
		Type:    protocol.MessageTypeDeviceInfo,
		Payload: protocol.EncodeLightInfo(protocol.LightInfo{Name: "Porch", IsOn: true}),
	}.Bytes())

	var second bridge.Status
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("second event: %v", err)
	}
	if second.State == nil || second.State.Name != "Porch" || !second.State.IsOn {
		t.Errorf("second event state = %+v, want Porch on", second.State)
	}

	if got := s.ActiveStreams(); got != 1 {
		t.Errorf("ActiveStreams() = %d, want 1", got)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after shutdown error = %v, want going-away close", err)
	}

	rec := do(t, s.Handler(), http.MethodGet, "/devices/9/events", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("events for unknown device status = %d, want 404", rec.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s, err := New(&Config{Host: "127.0.0.1", Port: 0, Version: "test"}, newFakeBridge(1))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	addr := waitForAddr(t, s)
	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestTLS(t *testing.T) {
	if _, err := NewTLSConfig("", ""); err == nil {
		t.Error("NewTLSConfig(\"\", \"\") error = nil")
	}
	if _, err := NewTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem"); err == nil {
		t.Error("NewTLSConfig(missing files) error = nil")
	}

	certPath, keyPath := writeSelfSigned(t)
	s, err := New(&Config{Host: "127.0.0.1", CertPath: certPath, KeyPath: keyPath}, newFakeBridge(1))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.tlsConfig == nil || s.tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Fatalf("tlsConfig = %+v, want TLS 1.2 minimum", s.tlsConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()
	addr := waitForAddr(t, s)

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test certificate
	}}
	resp, err := client.Get("https://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET https /health error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Errorf("response = %d %s", resp.StatusCode, body)
	}
}

func waitForAddr(t *testing.T, s *Server) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.Addr().String()
}

func writeSelfSigned(t *testing.T) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}
