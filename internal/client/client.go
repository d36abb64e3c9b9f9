package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/homelight/internal/bridge"
	"github.com/muurk/homelight/internal/protocol"
	"github.com/muurk/homelight/internal/version"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for failed requests
	DefaultMaxRetries = 2

	// DefaultRetryDelay is the default delay between retry attempts
	DefaultRetryDelay = 250 * time.Millisecond

	// DefaultMaxRetryDelay is the maximum delay for exponential backoff
	DefaultMaxRetryDelay = 5 * time.Second

	handshakeTimeout = 10 * time.Second
)

// Health is the body of GET /health
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Devices int    `json:"devices"`
}

// Client talks to a running homelightd over its HTTP API
type Client struct {
	// BaseURL is the server root, e.g. "http://localhost:8000"
	BaseURL string

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// MaxRetries is the maximum number of retry attempts for retryable errors
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts; it doubles up
	// to MaxRetryDelay
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		HTTPClient:    &http.Client{Timeout: DefaultTimeout},
		Dialer:        &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// SetRetry configures retry behavior
func (c *Client) SetRetry(maxRetries int, retryDelay time.Duration) {
	c.MaxRetries = maxRetries
	c.RetryDelay = retryDelay
}

// SetTLSConfig applies cfg to both HTTP requests and event streams
func (c *Client) SetTLSConfig(cfg *tls.Config) {
	c.HTTPClient.Transport = &http.Transport{TLSClientConfig: cfg}
	c.Dialer.TLSClientConfig = cfg
}

// Health fetches the server health summary
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Devices lists the status of every configured device
func (c *Client) Devices(ctx context.Context) ([]bridge.Status, error) {
	var devices []bridge.Status
	if err := c.getJSON(ctx, "/devices", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Device fetches one device's status
func (c *Client) Device(ctx context.Context, id uint32) (*bridge.Status, error) {
	var st bridge.Status
	if err := c.getJSON(ctx, fmt.Sprintf("/devices/%d", id), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// LightState asks the server for a forced refresh of the light's state
func (c *Client) LightState(ctx context.Context, id uint32) (*protocol.LightInfo, error) {
	var info protocol.LightInfo
	if err := c.getJSON(ctx, devicePath(id, "light_state"), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SetPower switches the light on or off
func (c *Client) SetPower(ctx context.Context, id uint32, on bool) error {
	body := "OFF"
	if on {
		body = "ON"
	}
	return c.put(ctx, devicePath(id, "power_state"), body)
}

// SetBrightness sets brightness as a percentage
func (c *Client) SetBrightness(ctx context.Context, id uint32, percent int) error {
	return c.put(ctx, devicePath(id, "brightness"), strconv.Itoa(percent))
}

// SetSaturation sets saturation as a percentage
func (c *Client) SetSaturation(ctx context.Context, id uint32, percent int) error {
	return c.put(ctx, devicePath(id, "saturation"), strconv.Itoa(percent))
}

// SetHue sets the hue in degrees
func (c *Client) SetHue(ctx context.Context, id uint32, hue float64) error {
	return c.put(ctx, devicePath(id, "hue"), strconv.FormatFloat(hue, 'f', -1, 64))
}

// Watch streams status updates for one device to fn until ctx is cancelled
// or the server closes the stream. A normal close returns nil.
func (c *Client) Watch(ctx context.Context, id uint32, fn func(bridge.Status)) error {
	wsURL, err := c.streamURL(id)
	if err != nil {
		return err
	}

	header := http.Header{"User-Agent": []string{version.UserAgent()}}
	conn, resp, err := c.Dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			return responseError(resp)
		}
		return newNetworkError("event stream dial failed", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var st bridge.Status
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				return newParseError("invalid status message", err)
			}
			return newNetworkError("event stream read failed", err)
		}
		fn(st)
	}
}

func (c *Client) streamURL(id uint32) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", c.BaseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid base URL %q: scheme must be http or https", c.BaseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + devicePath(id, "events")
	return u.String(), nil
}

func devicePath(id uint32, leaf string) string {
	return fmt.Sprintf("/devices/%d/%s", id, leaf)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newParseError("failed to parse JSON response", err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, path, body string) error {
	_, err := c.do(ctx, http.MethodPut, path, body)
	return err
}

// do sends a request, retrying retryable failures with exponential backoff
func (c *Client) do(ctx context.Context, method, path, body string) ([]byte, error) {
	var lastErr error
	delay := c.RetryDelay

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, c.MaxRetryDelay)
		}

		data, err := c.attempt(ctx, method, path, body)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

// attempt performs a single request
func (c *Client) attempt(ctx context.Context, method, path, body string) ([]byte, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, newNetworkError("failed to create request", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if body != "" {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, newNetworkError(method+" "+path+" failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newNetworkError("failed to read response body", err)
	}
	return data, nil
}
