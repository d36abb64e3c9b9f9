package link

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/config"
	"github.com/muurk/homelight/internal/discovery"
	"github.com/muurk/homelight/internal/logging"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 5 * time.Second
	wsCloseGrace       = time.Second
)

// GatewayFinder resolves an mDNS instance to a gateway.
// *discovery.Scanner satisfies it.
type GatewayFinder interface {
	Find(ctx context.Context, instance string) (*discovery.Gateway, error)
}

// WebsocketLink talks to a BLE gateway that relays notifications as websocket
// messages. Binary messages carry raw bytes; text messages carry hex.
type WebsocketLink struct {
	cfg    config.WebsocketConfig
	dialer *websocket.Dialer
	finder GatewayFinder

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebsocket creates a websocket link. When cfg.URL is empty the gateway is
// resolved over mDNS at connect time.
func NewWebsocket(cfg config.WebsocketConfig) *WebsocketLink {
	scanner := discovery.NewScanner()
	if cfg.Service != "" {
		scanner.Service = cfg.Service
	}
	return &WebsocketLink{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
		finder: scanner,
	}
}

// resolve returns the URL to dial
func (w *WebsocketLink) resolve(ctx context.Context) (string, error) {
	if w.cfg.URL != "" {
		return w.cfg.URL, nil
	}

	gw, err := w.finder.Find(ctx, w.cfg.Instance)
	if err != nil {
		return "", fmt.Errorf("resolve gateway: %w", err)
	}
	url := gw.URL(w.cfg.Path)
	logging.Info("Resolved gateway",
		zap.String("instance", gw.Instance),
		zap.String("url", url),
	)
	return url, nil
}

// Connect resolves and dials the gateway
func (w *WebsocketLink) Connect(ctx context.Context) error {
	url, err := w.resolve(ctx)
	if err != nil {
		return err
	}

	conn, _, err := w.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		_ = conn.Close()
		return ErrClosed
	}
	w.conn = conn
	return nil
}

func (w *WebsocketLink) current() (*websocket.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	if w.conn == nil {
		return nil, ErrNotConnected
	}
	return w.conn, nil
}

// ReadChunk returns the next binary or hex text message
func (w *WebsocketLink) ReadChunk(ctx context.Context) ([]byte, error) {
	conn, err := w.current()
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if _, cerr := w.current(); cerr != nil {
				return nil, cerr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("gateway closed connection: %w", ErrClosed)
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			return data, nil
		case websocket.TextMessage:
			raw, err := hex.DecodeString(strings.Join(strings.Fields(string(data)), ""))
			if err != nil {
				logging.Debug("Ignoring non-hex text message",
					zap.String("link", w.String()),
					zap.String("text", string(data)),
				)
				continue
			}
			return raw, nil
		}
	}
}

// Write sends a frame as one binary message
func (w *WebsocketLink) Write(ctx context.Context, frame []byte) error {
	conn, err := w.current()
	if err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(wsWriteTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection
func (w *WebsocketLink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseGrace))
	if cerr := w.conn.Close(); cerr != nil {
		return cerr
	}
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		logging.Debug("Close frame not sent", zap.String("link", w.String()), zap.Error(err))
	}
	return nil
}

func (w *WebsocketLink) String() string {
	if w.cfg.URL != "" {
		return "websocket:" + w.cfg.URL
	}
	return fmt.Sprintf("websocket:mdns(%s/%s)", w.cfg.Service, w.cfg.Instance)
}
