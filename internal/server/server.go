package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/bridge"
	"github.com/muurk/homelight/internal/cache"
	"github.com/muurk/homelight/internal/logging"
	"github.com/muurk/homelight/internal/protocol"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Config holds the server configuration
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CertPath        string // HTTPS is enabled when CertPath and KeyPath are set
	KeyPath         string
	Version         string // Reported by /health
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Bridge is what the HTTP surface needs from the device layer.
// *bridge.Manager satisfies it.
type Bridge interface {
	Devices() []bridge.Status
	Device(id uint32) (bridge.Status, error)
	GetFresh(ctx context.Context, id uint32, force bool) (protocol.LightInfo, error)
	SetPower(id uint32, on bool) error
	SetColor(ctx context.Context, id uint32, field cache.Field, value float64) error
	Updates(id uint32) (<-chan struct{}, error)
}

// Server serves the light API over HTTP
type Server struct {
	config    *Config
	bridge    Bridge
	tlsConfig *tls.Config
	handler   http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener

	// Event streams are hijacked connections that http.Server.Shutdown does
	// not wait for; they are tracked here and ended by closing done.
	wg        sync.WaitGroup
	streams   map[*websocket.Conn]struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new Server instance
func New(config *Config, b Bridge) (*Server, error) {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	var tlsConfig *tls.Config
	if config.CertPath != "" || config.KeyPath != "" {
		var err error
		tlsConfig, err = NewTLSConfig(config.CertPath, config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	s := &Server{
		config:    config,
		bridge:    b,
		tlsConfig: tlsConfig,
		streams:   make(map[*websocket.Conn]struct{}),
		done:      make(chan struct{}),
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves until ctx is cancelled, then shuts down within
// the configured timeout
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	logging.Info("HTTP API listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.tlsConfig != nil),
	)
	if s.tlsConfig != nil {
		logging.Debug("TLS Configuration", zap.Any("tls_info", GetTLSInfo(s.tlsConfig)))
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// Addr returns the bound address once Start is listening, or nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests, ends event streams and waits for
// in-flight handlers until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down HTTP API...")

	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var shutdownErr error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			logging.Warn("Shutdown timeout, forcing close", zap.Error(err))
			_ = srv.Close()
			shutdownErr = fmt.Errorf("shutting down http server: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All event streams closed")
	case <-ctx.Done():
		logging.Warn("Event streams still open at shutdown deadline",
			zap.Int("streams", s.ActiveStreams()),
		)
	}

	return shutdownErr
}

// ActiveStreams returns the number of open event streams
func (s *Server) ActiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}
