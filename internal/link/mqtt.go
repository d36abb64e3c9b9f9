package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/config"
	"github.com/muurk/homelight/internal/logging"
)

const (
	mqttConnectTimeout    = 10 * time.Second
	mqttKeepAlive         = 30 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds
	mqttChunkBuffer       = 64
)

// MQTTLink talks to a gateway that publishes the light's notification bytes
// on RxTopic and writes anything published on TxTopic to the light.
//
// Paho delivers messages on its own goroutines; they are funnelled through a
// channel so the caller's read loop stays the only consumer.
type MQTTLink struct {
	cfg  config.MQTTConfig
	opts *pahomqtt.ClientOptions

	chunks chan []byte
	lost   chan error
	done   chan struct{}

	mu        sync.Mutex
	client    pahomqtt.Client
	closed    bool
	closeOnce sync.Once
	lostOnce  sync.Once
}

// NewMQTT creates an MQTT link; the broker connection is made by Connect
func NewMQTT(cfg config.MQTTConfig) *MQTTLink {
	m := &MQTTLink{
		cfg:    cfg,
		chunks: make(chan []byte, mqttChunkBuffer),
		lost:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	m.opts = m.buildClientOptions()
	return m
}

// buildClientOptions maps the link config onto paho options. Reconnection is
// left to the device session, so paho's auto-reconnect stays off.
func (m *MQTTLink) buildClientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetOrderMatters(true)

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		m.connectionLost(err)
	})
	return opts
}

// Connect connects to the broker and subscribes to RxTopic
func (m *MQTTLink) Connect(ctx context.Context) error {
	client := pahomqtt.NewClient(m.opts)

	if err := waitToken(ctx, client.Connect()); err != nil {
		return fmt.Errorf("connect %s: %w", m.cfg.Broker, err)
	}

	token := client.Subscribe(m.cfg.RxTopic, m.cfg.QoS, m.onMessage)
	if err := waitToken(ctx, token); err != nil {
		client.Disconnect(mqttDisconnectQuiesce)
		return fmt.Errorf("subscribe %s: %w", m.cfg.RxTopic, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		client.Disconnect(mqttDisconnectQuiesce)
		return ErrClosed
	}
	m.client = client

	logging.Debug("MQTT link subscribed",
		zap.String("broker", m.cfg.Broker),
		zap.String("rx_topic", m.cfg.RxTopic),
		zap.String("tx_topic", m.cfg.TxTopic),
	)
	return nil
}

// onMessage hands a received payload to the reader
func (m *MQTTLink) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	chunk := append([]byte(nil), msg.Payload()...)
	select {
	case m.chunks <- chunk:
	case <-m.done:
	}
}

func (m *MQTTLink) connectionLost(err error) {
	m.lostOnce.Do(func() {
		logging.Warn("MQTT connection lost", zap.String("link", m.String()), zap.Error(err))
		m.lost <- err
	})
}

// ReadChunk returns the next payload published on RxTopic
func (m *MQTTLink) ReadChunk(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	connected, closed := m.client != nil, m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !connected {
		return nil, ErrNotConnected
	}

	select {
	case chunk := <-m.chunks:
		return chunk, nil
	case err := <-m.lost:
		return nil, fmt.Errorf("mqtt connection lost: %w", err)
	case <-m.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write publishes a frame on TxTopic
func (m *MQTTLink) Write(ctx context.Context, frame []byte) error {
	m.mu.Lock()
	client, closed := m.client, m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if client == nil {
		return ErrNotConnected
	}

	if err := waitToken(ctx, client.Publish(m.cfg.TxTopic, m.cfg.QoS, false, frame)); err != nil {
		return fmt.Errorf("publish %s: %w", m.cfg.TxTopic, err)
	}
	return nil
}

// Close disconnects from the broker
func (m *MQTTLink) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		client := m.client
		m.mu.Unlock()

		close(m.done)
		if client != nil {
			client.Disconnect(mqttDisconnectQuiesce)
		}
	})
	return nil
}

func (m *MQTTLink) String() string {
	return fmt.Sprintf("mqtt:%s/%s", m.cfg.Broker, m.cfg.RxTopic)
}

// waitToken waits for a paho token, honouring ctx
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
