package config

import (
	"errors"
	"fmt"
	"time"
)

// Link types accepted in DeviceConfig.Link.Type
const (
	LinkSerial    = "serial"
	LinkWebsocket = "websocket"
	LinkMQTT      = "mqtt"
	LinkSimulator = "simulator"
)

// Defaults filled in by ApplyDefaults
const (
	DefaultHTTPPort        = 8000
	DefaultShutdownTimeout = 10 * time.Second
	DefaultTTL             = 5 * time.Minute
	DefaultPollInterval    = 50 * time.Millisecond
	DefaultQueueSize       = 16
	DefaultBaudRate        = 115200
	DefaultReadTimeout     = 100 * time.Millisecond
	DefaultMQTTQoS         = 1
)

// Config is the whole homelightd configuration file
type Config struct {
	Version int            `yaml:"version"`
	HTTP    HTTPConfig     `yaml:"http"`
	Cache   CacheConfig    `yaml:"cache"`
	Devices []DeviceConfig `yaml:"devices,omitempty"`
}

// HTTPConfig controls the request surface
type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// CertFile and KeyFile enable HTTPS when both are set
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// TLSEnabled reports whether a certificate is configured
func (h HTTPConfig) TLSEnabled() bool {
	return h.CertFile != "" && h.KeyFile != ""
}

// Addr returns the listen address
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// CacheConfig tunes the freshness cache
type CacheConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"` // 0 waits until the request ends
}

// DeviceConfig describes one light and how to reach it
type DeviceConfig struct {
	ID        uint32     `yaml:"id"`
	Name      string     `yaml:"name,omitempty"`
	QueueSize int        `yaml:"queue_size,omitempty"`
	WriteRate float64    `yaml:"write_rate,omitempty"` // Writes per second, 0 = unlimited
	Link      LinkConfig `yaml:"link"`
}

// DisplayName returns Name, or a generated name when it is empty
func (d DeviceConfig) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("light-%d", d.ID)
}

// LinkConfig selects and configures the transport for one device.
// Only the section matching Type is used.
type LinkConfig struct {
	Type      string           `yaml:"type"`
	Serial    *SerialConfig    `yaml:"serial,omitempty"`
	Websocket *WebsocketConfig `yaml:"websocket,omitempty"`
	MQTT      *MQTTConfig      `yaml:"mqtt,omitempty"`
	Simulator *SimulatorConfig `yaml:"simulator,omitempty"`
}

// SerialConfig is a BLE-UART bridge on a serial port
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`
}

// WebsocketConfig is a BLE gateway that relays notifications over a websocket.
// Either URL is set, or Service names an mDNS service type to resolve.
type WebsocketConfig struct {
	URL      string `yaml:"url,omitempty"`
	Service  string `yaml:"service,omitempty"`  // e.g. "_homelight._tcp"
	Instance string `yaml:"instance,omitempty"` // mDNS instance name, empty = first found
	Path     string `yaml:"path,omitempty"`     // Path used with a resolved service
}

// MQTTConfig is a gateway that publishes notification chunks to a topic
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	RxTopic  string `yaml:"rx_topic"`
	TxTopic  string `yaml:"tx_topic"`
	QoS      byte   `yaml:"qos,omitempty"`
}

// SimulatorConfig is an in-process light for demos and offline testing
type SimulatorConfig struct {
	Name    string        `yaml:"name,omitempty"`
	Latency time.Duration `yaml:"latency,omitempty"` // Delay before answering a query
	Silent  bool          `yaml:"silent,omitempty"`  // Never answer GetDeviceInfo
}

// NewDefault creates a Config with default values and no devices
func NewDefault() *Config {
	cfg := &Config{Version: 1}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero fields with their defaults
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultTTL
	}
	if c.Cache.PollInterval == 0 {
		c.Cache.PollInterval = DefaultPollInterval
	}

	for i := range c.Devices {
		d := &c.Devices[i]
		if d.QueueSize == 0 {
			d.QueueSize = DefaultQueueSize
		}
		if s := d.Link.Serial; s != nil {
			if s.BaudRate == 0 {
				s.BaudRate = DefaultBaudRate
			}
			if s.ReadTimeout == 0 {
				s.ReadTimeout = DefaultReadTimeout
			}
		}
		if m := d.Link.MQTT; m != nil {
			if m.ClientID == "" {
				m.ClientID = fmt.Sprintf("homelight-%d", d.ID)
			}
			if m.QoS == 0 {
				m.QoS = DefaultMQTTQoS
			}
		}
	}
}

// Device returns the configuration for id, or nil
func (c *Config) Device(id uint32) *DeviceConfig {
	for i := range c.Devices {
		if c.Devices[i].ID == id {
			return &c.Devices[i]
		}
	}
	return nil
}

// Validate checks the configuration and returns every problem found
func (c *Config) Validate() error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("unsupported config version: %d (expected 1)", c.Version))
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if (c.HTTP.CertFile == "") != (c.HTTP.KeyFile == "") {
		errs = append(errs, errors.New("http.cert_file and http.key_file must be set together"))
	}
	if c.Cache.TTL < 0 || c.Cache.PollInterval < 0 || c.Cache.MaxWait < 0 {
		errs = append(errs, errors.New("cache durations must not be negative"))
	}

	seen := make(map[uint32]bool)
	for i, d := range c.Devices {
		prefix := fmt.Sprintf("devices[%d] (id %d)", i, d.ID)
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate device id", prefix))
		}
		seen[d.ID] = true

		if d.QueueSize < 0 {
			errs = append(errs, fmt.Errorf("%s: queue_size must not be negative", prefix))
		}
		if d.WriteRate < 0 {
			errs = append(errs, fmt.Errorf("%s: write_rate must not be negative", prefix))
		}
		if err := d.Link.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	return errors.Join(errs...)
}

func (l LinkConfig) validate() error {
	switch l.Type {
	case LinkSerial:
		if l.Serial == nil || l.Serial.Port == "" {
			return errors.New("serial link requires serial.port")
		}
		if l.Serial.BaudRate < 0 {
			return errors.New("serial.baud_rate must not be negative")
		}
	case LinkWebsocket:
		if l.Websocket == nil || (l.Websocket.URL == "" && l.Websocket.Service == "") {
			return errors.New("websocket link requires websocket.url or websocket.service")
		}
	case LinkMQTT:
		if l.MQTT == nil || l.MQTT.Broker == "" {
			return errors.New("mqtt link requires mqtt.broker")
		}
		if l.MQTT.RxTopic == "" || l.MQTT.TxTopic == "" {
			return errors.New("mqtt link requires mqtt.rx_topic and mqtt.tx_topic")
		}
		if l.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos %d out of range", l.MQTT.QoS)
		}
	case LinkSimulator:
		if l.Simulator != nil && l.Simulator.Latency < 0 {
			return errors.New("simulator.latency must not be negative")
		}
	case "":
		return errors.New("link.type is required")
	default:
		return fmt.Errorf("unknown link type %q", l.Type)
	}
	return nil
}
