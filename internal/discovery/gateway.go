package discovery

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Gateway is a light gateway found via mDNS. Gateways relay the light's
// notification channel over a websocket.
type Gateway struct {
	// Instance is the mDNS instance name (e.g., "Living room gateway")
	Instance string

	// Hostname is the mDNS hostname (e.g., "esp32-ab12cd.local.")
	Hostname string

	// IP is the preferred address, IPv4 when available
	IP string

	// Port is the websocket port
	Port int

	// Metadata holds TXT records. Gateways set "path" to the websocket path.
	Metadata map[string]string

	// DiscoveredAt is when the gateway answered
	DiscoveredAt time.Time
}

// String returns a human-readable description of the gateway
func (g *Gateway) String() string {
	return fmt.Sprintf("%s (%s) at %s", g.Instance, g.Hostname, net.JoinHostPort(g.IP, strconv.Itoa(g.Port)))
}

// URL returns the websocket URL for the gateway. An empty path falls back to
// the "path" TXT record, then "/".
func (g *Gateway) URL(path string) string {
	if path == "" {
		path = g.GetMetadata("path")
	}
	if path == "" {
		path = "/"
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(g.IP, strconv.Itoa(g.Port)),
		Path:   path,
	}
	return u.String()
}

// GetMetadata retrieves a TXT value by key, or returns empty string if not found
func (g *Gateway) GetMetadata(key string) string {
	if g.Metadata == nil {
		return ""
	}
	return g.Metadata[key]
}
