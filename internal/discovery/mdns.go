package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/logging"
)

const (
	// ServiceType is the mDNS service type advertised by light gateways
	ServiceType = "_homelight._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for gateway discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is used when an entry advertises port 0
	DefaultPort = 81
)

// ErrNotFound is returned by Find when no matching gateway answered in time
var ErrNotFound = errors.New("gateway not found")

// Scanner handles mDNS gateway discovery
type Scanner struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration

	// Service is the mDNS service type to browse
	Service string
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
		Service: ServiceType,
	}
}

// Scan browses for gateways until the timeout or ctx ends and returns every
// gateway that answered
func (s *Scanner) Scan(ctx context.Context) ([]*Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var mu sync.Mutex
	gateways := make([]*Gateway, 0)
	seen := make(map[string]bool)

	err := s.browse(ctx, func(gw *Gateway) bool {
		mu.Lock()
		defer mu.Unlock()
		if !seen[gw.Instance] {
			seen[gw.Instance] = true
			gateways = append(gateways, gw)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return gateways, nil
}

// Find waits for the gateway with the given instance name.
// An empty instance matches the first gateway that answers.
func (s *Scanner) Find(ctx context.Context, instance string) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	found := make(chan *Gateway, 1)
	err := s.browse(ctx, func(gw *Gateway) bool {
		if instance != "" && !strings.EqualFold(gw.Instance, instance) {
			return true
		}
		select {
		case found <- gw:
		default:
		}
		cancel()
		return false
	})
	if err != nil {
		return nil, err
	}

	select {
	case gw := <-found:
		return gw, nil
	case <-ctx.Done():
		select {
		case gw := <-found:
			return gw, nil
		default:
		}
		if instance == "" {
			return nil, fmt.Errorf("%w: no %s service answered within %s", ErrNotFound, s.service(), s.Timeout)
		}
		return nil, fmt.Errorf("%w: %q did not answer within %s", ErrNotFound, instance, s.Timeout)
	}
}

// browse starts a zeroconf browse and calls fn for each usable entry until
// fn returns false or ctx ends
func (s *Scanner) browse(ctx context.Context, fn func(*Gateway) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				gw := parseServiceEntry(entry)
				if gw == nil {
					continue
				}
				logging.Debug("Gateway answered",
					zap.String("instance", gw.Instance),
					zap.String("ip", gw.IP),
					zap.Int("port", gw.Port),
				)
				if !fn(gw) {
					return
				}
			}
		}
	}()

	if err := resolver.Browse(ctx, s.service(), ServiceDomain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	return nil
}

func (s *Scanner) service() string {
	if s.Service == "" {
		return ServiceType
	}
	return s.Service
}

// parseServiceEntry converts a zeroconf service entry to a Gateway.
// Returns nil when the entry carries no address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Gateway {
	if entry == nil {
		return nil
	}

	// Prefer IPv4
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	instance := entry.Instance
	if instance == "" {
		instance = strings.TrimSuffix(entry.HostName, ".")
	}

	return &Gateway{
		Instance:     instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
