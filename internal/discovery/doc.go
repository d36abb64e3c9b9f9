// Package discovery finds light gateways on the local network with mDNS.
//
// A gateway is a small board (typically an ESP32) that holds the radio
// connection to a light and relays its notification channel over a
// websocket. Gateways advertise the "_homelight._tcp" service; the TXT record
// "path" names the websocket path.
//
// # Usage Example
//
//	scanner := discovery.NewScanner()
//	gateways, err := scanner.Scan(ctx)
//	if err != nil {
//	    return err
//	}
//	for _, gw := range gateways {
//	    fmt.Println(gw, gw.URL(""))
//	}
//
// Websocket links configured with a service instead of a URL call Find at
// connect time.
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Gateways must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
