// Package config loads the homelightd configuration file.
//
// The file is YAML and lists the HTTP listener, freshness cache tuning and
// one entry per light with the link used to reach it.
//
// # Configuration File Location
//
// Unless --config is given, the file is read from:
//   - Linux: $XDG_CONFIG_HOME/homelight/config.yaml or $HOME/.config/homelight/config.yaml
//   - macOS: $HOME/.config/homelight/config.yaml
//   - Windows: %LOCALAPPDATA%\homelight\config.yaml
//
// A missing file is not an error; Load returns NewDefault.
//
// # Example
//
//	version: 1
//	http:
//	  port: 8000
//	cache:
//	  ttl: 5m
//	  poll_interval: 50ms
//	  max_wait: 10s
//	devices:
//	  - id: 1
//	    name: Living room
//	    write_rate: 20
//	    link:
//	      type: serial
//	      serial:
//	        port: /dev/rfcomm0
//	        baud_rate: 115200
//	  - id: 2
//	    link:
//	      type: mqtt
//	      mqtt:
//	        broker: tcp://localhost:1883
//	        rx_topic: homelight/2/rx
//	        tx_topic: homelight/2/tx
//
// Durations use Go syntax ("50ms", "5m").
//
// # Security
//
// MQTT passwords may be stored in the file, so Save writes it with 0600
// permissions inside a 0700 directory.
package config
