// Homelightd bridges BLE-UART RGB lights to a small HTTP API.
//
// Each configured light is reached over a serial BLE bridge, a websocket
// gateway, an MQTT gateway or an in-process simulator. The daemon keeps a
// freshness cache of every light's state and exposes plain-text value routes
// that simple HTTP accessory plugins can poll and set.
//
// Usage:
//
//	homelightd serve [flags]
//	homelightd scan
//	homelightd watch [device-id]
//	homelightd send <command> [values...]
//	homelightd decode <hex>...
//
// See 'homelightd --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/homelight/internal/logging"
	"github.com/muurk/homelight/internal/version"
)

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "homelightd",
	Short: "Homelight BLE light bridge",
	Long: `A bridge between BLE-UART RGB lights and HTTP.

homelightd keeps a session open to every configured light, caches its
state and serves it over a small HTTP API. The other commands are tools
for finding gateways, watching lights and debugging the wire protocol.

Logging is silent for the tool commands unless --log-level or
HOMELIGHT_LOG_LEVEL is set; serve logs at info by default.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level := logLevel
		if level == "" && cmd.Name() == "serve" && os.Getenv(logging.LogLevelEnvVar) == "" {
			level = "info"
		}
		return logging.Initialize(level)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $XDG_CONFIG_HOME/homelight/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "homelightd %s\n", version.Full())
	},
}
