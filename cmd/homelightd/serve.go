package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/homelight/internal/bridge"
	"github.com/muurk/homelight/internal/config"
	"github.com/muurk/homelight/internal/logging"
	"github.com/muurk/homelight/internal/server"
	"github.com/muurk/homelight/internal/version"
)

// Serve command flags
var (
	serveHost     string
	servePort     int
	serveCert     string
	serveKey      string
	serveSimulate int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge and HTTP API",
	Long: `Open a session to every configured light and serve the HTTP API.

Lights are read from the config file. Flags override the http section of
the file. The server stops gracefully on SIGINT or SIGTERM: open event
streams are closed and in-flight requests are given the configured
shutdown timeout to finish.`,
	Example: `  # Serve the lights in the default config file
  homelightd serve

  # Try the API without hardware
  homelightd serve --simulate 2 --port 8080

  # Serve HTTPS
  homelightd serve --cert cert.pem --key key.pem`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (empty = all interfaces)")
	serveCmd.Flags().IntVar(&servePort, "port", config.DefaultHTTPPort, "Listen port")
	serveCmd.Flags().StringVar(&serveCert, "cert", "", "Path to TLS certificate file")
	serveCmd.Flags().StringVar(&serveKey, "key", "", "Path to TLS private key file")
	serveCmd.Flags().IntVar(&serveSimulate, "simulate", 0, "Add this many simulated lights")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.HTTP.Host = serveHost
	}
	if flags.Changed("port") {
		cfg.HTTP.Port = servePort
	}
	if flags.Changed("cert") || flags.Changed("key") {
		cfg.HTTP.CertFile = serveCert
		cfg.HTTP.KeyFile = serveKey
	}
	addSimulated(cfg, serveSimulate)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.Devices) == 0 {
		logging.Warn("No devices configured; add some to the config file or use --simulate")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := bridge.NewManager(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	srv, err := server.New(&server.Config{
		Host:            cfg.HTTP.Host,
		Port:            cfg.HTTP.Port,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		CertPath:        cfg.HTTP.CertFile,
		KeyPath:         cfg.HTTP.KeyFile,
		Version:         version.Version,
	}, manager)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logging.Info("Starting homelightd",
		zap.String("version", version.Full()),
		zap.Int("devices", len(cfg.Devices)),
		zap.Bool("tls", cfg.HTTP.TLSEnabled()),
	)

	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- manager.Run(ctx) }()

	serveErr := srv.Start(ctx)

	// Stop the sessions too if the server failed on its own
	stop()
	if err := <-bridgeDone; err != nil {
		logging.Warn("Device sessions ended with errors", zap.Error(err))
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	logging.Info("homelightd stopped")
	return nil
}

// addSimulated appends n simulator devices with ids after the highest
// configured id
func addSimulated(cfg *config.Config, n int) {
	var next uint32
	for _, d := range cfg.Devices {
		next = max(next, d.ID)
	}

	for i := 0; i < n; i++ {
		next++
		name := fmt.Sprintf("Simulated %d", next)
		cfg.Devices = append(cfg.Devices, config.DeviceConfig{
			ID:   next,
			Name: name,
			Link: config.LinkConfig{
				Type:      config.LinkSimulator,
				Simulator: &config.SimulatorConfig{Name: name},
			},
		})
	}
	if n > 0 {
		cfg.ApplyDefaults()
	}
}
