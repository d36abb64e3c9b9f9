package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/homelight/internal/discovery"
	"github.com/muurk/homelight/internal/ui"
)

// Scan command flags
var (
	scanTimeout time.Duration
	scanService string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find websocket light gateways on the network",
	Long: `Browse mDNS for light gateways and print their websocket URLs.

A found gateway can be used in the config file either by URL or by its
instance name through the websocket link's service field.`,
	Example: `  # Scan for 5 seconds (default)
  homelightd scan

  # Longer scan for busy networks
  homelightd scan --timeout 15s`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for answers")
	scanCmd.Flags().StringVar(&scanService, "service", discovery.ServiceType, "mDNS service type to browse")
}

func runScan(cmd *cobra.Command, _ []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Gateway Scan", "homelightd scan",
		ui.Param{Key: "Service", Value: scanService},
		ui.Param{Key: "Timeout", Value: scanTimeout.String()},
	)

	scanner := discovery.NewScanner()
	scanner.Timeout = scanTimeout
	scanner.Service = scanService

	gateways, err := scanner.Scan(cmd.Context())
	if err != nil {
		p.PrintError("Scan failed", err,
			"Check that multicast traffic is allowed on this network",
			"Run with --log-level debug for resolver details",
		)
		return err
	}

	if len(gateways) == 0 {
		p.PrintWarning("No gateways found",
			ui.Param{Key: "Hint", Value: "Make sure the gateway is powered and on this network"},
			ui.Param{Key: "Hint", Value: "Try a longer --timeout"},
		)
		return nil
	}

	details := make([]ui.Param, 0, len(gateways))
	for _, gw := range gateways {
		details = append(details, ui.Param{Key: gw.Instance, Value: gw.URL("")})
	}
	p.PrintSuccess(fmt.Sprintf("Found %d gateway(s)", len(gateways)), details...)
	p.Println(`Add one to the config file with link type "websocket" and its url, or set service to the instance name.`)
	return nil
}
