package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/homelight/internal/bridge"
	"github.com/muurk/homelight/internal/client"
	"github.com/muurk/homelight/internal/ui"
)

// Watch command flags
var (
	apiURL      string
	apiInsecure bool
)

var watchReadOnly bool

var watchCmd = &cobra.Command{
	Use:   "watch [device-id]",
	Short: "Watch a light live from a running homelightd",
	Long: `Open a terminal view of one light's status, updated from the server's
event stream. Unless --read-only is set the keyboard drives the light:
space toggles power, up/down change brightness and left/right change hue.`,
	Example: `  # Watch device 1 on the local server
  homelightd watch

  # Watch device 3 on another host without controlling it
  homelightd watch 3 --url http://pi.local:8000 --read-only`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&apiURL, "url", "http://localhost:8000", "homelightd base URL")
	watchCmd.Flags().BoolVar(&apiInsecure, "insecure", false, "Skip TLS certificate verification")
	watchCmd.Flags().BoolVar(&watchReadOnly, "read-only", false, "Do not send commands from the keyboard")
}

func newAPIClient() *client.Client {
	c := client.NewClient(apiURL)
	if apiInsecure {
		c.SetTLSConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in for self-signed servers
	}
	return c
}

func parseDeviceID(args []string) (uint32, error) {
	if len(args) == 0 {
		return 1, nil
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid device id %q", args[0])
	}
	return uint32(id), nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	id, err := parseDeviceID(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	c := newAPIClient()

	// Fail before entering the alternate screen if the device is unreachable
	if _, err := c.Device(ctx, id); err != nil {
		ui.NewPrinter(cmd.ErrOrStderr()).PrintError(fmt.Sprintf("Cannot watch device %d", id), err,
			"Is homelightd serve running at "+apiURL+"?",
			"List devices with: curl "+apiURL+"/devices",
		)
		return err
	}

	events := make(chan ui.Event)
	go func() {
		defer close(events)
		err := c.Watch(ctx, id, func(st bridge.Status) {
			select {
			case events <- ui.Event{Status: st}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case events <- ui.Event{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	var control ui.Controller
	if !watchReadOnly {
		control = c
	}
	return ui.Run(ctx, ui.NewWatchModel(id, apiURL, events, control))
}
