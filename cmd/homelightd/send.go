package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/homelight/internal/client"
	"github.com/muurk/homelight/internal/protocol"
	"github.com/muurk/homelight/internal/ui"
)

// Send command flags
var (
	sendURL      string
	sendDevice   uint32
	sendInsecure bool
)

var sendCmd = &cobra.Command{
	Use:   "send <command> [values...]",
	Short: "Encode a light command, or send it through homelightd",
	Long: `Encode a command and print its wire frame, or with --url send it to a
running homelightd.

Commands:
  power on|off           Switch the light
  brightness <0-100>     Set brightness
  hue <0-360>            Set hue (needs --url)
  saturation <0-100>     Set saturation (needs --url)
  color <h> <s> <v>      Set all three, s and v in percent
  info                   Ask for the light's state`,
	Example: `  # Print the frame for a colour command
  homelightd send color 240 100 50

  # Turn device 2 off through the local server
  homelightd send power off --url http://localhost:8000 --device 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendURL, "url", "", "homelightd base URL (empty = print the frame only)")
	sendCmd.Flags().Uint32Var(&sendDevice, "device", 1, "Device id when sending through homelightd")
	sendCmd.Flags().BoolVar(&sendInsecure, "insecure", false, "Skip TLS certificate verification")
}

func runSend(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())

	if sendURL == "" {
		command, err := buildCommand(args)
		if err != nil {
			return err
		}
		frame := protocol.Encode(command)
		p.PrintSuccess("Encoded "+args[0],
			ui.Param{Key: "Command", Value: command.String()},
			ui.Param{Key: "Frame", Value: formatHex(frame)},
			ui.Param{Key: "Length", Value: fmt.Sprintf("%d bytes", len(frame))},
		)
		return nil
	}

	c := client.NewClient(sendURL)
	if sendInsecure {
		c.SetTLSConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in for self-signed servers
	}

	details, err := sendRemote(cmd.Context(), c, sendDevice, args)
	if err != nil {
		p.PrintError(fmt.Sprintf("%s failed on device %d", args[0], sendDevice), err,
			"Is homelightd serve running at "+sendURL+"?",
			"Check the device id with: homelightd watch --url "+sendURL,
		)
		return err
	}
	p.PrintSuccess(fmt.Sprintf("%s sent to device %d", args[0], sendDevice), details...)
	return nil
}

// buildCommand turns command-line words into a protocol command
func buildCommand(args []string) (protocol.Command, error) {
	name, values := strings.ToLower(args[0]), args[1:]

	switch name {
	case "power":
		on, err := parsePower(values)
		if err != nil {
			return nil, err
		}
		level := 0.0
		if on {
			level = 1
		}
		return protocol.SetBrightness{Level: level}, nil

	case "brightness":
		pct, err := parsePercent(name, values)
		if err != nil {
			return nil, err
		}
		return protocol.SetBrightness{Level: float64(pct) / 100}, nil

	case "color", "colour":
		if len(values) != 3 {
			return nil, fmt.Errorf("%s takes 3 values: hue, saturation and value", name)
		}
		hue, err := parseHue(values[:1])
		if err != nil {
			return nil, err
		}
		s, err := parsePercent("saturation", values[1:2])
		if err != nil {
			return nil, err
		}
		v, err := parsePercent("value", values[2:])
		if err != nil {
			return nil, err
		}
		return protocol.SetLEDColor{Color: protocol.HSVColor{H: hue, S: float64(s) / 100, V: float64(v) / 100}}, nil

	case "info":
		if len(values) != 0 {
			return nil, fmt.Errorf("info takes no values")
		}
		return protocol.GetDeviceInfo{}, nil

	case "hue", "saturation":
		return nil, fmt.Errorf("%s needs the light's current colour; use color, or send it with --url", name)

	default:
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
}

// sendRemote performs the command through the HTTP API
func sendRemote(ctx context.Context, c *client.Client, id uint32, args []string) ([]ui.Param, error) {
	name, values := strings.ToLower(args[0]), args[1:]

	switch name {
	case "power":
		on, err := parsePower(values)
		if err != nil {
			return nil, err
		}
		return []ui.Param{{Key: "Power", Value: values[0]}}, c.SetPower(ctx, id, on)

	case "brightness", "saturation":
		pct, err := parsePercent(name, values)
		if err != nil {
			return nil, err
		}
		set := c.SetBrightness
		if name == "saturation" {
			set = c.SetSaturation
		}
		return []ui.Param{{Key: name, Value: fmt.Sprintf("%d%%", pct)}}, set(ctx, id, pct)

	case "hue":
		hue, err := parseHue(values)
		if err != nil {
			return nil, err
		}
		return []ui.Param{{Key: "Hue", Value: fmt.Sprintf("%g°", hue)}}, c.SetHue(ctx, id, hue)

	case "color", "colour":
		if _, err := buildCommand(args); err != nil {
			return nil, err
		}
		hue, _ := parseHue(values[:1])
		sat, _ := parsePercent("saturation", values[1:2])
		val, _ := parsePercent("value", values[2:])
		if err := c.SetHue(ctx, id, hue); err != nil {
			return nil, err
		}
		if err := c.SetSaturation(ctx, id, sat); err != nil {
			return nil, err
		}
		if err := c.SetBrightness(ctx, id, val); err != nil {
			return nil, err
		}
		return []ui.Param{{Key: "Colour", Value: fmt.Sprintf("h=%g s=%d%% v=%d%%", hue, sat, val)}}, nil

	case "info":
		info, err := c.LightState(ctx, id)
		if err != nil {
			return nil, err
		}
		return lightInfoParams(*info), nil

	default:
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
}

func parsePower(values []string) (bool, error) {
	if len(values) != 1 {
		return false, fmt.Errorf("power takes one value: on or off")
	}
	switch strings.ToLower(values[0]) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("power must be on or off, got %q", values[0])
	}
}

func parsePercent(name string, values []string) (int, error) {
	if len(values) != 1 {
		return 0, fmt.Errorf("%s takes one value from 0 to 100", name)
	}
	n, err := strconv.Atoi(values[0])
	if err != nil || n < 0 || n > 100 {
		return 0, fmt.Errorf("%s must be an integer from 0 to 100, got %q", name, values[0])
	}
	return n, nil
}

func parseHue(values []string) (float64, error) {
	if len(values) != 1 {
		return 0, fmt.Errorf("hue takes one value in degrees")
	}
	hue, err := strconv.ParseFloat(values[0], 64)
	if err != nil || hue < 0 || hue > 360 {
		return 0, fmt.Errorf("hue must be a number from 0 to 360, got %q", values[0])
	}
	return hue, nil
}

// formatHex prints bytes as space separated upper-case hex
func formatHex(b []byte) string {
	return fmt.Sprintf("% X", b)
}

func lightInfoParams(info protocol.LightInfo) []ui.Param {
	power := "off"
	if info.IsOn {
		power = "on"
	}
	return []ui.Param{
		{Key: "Name", Value: info.Name},
		{Key: "Power", Value: power},
		{Key: "Colour", Value: fmt.Sprintf("%s (%s)", info.Color, ui.HexColor(info.Color))},
	}
}
