// Package ui provides terminal output for the homelightd CLI.
//
// Two kinds of components live here:
//
//   - Header and Result: bordered boxes printed once by one-shot commands
//     such as scan, send and decode, usually through a Printer
//   - WatchModel: a Bubble Tea model that renders one light's live status
//     from an event stream and can send power, brightness and hue changes
//     through a Controller
//
// Example:
//
//	p := ui.NewPrinter(os.Stdout)
//	p.PrintHeader("Device Scan", "homelightd scan",
//	    ui.Param{Key: "Timeout", Value: "5s"})
//	p.PrintSuccess("Found 2 lights",
//	    ui.Param{Key: "desk", Value: "192.168.1.20:7000"})
//
// Widths come from the controlling terminal and are clamped between
// MinTerminalWidth and MaxContentWidth.
package ui
