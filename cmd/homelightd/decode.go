package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/homelight/internal/protocol"
	"github.com/muurk/homelight/internal/ui"
)

var decodeCommands bool

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>...",
	Short: "Decode captured wire bytes",
	Long: `Run captured bytes through the frame decoder and print every message.

Each argument is one chunk as it arrived from the link, so frames split
across chunks decode the same way they would in a live session. Spaces,
colons and 0x prefixes in the hex are ignored.

With --commands the bytes are treated as outbound command frames instead.`,
	Example: `  # A DeviceInfo notification split over two chunks
  homelightd decode "FE 01 07 41 00 01" "00 FF 66 19 FF"

  # Check a frame written to the light
  homelightd decode --commands FE02032AFF80FF`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeCommands, "commands", false, "Decode outbound command frames")
}

func runDecode(cmd *cobra.Command, args []string) error {
	chunks := make([][]byte, 0, len(args))
	for _, arg := range args {
		b, err := parseHex(arg)
		if err != nil {
			return err
		}
		chunks = append(chunks, b)
	}

	p := ui.NewPrinter(cmd.OutOrStdout())

	if decodeCommands {
		commands, err := decodeCommandFrames(chunks)
		for _, c := range commands {
			p.PrintSuccess(c.String(), ui.Param{Key: "Frame", Value: formatHex(protocol.Encode(c))})
		}
		if err != nil {
			p.PrintError("Invalid command frame", err)
			return err
		}
		return nil
	}

	report := decodeNotifications(chunks)
	for _, m := range report.messages {
		p.PrintSuccess(m.title, m.details...)
	}
	if len(report.messages) == 0 {
		p.PrintWarning("No complete frames", ui.Param{Key: "Bytes", Value: fmt.Sprintf("%d", report.bytes)})
	}
	if report.phase != protocol.PhaseUnsynchronized {
		p.PrintWarning("Trailing partial frame", ui.Param{Key: "Decoder", Value: report.phase.String()})
	}
	return nil
}

// parseHex accepts hex with optional spaces, colons and 0x prefixes
func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\t", "", "0x", "", "0X", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

type decodedMessage struct {
	title   string
	details []ui.Param
}

type decodeReport struct {
	messages []decodedMessage
	bytes    int
	phase    protocol.Phase
}

// decodeNotifications feeds chunks through one decoder, as a session would
func decodeNotifications(chunks [][]byte) decodeReport {
	var (
		dec    protocol.Decoder
		report decodeReport
	)
	for _, chunk := range chunks {
		report.bytes += len(chunk)
		for _, msg := range dec.Consume(chunk) {
			report.messages = append(report.messages, describeMessage(msg))
		}
	}
	report.phase = dec.Phase()
	return report
}

func describeMessage(msg protocol.Message) decodedMessage {
	details := []ui.Param{
		{Key: "Frame", Value: formatHex(msg.Bytes())},
		{Key: "Payload", Value: fmt.Sprintf("%d bytes", len(msg.Payload))},
	}

	switch msg.Type {
	case protocol.MessageTypeDeviceInfo:
		info, err := protocol.DecodeLightInfo(msg.Payload)
		if err != nil {
			details = append(details, ui.Param{Key: "Error", Value: err.Error()})
			return decodedMessage{title: msg.Type.String() + " (undecodable)", details: details}
		}
		details = append(details, lightInfoParams(info)...)
	default:
		details = append(details, ui.Param{Key: "Note", Value: "no payload decoder"})
	}

	return decodedMessage{title: msg.Type.String(), details: details}
}

// decodeCommandFrames splits the concatenated chunks into command frames
// and decodes each one. Commands decoded before an error are returned.
func decodeCommandFrames(chunks [][]byte) ([]protocol.Command, error) {
	var data []byte
	for _, c := range chunks {
		data = append(data, c...)
	}

	var commands []protocol.Command
	for len(data) > 0 {
		if len(data) < 4 {
			return commands, fmt.Errorf("%d trailing bytes are too short for a frame", len(data))
		}
		if data[0] != protocol.FrameStart {
			return commands, fmt.Errorf("expected frame start 0x%02X, got 0x%02X", protocol.FrameStart, data[0])
		}
		n := int(data[2]) + 4
		if n > len(data) {
			return commands, errors.New("truncated frame")
		}
		command, err := protocol.DecodeCommand(data[:n])
		if err != nil {
			return commands, err
		}
		commands = append(commands, command)
		data = data[n:]
	}
	return commands, nil
}
