package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Param is one key/value line in a header or result box. Slices of Param
// keep their order on screen.
type Param struct {
	Key   string
	Value string
}

// Header represents a command header with title, command, and parameters.
type Header struct {
	Title   string  // e.g., "DEVICE SCAN"
	Command string  // e.g., "homelightd scan --timeout 5s"
	Params  []Param // e.g., {"Service", "_homelight._tcp"}
	Width   int
}

// NewHeader creates a new header sized to the terminal
func NewHeader(title, command string, params ...Param) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the width used for rendering
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the styled header as a string
func (h *Header) Render() string {
	width := max(h.Width, MinTerminalWidth)

	titleLine := HeaderTitleStyle.Render(strings.ToUpper(h.Title))
	commandLine := HeaderCommandStyle.Render(h.Command)
	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, commandLine)

	if len(h.Params) > 0 {
		divider := RenderHorizontalDivider(max(width-6, 10), "─")
		content = lipgloss.JoinVertical(lipgloss.Left, content, divider, renderParams(h.Params))
	}

	return HeaderBorderStyle(width).Render(content)
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}

func renderParams(params []Param) string {
	lines := make([]string, 0, len(params))
	for _, p := range params {
		lines = append(lines, HeaderParamKeyStyle.Render(p.Key+":")+" "+HeaderParamValueStyle.Render(p.Value))
	}
	return strings.Join(lines, "\n")
}
