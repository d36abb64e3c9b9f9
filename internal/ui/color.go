package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/homelight/internal/protocol"
)

// HexColor converts an HSV colour to a #RRGGBB string
func HexColor(c protocol.HSVColor) string {
	r, g, b := hsvToRGB(c.H, c.S, c.V)
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	s = math.Max(0, math.Min(s, 1))
	v = math.Max(0, math.Min(v, 1))

	chroma := v * s
	x := chroma * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - chroma

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = chroma, x, 0
	case h < 120:
		r, g, b = x, chroma, 0
	case h < 180:
		r, g, b = 0, chroma, x
	case h < 240:
		r, g, b = 0, x, chroma
	case h < 300:
		r, g, b = x, 0, chroma
	default:
		r, g, b = chroma, 0, x
	}

	return channel(r + m), channel(g + m), channel(b + m)
}

func channel(v float64) uint8 {
	return uint8(math.Round(v * 255))
}

// Swatch renders a block of the light's colour, or a dark block when off
func Swatch(info protocol.LightInfo, width int) string {
	bg := lipgloss.Color(HexColor(info.Color))
	if !info.IsOn {
		bg = lipgloss.Color("#1C1C1C")
	}
	return lipgloss.NewStyle().Background(bg).Render(strings.Repeat(" ", width))
}
