package ui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/homelight/internal/bridge"
)

const (
	// commandTimeout bounds each control request sent from the watch view
	commandTimeout = 5 * time.Second

	brightnessStep = 10
	hueStep        = 15
)

// Controller sends light commands on behalf of the watch view
type Controller interface {
	SetPower(ctx context.Context, id uint32, on bool) error
	SetBrightness(ctx context.Context, id uint32, percent int) error
	SetHue(ctx context.Context, id uint32, hue float64) error
}

// Event is one item from a device status stream. A non-nil Err ends the
// stream.
type Event struct {
	Status bridge.Status
	Err    error
}

type eventMsg Event

type streamEndMsg struct{}

type commandResultMsg struct {
	action string
	err    error
}

// watchKeyMap defines key bindings for the watch view
type watchKeyMap struct {
	Toggle   key.Binding
	Brighter key.Binding
	Dimmer   key.Binding
	HueUp    key.Binding
	HueDown  key.Binding
	Quit     key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Brighter, k.Dimmer, k.HueUp, k.HueDown, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Brighter, k.Dimmer},
		{k.HueUp, k.HueDown, k.Quit},
	}
}

func newWatchKeyMap() watchKeyMap {
	return watchKeyMap{
		Toggle: key.NewBinding(
			key.WithKeys(" ", "p"),
			key.WithHelp("space", "power"),
		),
		Brighter: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "brighter"),
		),
		Dimmer: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "dimmer"),
		),
		HueUp: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "hue+"),
		),
		HueDown: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "hue-"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// WatchModel shows the live status of one light and optionally drives it
// from the keyboard.
type WatchModel struct {
	DeviceID uint32
	Target   string // Server the stream comes from, for the title line

	events  <-chan Event
	control Controller
	now     func() time.Time

	status    *bridge.Status
	received  time.Time
	streamErr error
	closed    bool

	pending    int
	lastAction string
	actionErr  error

	width      int
	spinner    spinner.Model
	brightness progress.Model
	saturation progress.Model
	help       help.Model
	keys       watchKeyMap
}

// NewWatchModel creates a watch view fed by events. A nil control makes the
// view read-only.
func NewWatchModel(id uint32, target string, events <-chan Event, control Controller) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return WatchModel{
		DeviceID:   id,
		Target:     target,
		events:     events,
		control:    control,
		now:        time.Now,
		width:      GetTerminalWidth(),
		spinner:    s,
		brightness: newBar(),
		saturation: newBar(),
		help:       help.New(),
		keys:       newWatchKeyMap(),
	}
}

func newBar() progress.Model {
	return progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(30),
		progress.WithoutPercentage(),
	)
}

// Status returns the most recent status received, or nil
func (m WatchModel) Status() *bridge.Status {
	return m.status
}

// Init starts the spinner and the stream reader
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func waitForEvent(events <-chan Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamEndMsg{}
		}
		return eventMsg(ev)
	}
}

// Update handles messages and updates the model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)
		barWidth := max(m.width-30, 10)
		m.brightness.Width = barWidth
		m.saturation.Width = barWidth
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		if msg.Err != nil {
			m.streamErr = msg.Err
			m.closed = true
			return m, nil
		}
		st := msg.Status
		m.status = &st
		m.received = m.now()
		return m, waitForEvent(m.events)

	case streamEndMsg:
		m.closed = true
		return m, nil

	case commandResultMsg:
		m.pending--
		m.lastAction = msg.action
		m.actionErr = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m WatchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if m.control == nil || m.status == nil || m.status.State == nil {
		return m, nil
	}

	state := *m.status.State
	id := m.DeviceID

	switch {
	case key.Matches(msg, m.keys.Toggle):
		on := !state.IsOn
		return m.send(fmt.Sprintf("Power %s", onOff(on)), func(ctx context.Context) error {
			return m.control.SetPower(ctx, id, on)
		})

	case key.Matches(msg, m.keys.Brighter), key.Matches(msg, m.keys.Dimmer):
		step := brightnessStep
		if key.Matches(msg, m.keys.Dimmer) {
			step = -brightnessStep
		}
		pct := min(max(percentOf(state.Color.V)+step, 0), 100)
		return m.send(fmt.Sprintf("Brightness %d%%", pct), func(ctx context.Context) error {
			return m.control.SetBrightness(ctx, id, pct)
		})

	case key.Matches(msg, m.keys.HueUp), key.Matches(msg, m.keys.HueDown):
		step := float64(hueStep)
		if key.Matches(msg, m.keys.HueDown) {
			step = -step
		}
		hue := math.Mod(math.Round(state.Color.H)+step+360, 360)
		return m.send(fmt.Sprintf("Hue %.0f°", hue), func(ctx context.Context) error {
			return m.control.SetHue(ctx, id, hue)
		})
	}

	return m, nil
}

// send runs a control request off the UI goroutine
func (m WatchModel) send(action string, fn func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	m.pending++
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandResultMsg{action: action, err: fn(ctx)}
	}
}

// View renders the watch screen
func (m WatchModel) View() string {
	var b strings.Builder

	title := HeaderTitleStyle.Render(fmt.Sprintf("HOMELIGHT · DEVICE %d", m.DeviceID))
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, title, HeaderCommandStyle.Render(m.Target)))
	b.WriteString("\n\n")

	if m.status == nil {
		if m.closed {
			b.WriteString(ErrorMessageStyle.Render("  " + m.closedText()))
		} else {
			b.WriteString("  " + m.spinner.View() + " Waiting for device status...")
		}
		b.WriteString("\n\n")
		b.WriteString(m.help.View(m.keys))
		return b.String()
	}

	b.WriteString(m.renderCard())
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render(fmt.Sprintf("  chunks %d · frames %d · decode errors %d · queued %d",
		m.status.Chunks, m.status.Frames, m.status.DecodeErrors, m.status.Queued)))
	b.WriteString("\n\n")

	if line := m.actionLine(); line != "" {
		b.WriteString("  " + line + "\n\n")
	}
	if m.closed {
		b.WriteString(ErrorMessageStyle.Render("  "+m.closedText()) + "\n\n")
	}

	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m WatchModel) renderCard() string {
	st := m.status

	row := func(label, value string) string {
		return CardLabelStyle.Render(label) + CardValueStyle.Render(value)
	}

	lines := []string{
		row("Name", st.Name),
		row("Session", sessionText(st.Session)),
		row("Link", st.LinkType+" "+st.Link),
	}

	if st.State != nil {
		info := *st.State
		lines = append(lines,
			row("Power", onOff(info.IsOn)),
			row("Colour", Swatch(info, 6)+" "+HexColor(info.Color)),
			row("Hue", fmt.Sprintf("%.0f°", info.Color.H)),
			row("Brightness", m.brightness.ViewAs(clamp01(info.Color.V))+fmt.Sprintf(" %d%%", percentOf(info.Color.V))),
			row("Saturation", m.saturation.ViewAs(clamp01(info.Color.S))+fmt.Sprintf(" %d%%", percentOf(info.Color.S))),
		)
	} else {
		lines = append(lines, row("State", "unknown"))
	}

	observed := "never"
	if st.ObservedAt != nil {
		observed = fmt.Sprintf("%s ago", m.now().Sub(*st.ObservedAt).Truncate(time.Second))
	}
	if st.Refreshing {
		observed += " " + m.spinner.View()
	}
	lines = append(lines, row("Observed", observed))

	if st.LastError != "" {
		lines = append(lines, CardLabelStyle.Render("Last error")+ErrorMessageStyle.Render(st.LastError))
	}

	return CardStyle(m.width, sessionColor(st.Session)).Render(strings.Join(lines, "\n"))
}

func (m WatchModel) actionLine() string {
	switch {
	case m.pending > 0:
		return m.spinner.View() + " Sending..."
	case m.lastAction == "":
		return ""
	case m.actionErr != nil:
		return ErrorMessageStyle.Render(fmt.Sprintf("%s %s: %v", FailureMarker, m.lastAction, m.actionErr))
	default:
		return SuccessTitleStyle.Render(SuccessMarker + " " + m.lastAction)
	}
}

func (m WatchModel) closedText() string {
	if m.streamErr != nil {
		return fmt.Sprintf("%s Stream closed: %v", FailureMarker, m.streamErr)
	}
	return FailureMarker + " Stream closed"
}

func sessionText(s bridge.SessionState) string {
	marker := OfflineMarker
	if s == bridge.StateOnline {
		marker = OnlineMarker
	}
	return lipgloss.NewStyle().Foreground(sessionColor(s)).Render(marker + " " + string(s))
}

func sessionColor(s bridge.SessionState) lipgloss.Color {
	switch s {
	case bridge.StateOnline:
		return SuccessColor
	case bridge.StateConnecting:
		return WarningColor
	case bridge.StateOffline:
		return ErrorColor
	default:
		return MutedColor
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}

func percentOf(v float64) int {
	return int(math.Round(clamp01(v) * 100))
}
