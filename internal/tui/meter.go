// Package tui renders the live rhythm meter: BPM, level bars, source
// state and the active fallback signature, refreshed from engine
// snapshots.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"beatline/internal/event"
	"beatline/internal/metronome"
	"beatline/internal/rhythm"
)

const refreshInterval = 100 * time.Millisecond

// staleBeat caps beatAge so the counter cannot wrap on very long runs.
const staleBeat = 1000

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Width(8)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Bold(true)

	liveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	fallbackStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E8A33D")).
			Bold(true)

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	meterOnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	meterOffStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3A3A3A"))

	beatStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

type refreshMsg time.Time

type beatMsg struct{}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// MeterModel is the Bubble Tea model behind the meter. It pulls a fresh
// snapshot on every refresh tick; beats arrive as pushed messages so the
// flash does not wait for the next refresh.
type MeterModel struct {
	snap func() rhythm.Snapshot
	sig  func() (metronome.Signature, bool)

	latest    rhythm.Snapshot
	signature metronome.Signature
	engaged   bool
	beatAge   int
	width     int
}

// NewMeterModel builds a meter over the given snapshot and signature
// accessors.
func NewMeterModel(snap func() rhythm.Snapshot, sig func() (metronome.Signature, bool)) MeterModel {
	return MeterModel{snap: snap, sig: sig, beatAge: staleBeat, width: 72}
}

// Init arms the first refresh.
func (m MeterModel) Init() tea.Cmd {
	return scheduleRefresh()
}

// Update handles refreshes, pushed beats, resizes and keys.
func (m MeterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case refreshMsg:
		m.latest = m.snap()
		m.signature, m.engaged = m.sig()
		if m.beatAge < staleBeat {
			m.beatAge++
		}
		return m, scheduleRefresh()

	case beatMsg:
		m.beatAge = 0

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

// View renders the meter.
func (m MeterModel) View() string {
	var sb strings.Builder
	snap := m.latest
	barWidth := clampInt(m.width-24, 16, 48)

	sb.WriteString(titleStyle.Render("beatline"))
	sb.WriteString("\n\n")

	dot := "  "
	if m.beatAge < 2 {
		dot = beatStyle.Render("● ")
	}
	bpm := "--- BPM"
	if snap.BPM > 0 {
		bpm = fmt.Sprintf("%3.0f BPM", snap.BPM)
	}
	sb.WriteString(fmt.Sprintf("  %s%s   %s\n\n", dot, valueStyle.Render(bpm), m.stateLine()))

	sb.WriteString(row("energy", snap.Energy, barWidth))
	sb.WriteString(row("bass", snap.Bands.Bass, barWidth))
	sb.WriteString(row("mid", snap.Bands.Mid, barWidth))
	sb.WriteString(row("treble", snap.Bands.Treble, barWidth))
	sb.WriteString(row("quality", snap.Quality, barWidth))

	if m.engaged {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("  %s\n",
			fallbackStyle.Render(fmt.Sprintf("♩ %s (%s, %.0f BPM)",
				m.signature.Label, m.signature.Mood, m.signature.BPM))))
	}

	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("  q: quit"))
	sb.WriteString("\n")
	return sb.String()
}

func (m MeterModel) stateLine() string {
	snap := m.latest
	switch snap.State {
	case rhythm.SourceMetronome:
		return fallbackStyle.Render(fmt.Sprintf("metronome (%s)", snap.Reason))
	case rhythm.SourceIdle:
		return idleStyle.Render("idle")
	default:
		label := string(snap.State)
		if !snap.HasSignal {
			label += " (quiet)"
		}
		return liveStyle.Render(label)
	}
}

func row(label string, level float64, width int) string {
	return fmt.Sprintf("  %s %s %s\n",
		labelStyle.Render(label),
		meter(level, width),
		valueStyle.Render(fmt.Sprintf("%5.2f", level)))
}

// meter renders level as a fixed-width bar. Levels clamp into [0, 1].
func meter(level float64, width int) string {
	if width <= 0 {
		return ""
	}
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*float64(width) + 0.5)
	if filled > width {
		filled = width
	}
	return meterOnStyle.Render(strings.Repeat("█", filled)) +
		meterOffStyle.Render(strings.Repeat("░", width-filled))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RunMeter owns the terminal until the user quits. Beat events are
// pushed straight into the program for the flash indicator.
func RunMeter(bus *event.Bus, snap func() rhythm.Snapshot, sig func() (metronome.Signature, bool)) error {
	p := tea.NewProgram(NewMeterModel(snap, sig), tea.WithAltScreen())
	dispose := bus.OnBeat(func(rhythm.BeatEvent) { p.Send(beatMsg{}) })
	defer dispose()
	_, err := p.Run()
	return err
}
