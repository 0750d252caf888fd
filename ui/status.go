package ui

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"

	"github.com/bookvoice/bookvoice/internal/ttypes"
)

var (
	fuchsia   = lipgloss.Color("#EE6FF8")
	cream     = lipgloss.AdaptiveColor{Light: "#FFFDF5", Dark: "#FFFDF5"}
	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}
	green     = lipgloss.Color("#04B575")

	lineNumberFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}

	statusBarNoteFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}
	statusBarBg     = lipgloss.AdaptiveColor{Light: "#E6E6E6", Dark: "#242424"}

	logoStyle = lipgloss.NewStyle().
			Foreground(cream).
			Background(fuchsia).
			Bold(true).
			Render

	statusBarScrollPosStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#949494", Dark: "#5A5A5A"}).
				Background(statusBarBg).
				Render

	statusBarNoteStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(statusBarBg).
				Render

	statusBarHelpStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(lipgloss.AdaptiveColor{Light: "#DCDCDC", Dark: "#323232"}).
				Render

	statusBarMessageStyle = lipgloss.NewStyle().
				Foreground(mintGreen).
				Background(darkGreen).
				Render

	statusBarMessageScrollPosStyle = lipgloss.NewStyle().
					Foreground(mintGreen).
					Background(darkGreen).
					Render

	statusBarMessageHelpStyle = lipgloss.NewStyle().
					Foreground(lipgloss.Color("#B6FFE4")).
					Background(green).
					Render

	helpViewStyle = lipgloss.NewStyle().
			Foreground(statusBarNoteFg).
			Background(lipgloss.AdaptiveColor{Light: "#f2f2f2", Dark: "#1B1B1B"}).
			Render

	lineNumberStyle = lipgloss.NewStyle().
			Foreground(lineNumberFg).
			Render

	currentLineStyle = lipgloss.NewStyle().
				Background(lipgloss.AdaptiveColor{Light: "#FFF3B0", Dark: "#3C3A1E"}).
				Bold(true).
				Render
)

func logoView() string {
	return logoStyle(" bookvoice ")
}

func (m readerModel) View() string {
	var b strings.Builder
	fmt.Fprint(&b, m.viewport.View()+"\n")

	// Footer
	m.statusBarView(&b)

	if m.showHelp {
		fmt.Fprint(&b, "\n"+m.helpView())
	}

	return b.String()
}

func (m readerModel) statusBarView(b *strings.Builder) {
	showStatusMessage := m.state == readerStateStatusMessage

	logo := logoView()

	// Position in the book
	percent := 0.0
	if total := m.playback.TotalLines; total > 0 {
		percent = math.Max(0, math.Min(1, float64(m.cursor+1)/float64(total)))
	}
	position := fmt.Sprintf(" %3.f%% ", percent*100)
	if showStatusMessage {
		position = statusBarMessageScrollPosStyle(position)
	} else {
		position = statusBarScrollPosStyle(position)
	}

	var helpNote string
	if showStatusMessage {
		helpNote = statusBarMessageHelpStyle(" ? Help ")
	} else {
		helpNote = statusBarHelpStyle(" ? Help ")
	}

	var note string
	if showStatusMessage {
		note = m.statusMessage
	} else {
		note = m.noteView()
	}
	note = truncate.StringWithTail(" "+note+" ", uint(max(0, //nolint:gosec
		m.common.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(position)-
			ansi.PrintableRuneWidth(helpNote),
	)), ellipsis)
	if showStatusMessage {
		note = statusBarMessageStyle(note)
	} else {
		note = statusBarNoteStyle(note)
	}

	// Empty space
	padding := max(0,
		m.common.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(note)-
			ansi.PrintableRuneWidth(position)-
			ansi.PrintableRuneWidth(helpNote),
	)
	emptySpace := strings.Repeat(" ", padding)
	if showStatusMessage {
		emptySpace = statusBarMessageStyle(emptySpace)
	} else {
		emptySpace = statusBarNoteStyle(emptySpace)
	}

	fmt.Fprintf(b, "%s%s%s%s%s",
		logo,
		note,
		emptySpace,
		position,
		helpNote,
	)
}

// noteView summarises playback: state, line, speed and voice.
func (m readerModel) noteView() string {
	var icon string
	switch {
	case m.loading && len(m.playback.Lines) == 0:
		return "Loading " + m.title() + ellipsis
	case !m.completedAt.IsZero():
		return fmt.Sprintf("%s · finished %s", m.title(), humanize.Time(m.completedAt))
	case m.playing:
		icon = "▶"
	default:
		icon = "⏸"
	}

	parts := []string{
		icon + " " + m.title(),
		fmt.Sprintf("line %s/%s",
			humanize.Comma(int64(min(m.cursor+1, m.playback.TotalLines))),
			humanize.Comma(int64(m.playback.TotalLines))),
		formatRate(m.playback.EffectiveRate()),
		voiceName(m.playback.SelectedVoice),
	}
	if m.loading {
		parts = append(parts, "loading"+ellipsis)
	}
	return strings.Join(parts, " · ")
}

func (m readerModel) helpView() (s string) {
	col1 := []string{
		"space   play/pause",
		"n/→     next line",
		"p/←     previous line",
		"g/home  first line",
		"G/end   last loaded line",
		"q       quit",
	}
	col2 := []string{
		"+/]     faster",
		"-/[     slower",
		"v       next voice",
		"c       copy line",
		"k/↑ j/↓ scroll",
		"?       close help",
	}

	s += "\n"
	for i := range col1 {
		s += col1[i] + strings.Repeat(" ", max(0, 28-runewidth.StringWidth(col1[i]))) + col2[i] + "\n"
	}
	s = strings.TrimSuffix(s, "\n")

	s = indent(s, 2)

	// Fill up empty cells with spaces for background coloring
	if m.common.width > 0 {
		lines := strings.Split(s, "\n")
		for i := 0; i < len(lines); i++ {
			l := runewidth.StringWidth(lines[i])
			n := max(m.common.width-l, 0)
			lines[i] += strings.Repeat(" ", n)
		}

		s = strings.Join(lines, "\n")
	}

	return helpViewStyle(s)
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64) + "×"
}

func voiceName(v *ttypes.VoiceOption) string {
	switch {
	case v == nil:
		return "no voice"
	case v.DisplayName != "":
		return v.DisplayName
	default:
		return v.ID
	}
}
