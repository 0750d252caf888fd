// Package ui provides the reading TUI: it owns the line cursor, drives the
// playback engine and reacts to its events.
package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/bookvoice/bookvoice/internal/book"
	"github.com/bookvoice/bookvoice/internal/playback"
	"github.com/bookvoice/bookvoice/internal/ttypes"
)

const (
	statusMessageTimeout = time.Second * 3 // how long to show status messages like "copied line"
	ellipsis             = "…"
)

// Player is the part of the playback engine the reader drives.
// *playback.Engine implements it.
type Player interface {
	Start(index int, cfg ttypes.PlaybackConfig) error
	Pause() error
	Stop() error
	Resume(index int, cfg ttypes.PlaybackConfig) error
	Snapshot() playback.State
}

// Progress persists the cursor. *progress.Store implements it.
type Progress interface {
	SetLine(bookID string, line int) error
	Complete(bookID string, at time.Time) error
	Save() error
}

// Deps are the collaborators of the reader. Progress and Events are
// optional.
type Deps struct {
	Player   Player
	Source   book.Source
	Progress Progress
	Events   *Events
}

// SettingsMsg changes the speech rate and/or voice while reading. Zero
// fields are left alone.
type SettingsMsg struct {
	Rate  float64
	Voice *ttypes.VoiceOption
}

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, deps Deps) *tea.Program {
	log.Debug("starting reader", "book", cfg.BookID, "line", cfg.StartLine)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, deps), opts...)
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type statusMessageTimeoutMsg struct{}

// Common stuff we'll need to access in all models.
type commonModel struct {
	cfg    Config
	width  int
	height int
}

type model struct {
	common   *commonModel
	fatalErr error
	reader   readerModel
}

func newModel(cfg Config, deps Deps) model {
	if cfg.PageSize <= 0 {
		cfg.PageSize = book.DefaultPageSize
	}
	if cfg.StartLine < 0 {
		cfg.StartLine = 0
	}

	common := &commonModel{cfg: cfg}
	m := model{
		common: common,
		reader: newReaderModel(common, deps),
	}
	if deps.Player == nil || deps.Source == nil {
		m.fatalErr = errors.New("reader needs a player and a book source")
	}
	return m
}

func (m model) Init() tea.Cmd {
	if m.fatalErr != nil {
		return nil
	}
	cfg := m.common.cfg
	return tea.Batch(
		m.reader.loadLines(0, cfg.StartLine+cfg.PageSize),
		m.reader.deps.Events.wait(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// If there's been an error, any key exits
	if m.fatalErr != nil {
		if _, ok := msg.(tea.KeyMsg); ok {
			m.reader.shutdown()
			return m, tea.Quit
		}
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.reader.shutdown()
			return m, tea.Quit

		case "ctrl+z":
			return m, tea.Suspend
		}

	case tea.WindowSizeMsg:
		m.common.width = msg.Width
		m.common.height = msg.Height
		m.reader.setSize(msg.Width, msg.Height)
		m.reader.render()
		return m, nil

	case errMsg:
		m.fatalErr = msg
		return m, nil
	}

	var cmd tea.Cmd
	m.reader, cmd = m.reader.update(msg)
	return m, cmd
}

func (m model) View() string {
	if m.fatalErr != nil {
		return errorView(m.fatalErr, true)
	}
	return m.reader.View()
}

func errorView(err error, fatal bool) string {
	exitMsg := "press any key to "
	if fatal {
		exitMsg += "exit"
	} else {
		exitMsg += "return"
	}
	s := fmt.Sprintf("%s\n\n%s\n\n%s",
		errorTitleStyle.Render("ERROR"),
		err,
		subtleStyle.Render(exitMsg),
	)
	return "\n" + indent(s, 3)
}

// COMMANDS

func waitForStatusMessageTimeout(t *time.Timer) tea.Cmd {
	return func() tea.Msg {
		<-t.C
		return statusMessageTimeoutMsg{}
	}
}

// ETC

// Lightweight version of reflow's indent function.
func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	l := strings.Split(s, "\n")
	b := strings.Builder{}
	i := strings.Repeat(" ", n)
	for _, v := range l {
		fmt.Fprintf(&b, "%s%s\n", i, v)
	}
	return b.String()
}

var (
	errorTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F1F1F1")).
			Background(lipgloss.Color("#FF5F87")).
			Bold(true).
			Padding(0, 1)

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"})
)
