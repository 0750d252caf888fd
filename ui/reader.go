package ui

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"

	"github.com/bookvoice/bookvoice/internal/book"
	"github.com/bookvoice/bookvoice/internal/ttypes"
)

const (
	statusBarHeight = 1
	lineNumberWidth = 6

	minRate  = 0.5
	maxRate  = 3.0
	rateStep = 0.25

	loadTimeout = 30 * time.Second
)

type linesLoadedMsg struct {
	offset int
	page   book.Page
	err    error
}

type readerState int

const (
	readerStateBrowse readerState = iota
	readerStateStatusMessage
)

type readerModel struct {
	common   *commonModel
	deps     Deps
	viewport viewport.Model
	state    readerState
	showHelp bool

	statusMessage      string
	statusMessageTimer *time.Timer

	// playback is handed to the engine on every call; the loaded lines
	// grow as pages arrive
	playback ttypes.PlaybackConfig
	hasMore  bool

	cursor      int
	playing     bool
	loading     bool
	pending     int // line the engine is waiting for, or -1
	completedAt time.Time

	// first rendered row of each loaded line
	rows []int
}

func newReaderModel(common *commonModel, deps Deps) readerModel {
	cfg := common.cfg

	rate := cfg.Rate
	if rate <= 0 {
		rate = ttypes.DefaultRate
	}

	return readerModel{
		common:   common,
		deps:     deps,
		viewport: viewport.New(0, 0),
		state:    readerStateBrowse,
		cursor:   cfg.StartLine,
		pending:  -1,
		playback: ttypes.PlaybackConfig{
			BookID:        cfg.BookID,
			Lang:          cfg.Lang,
			Rate:          rate,
			SelectedVoice: cfg.Voice,
			Title:         cfg.Title,
			Author:        cfg.Author,
		},
	}
}

func (m *readerModel) setSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h - statusBarHeight

	if m.showHelp {
		m.viewport.Height -= statusBarHeight + strings.Count(m.helpView(), "\n")
	}
	m.viewport.Height = max(m.viewport.Height, 0)
}

func (m *readerModel) toggleHelp() {
	m.showHelp = !m.showHelp
	m.setSize(m.common.width, m.common.height)
	m.render()
}

type statusMessage struct {
	message string
	isError bool
}

func (m *readerModel) showStatusMessage(msg statusMessage) tea.Cmd {
	if msg.isError {
		log.Warn(msg.message)
	}
	m.state = readerStateStatusMessage
	m.statusMessage = msg.message
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.statusMessageTimer = time.NewTimer(statusMessageTimeout)

	return waitForStatusMessageTimeout(m.statusMessageTimer)
}

// shutdown stops playback and flushes progress. Called once on quit.
func (m *readerModel) shutdown() {
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	if m.deps.Player != nil {
		if err := m.deps.Player.Stop(); err != nil {
			log.Debug("stop on quit", "error", err)
		}
	}
	if m.deps.Progress != nil {
		if err := m.deps.Progress.SetLine(m.playback.BookID, m.cursor); err != nil {
			log.Error("unable to save progress", "error", err)
		}
		if err := m.deps.Progress.Save(); err != nil {
			log.Error("unable to save progress", "error", err)
		}
	}
	if m.deps.Events != nil {
		m.deps.Events.Close()
	}
}

func (m readerModel) update(msg tea.Msg) (readerModel, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.syncPlaying()

		switch msg.String() {
		case "esc":
			if m.state != readerStateBrowse {
				m.state = readerStateBrowse
				return m, nil
			}
			if m.showHelp {
				m.toggleHelp()
			}
			return m, nil

		case " ", "enter":
			return m, m.togglePlay()

		case "n", "right", "l":
			return m, m.moveCursor(m.cursor + 1)

		case "p", "left", "h":
			return m, m.moveCursor(m.cursor - 1)

		case "home", "g":
			return m, m.moveCursor(0)

		case "end", "G":
			return m, m.moveCursor(len(m.playback.Lines) - 1)

		case "+", "=", "]":
			return m, m.setRate(m.playback.Rate + rateStep)

		case "-", "_", "[":
			return m, m.setRate(m.playback.Rate - rateStep)

		case "v":
			return m, m.cycleVoice()

		case "c":
			if !m.playback.Loaded(m.cursor) {
				return m, nil
			}
			line := m.playback.Lines[m.cursor]
			// OSC 52 reaches the local terminal over ssh
			termenv.Copy(line)
			_ = clipboard.WriteAll(line)
			return m, m.showStatusMessage(statusMessage{"Copied line", false})

		case "?":
			m.toggleHelp()
			return m, nil
		}

	case SettingsMsg:
		cmds = append(cmds, m.applySettings(msg))

	case linesLoadedMsg:
		cmds = append(cmds, m.linesLoaded(msg))

	// Engine events. Each one re-arms the listener.
	case lineEndMsg:
		m.cursor = msg.index
		m.saveProgress()
		m.render()
		return m, m.deps.Events.wait()

	case playingChangeMsg:
		m.playing = msg.playing
		return m, m.deps.Events.wait()

	case loadMoreLinesMsg:
		m.pending = msg.index
		return m, tea.Batch(m.loadMore(), m.deps.Events.wait())

	case bookCompletedMsg:
		m.playing = false
		m.completedAt = msg.at
		if m.deps.Progress != nil {
			if err := m.deps.Progress.Complete(m.playback.BookID, msg.at); err != nil {
				log.Error("unable to save progress", "error", err)
			}
		}
		return m, tea.Batch(
			m.showStatusMessage(statusMessage{"Finished " + m.title(), false}),
			m.deps.Events.wait(),
		)

	case statusMessageTimeoutMsg:
		m.state = readerStateBrowse
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// syncPlaying drops the playing flag when the engine was paused outside
// the reader, e.g. by a media key. Pause reports no playing change.
func (m *readerModel) syncPlaying() {
	if !m.playing || m.deps.Player == nil {
		return
	}
	if s := m.deps.Player.Snapshot(); s.IsPaused && !s.IsRestarting {
		m.playing = false
	}
}

// togglePlay starts playback at the cursor or pauses it.
func (m *readerModel) togglePlay() tea.Cmd {
	player := m.deps.Player

	if m.playing {
		if err := player.Pause(); err != nil {
			return m.showStatusMessage(statusMessage{"Unable to pause: " + err.Error(), true})
		}
		m.playing = false
		return nil
	}

	if !m.playback.Ready() {
		return m.showStatusMessage(statusMessage{"No voice selected", true})
	}
	if !m.playback.InBook(m.cursor) {
		m.cursor = 0
		m.render()
	}
	if err := player.Start(m.cursor, m.playback); err != nil {
		return m.showStatusMessage(statusMessage{"Unable to play: " + err.Error(), true})
	}
	m.playing = true
	m.completedAt = time.Time{}
	return nil
}

// moveCursor jumps to index. While playing the engine restarts there.
func (m *readerModel) moveCursor(index int) tea.Cmd {
	last := m.playback.TotalLines - 1
	if last < 0 {
		return nil
	}
	index = max(0, min(index, last))
	if index == m.cursor {
		return nil
	}

	m.cursor = index
	m.saveProgress()
	m.render()

	if m.playing {
		return m.restart(index)
	}
	if !m.playback.Loaded(index) {
		return m.loadMore()
	}
	return nil
}

// setRate changes the speech rate in quarter steps.
func (m *readerModel) setRate(rate float64) tea.Cmd {
	rate = math.Round(rate/rateStep) * rateStep
	rate = max(minRate, min(rate, maxRate))
	if rate == m.playback.Rate {
		return nil
	}
	m.playback.Rate = rate

	return tea.Batch(
		m.restartIfPlaying(),
		m.showStatusMessage(statusMessage{fmt.Sprintf("Speed %s", formatRate(rate)), false}),
	)
}

// cycleVoice selects the next enabled voice.
func (m *readerModel) cycleVoice() tea.Cmd {
	var enabled []ttypes.VoiceOption
	for _, v := range m.common.cfg.Voices {
		if v.Enabled {
			enabled = append(enabled, v)
		}
	}
	if len(enabled) == 0 {
		return m.showStatusMessage(statusMessage{"No voices available", true})
	}

	next := 0
	if cur := m.playback.SelectedVoice; cur != nil {
		i := slices.IndexFunc(enabled, func(v ttypes.VoiceOption) bool {
			return v.Type == cur.Type && v.ID == cur.ID
		})
		next = (i + 1) % len(enabled)
	}
	voice := enabled[next]
	m.playback.SelectedVoice = &voice

	return tea.Batch(
		m.restartIfPlaying(),
		m.showStatusMessage(statusMessage{"Voice " + voiceName(&voice), false}),
	)
}

func (m *readerModel) applySettings(msg SettingsMsg) tea.Cmd {
	changed := false
	if msg.Rate > 0 && msg.Rate != m.playback.Rate {
		m.playback.Rate = max(minRate, min(msg.Rate, maxRate))
		changed = true
	}
	if v := msg.Voice; v != nil {
		cur := m.playback.SelectedVoice
		if cur == nil || cur.Type != v.Type || cur.ID != v.ID {
			voice := *v
			m.playback.SelectedVoice = &voice
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return tea.Batch(
		m.restartIfPlaying(),
		m.showStatusMessage(statusMessage{"Settings updated", false}),
	)
}

func (m *readerModel) restartIfPlaying() tea.Cmd {
	if !m.playing {
		return nil
	}
	return m.restart(m.cursor)
}

func (m *readerModel) restart(index int) tea.Cmd {
	if err := m.deps.Player.Resume(index, m.playback); err != nil {
		return m.showStatusMessage(statusMessage{"Unable to resume: " + err.Error(), true})
	}
	return nil
}

func (m *readerModel) saveProgress() {
	if m.deps.Progress == nil {
		return
	}
	if err := m.deps.Progress.SetLine(m.playback.BookID, m.cursor); err != nil {
		log.Error("unable to save progress", "error", err)
	}
}

// loadMore requests the page after the loaded lines unless one is in
// flight or the book is fully loaded.
func (m *readerModel) loadMore() tea.Cmd {
	if m.loading || (!m.hasMore && m.playback.TotalLines > 0) {
		return nil
	}
	m.loading = true
	return m.loadLines(len(m.playback.Lines), m.common.cfg.PageSize)
}

func (m *readerModel) linesLoaded(msg linesLoadedMsg) tea.Cmd {
	m.loading = false

	if msg.err != nil {
		if len(m.playback.Lines) == 0 {
			return func() tea.Msg { return errMsg{fmt.Errorf("unable to load %s: %w", m.title(), msg.err)} }
		}
		return m.showStatusMessage(statusMessage{"Unable to load lines: " + msg.err.Error(), true})
	}
	if msg.offset != len(m.playback.Lines) {
		log.Debug("dropping stale page", "offset", msg.offset, "loaded", len(m.playback.Lines))
		return nil
	}

	lines := slices.Concat(m.playback.Lines, msg.page.Lines)
	m.playback = m.playback.WithLines(lines, msg.page.Total)
	m.hasMore = msg.page.HasMore && len(msg.page.Lines) > 0
	log.Debug("lines loaded", "book", m.playback.BookID, "loaded", len(lines), "total", m.playback.TotalLines)

	if m.playback.TotalLines == 0 {
		return func() tea.Msg { return errMsg{fmt.Errorf("%s has no lines", m.title())} }
	}
	if !m.playback.InBook(m.cursor) {
		m.cursor = m.playback.TotalLines - 1
	}
	m.render()

	// first page
	if msg.offset == 0 && m.common.cfg.Autoplay && !m.playing {
		return m.togglePlay()
	}

	if m.pending < 0 {
		return nil
	}
	if !m.playback.Loaded(m.pending) {
		if m.hasMore {
			return m.loadMore()
		}
		m.pending = -1
		return nil
	}
	index := m.pending
	m.pending = -1
	if !m.playing {
		return nil
	}
	return m.restart(index)
}

func (m readerModel) loadLines(offset, limit int) tea.Cmd {
	src := m.deps.Source
	bookID := m.playback.BookID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()

		page, err := src.Lines(ctx, bookID, offset, limit)
		return linesLoadedMsg{offset: offset, page: page, err: err}
	}
}

func (m readerModel) title() string {
	if m.playback.Title != "" {
		return m.playback.Title
	}
	return m.playback.BookID
}

// render lays out the loaded lines and scrolls the cursor into view.
func (m *readerModel) render() {
	width := m.viewport.Width
	if mw := int(m.common.cfg.MaxWidth); mw > 0 { //nolint:gosec
		width = min(width, mw)
	}
	if m.common.cfg.ShowLineNumbers {
		width -= lineNumberWidth
	}
	width = max(width, 10)

	var b strings.Builder
	m.rows = m.rows[:0]
	row := 0
	for i, line := range m.playback.Lines {
		m.rows = append(m.rows, row)

		wrapped := strings.Split(wordwrap.String(line, width), "\n")
		for j, w := range wrapped {
			if row > 0 {
				b.WriteByte('\n')
			}
			if m.common.cfg.ShowLineNumbers {
				if j == 0 {
					b.WriteString(lineNumberStyle(fmt.Sprintf("%*d ", lineNumberWidth-1, i+1)))
				} else {
					b.WriteString(strings.Repeat(" ", lineNumberWidth))
				}
			}
			if i == m.cursor {
				b.WriteString(currentLineStyle(w))
			} else {
				b.WriteString(w)
			}
			row++
		}
	}
	m.rows = append(m.rows, row)

	m.viewport.SetContent(b.String())
	m.scrollToCursor()
}

func (m *readerModel) scrollToCursor() {
	if m.cursor < 0 || m.cursor+1 >= len(m.rows) || m.viewport.Height <= 0 {
		return
	}
	top, bottom := m.rows[m.cursor], m.rows[m.cursor+1]-1
	switch {
	case top < m.viewport.YOffset:
		m.viewport.SetYOffset(top)
	case bottom >= m.viewport.YOffset+m.viewport.Height:
		m.viewport.SetYOffset(bottom - m.viewport.Height + 1)
	}
}
