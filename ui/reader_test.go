package ui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookvoice/bookvoice/internal/book"
	"github.com/bookvoice/bookvoice/internal/playback"
	"github.com/bookvoice/bookvoice/internal/ttypes"
)

type playerCall struct {
	op    string
	index int
	cfg   ttypes.PlaybackConfig
}

type fakePlayer struct {
	calls []playerCall
	state playback.State
}

func (p *fakePlayer) Start(index int, cfg ttypes.PlaybackConfig) error {
	p.calls = append(p.calls, playerCall{"start", index, cfg})
	return nil
}

func (p *fakePlayer) Pause() error {
	p.calls = append(p.calls, playerCall{op: "pause"})
	return nil
}

func (p *fakePlayer) Stop() error {
	p.calls = append(p.calls, playerCall{op: "stop"})
	return nil
}

func (p *fakePlayer) Resume(index int, cfg ttypes.PlaybackConfig) error {
	p.calls = append(p.calls, playerCall{"resume", index, cfg})
	return nil
}

func (p *fakePlayer) Snapshot() playback.State {
	return p.state
}

func (p *fakePlayer) last() playerCall {
	if len(p.calls) == 0 {
		return playerCall{}
	}
	return p.calls[len(p.calls)-1]
}

type fakeProgress struct {
	lines     map[string]int
	completed map[string]time.Time
	saves     int
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{lines: map[string]int{}, completed: map[string]time.Time{}}
}

func (p *fakeProgress) SetLine(bookID string, line int) error {
	p.lines[bookID] = line
	return nil
}

func (p *fakeProgress) Complete(bookID string, at time.Time) error {
	p.completed[bookID] = at
	return nil
}

func (p *fakeProgress) Save() error {
	p.saves++
	return nil
}

var systemVoice = ttypes.VoiceOption{Type: ttypes.VoiceSystem, ID: "en", DisplayName: "English", Enabled: true}

type harness struct {
	t        *testing.T
	m        model
	player   *fakePlayer
	progress *fakeProgress
}

func newHarness(t *testing.T, lineCount int, mutate func(*Config)) *harness {
	t.Helper()

	lines := make([]string, lineCount)
	for i := range lines {
		lines[i] = fmt.Sprintf("Line %d.", i)
	}
	src := book.NewFileSource()
	src.Add(book.Info{ID: "b1", Title: "Test Book"}, lines)

	voice := systemVoice
	cfg := Config{
		BookID:   "b1",
		Title:    "Test Book",
		Lang:     "en",
		PageSize: 3,
		Voice:    &voice,
		Voices: []ttypes.VoiceOption{
			systemVoice,
			{Type: ttypes.VoiceSystem, ID: "de", Enabled: false},
			{Type: ttypes.VoiceCloud, ID: "alloy", DisplayName: "Alloy (cloud)", Enabled: true},
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{t: t, player: &fakePlayer{}, progress: newFakeProgress()}
	h.m = newModel(cfg, Deps{Player: h.player, Source: src, Progress: h.progress})
	require.NoError(t, h.m.fatalErr)

	h.send(tea.WindowSizeMsg{Width: 80, Height: 24})
	h.run(h.m.reader.loadLines(0, cfg.StartLine+cfg.PageSize))
	return h
}

func (h *harness) send(msg tea.Msg) tea.Cmd {
	h.t.Helper()
	next, cmd := h.m.Update(msg)
	h.m = next.(model)
	return cmd
}

// run executes cmd and feeds its messages back in. Only used for commands
// that complete immediately.
func (h *harness) run(cmd tea.Cmd) {
	h.t.Helper()
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case nil:
	case tea.BatchMsg:
		for _, c := range msg {
			h.run(c)
		}
	default:
		h.run(h.send(msg))
	}
}

func (h *harness) key(k string) tea.Cmd {
	switch k {
	case " ":
		return h.send(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	case "right":
		return h.send(tea.KeyMsg{Type: tea.KeyRight})
	}
	return h.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
}

func TestInitialLoad(t *testing.T) {
	h := newHarness(t, 10, func(c *Config) { c.StartLine = 4 })

	r := h.m.reader
	assert.Len(t, r.playback.Lines, 7)
	assert.Equal(t, 10, r.playback.TotalLines)
	assert.True(t, r.hasMore)
	assert.Equal(t, 4, r.cursor)
	assert.Empty(t, h.player.calls)
}

func TestAutoplay(t *testing.T) {
	h := newHarness(t, 5, func(c *Config) { c.Autoplay = true; c.StartLine = 2 })

	require.Len(t, h.player.calls, 1)
	call := h.player.last()
	assert.Equal(t, "start", call.op)
	assert.Equal(t, 2, call.index)
	assert.True(t, h.m.reader.playing)
}

func TestTogglePlay(t *testing.T) {
	h := newHarness(t, 5, nil)

	h.key(" ")
	call := h.player.last()
	assert.Equal(t, "start", call.op)
	assert.Equal(t, 0, call.index)
	assert.Equal(t, "b1", call.cfg.BookID)
	assert.Equal(t, "en", call.cfg.SelectedVoice.ID)
	assert.True(t, h.m.reader.playing)

	h.key(" ")
	assert.Equal(t, "pause", h.player.last().op)
	assert.False(t, h.m.reader.playing)
}

func TestToggleAfterOutsidePause(t *testing.T) {
	h := newHarness(t, 5, nil)

	h.key(" ")
	require.True(t, h.m.reader.playing)
	h.send(lineEndMsg{index: 2})

	// a media key paused the engine behind the reader's back
	h.player.state = playback.State{IsPlaying: true, IsPaused: true}

	h.key(" ")
	call := h.player.last()
	assert.Equal(t, "start", call.op)
	assert.Equal(t, 2, call.index)
	assert.True(t, h.m.reader.playing)
}

func TestRestartIsNotOutsidePause(t *testing.T) {
	h := newHarness(t, 5, nil)

	h.key(" ")
	h.player.state = playback.State{IsPlaying: true, IsPaused: true, IsRestarting: true}

	h.key(" ")
	assert.Equal(t, "pause", h.player.last().op)
	assert.False(t, h.m.reader.playing)
}

func TestPlayWithoutVoice(t *testing.T) {
	h := newHarness(t, 5, func(c *Config) { c.Voice = nil })

	h.key(" ")
	assert.Empty(t, h.player.calls)
	assert.Equal(t, readerStateStatusMessage, h.m.reader.state)
	assert.Equal(t, "No voice selected", h.m.reader.statusMessage)
}

func TestLineEndMovesCursor(t *testing.T) {
	h := newHarness(t, 5, nil)

	h.send(lineEndMsg{index: 2})
	assert.Equal(t, 2, h.m.reader.cursor)
	assert.Equal(t, 2, h.progress.lines["b1"])
}

func TestPlayingChange(t *testing.T) {
	h := newHarness(t, 5, nil)
	h.key(" ")

	// backend failure surfaces as a playing change only
	h.send(playingChangeMsg{playing: false})
	assert.False(t, h.m.reader.playing)
}

func TestSkipWhilePlayingResumes(t *testing.T) {
	h := newHarness(t, 5, nil)
	h.key(" ")

	h.key("n")
	call := h.player.last()
	assert.Equal(t, "resume", call.op)
	assert.Equal(t, 1, call.index)
	assert.Equal(t, 1, h.progress.lines["b1"])

	h.key("p")
	assert.Equal(t, 0, h.player.last().index)

	// already at the first line
	calls := len(h.player.calls)
	h.key("p")
	assert.Len(t, h.player.calls, calls)
}

func TestSkipWhileIdleLoadsMore(t *testing.T) {
	h := newHarness(t, 5, func(c *Config) { c.StartLine = 0; c.PageSize = 2 })
	require.Len(t, h.m.reader.playback.Lines, 2)

	h.key("n")
	h.run(h.key("n"))

	assert.Equal(t, 2, h.m.reader.cursor)
	assert.Len(t, h.m.reader.playback.Lines, 4)
	assert.Empty(t, h.player.calls)
}

func TestRateSteps(t *testing.T) {
	h := newHarness(t, 5, nil)

	h.key("+")
	assert.Equal(t, 1.25, h.m.reader.playback.Rate)
	assert.Empty(t, h.player.calls)

	for range 10 {
		h.key("+")
	}
	assert.Equal(t, maxRate, h.m.reader.playback.Rate)

	for range 20 {
		h.key("-")
	}
	assert.Equal(t, minRate, h.m.reader.playback.Rate)

	h.key(" ")
	h.key("+")
	call := h.player.last()
	assert.Equal(t, "resume", call.op)
	assert.Equal(t, 0.75, call.cfg.Rate)
}

func TestCycleVoice(t *testing.T) {
	h := newHarness(t, 5, nil)
	h.key(" ")

	h.key("v")
	call := h.player.last()
	assert.Equal(t, "resume", call.op)
	require.NotNil(t, call.cfg.SelectedVoice)
	assert.Equal(t, "alloy", call.cfg.SelectedVoice.ID)

	// disabled voices are skipped on the way round
	h.key("v")
	assert.Equal(t, "en", h.m.reader.playback.SelectedVoice.ID)
}

func TestSettingsMsg(t *testing.T) {
	h := newHarness(t, 5, nil)

	h.send(SettingsMsg{Rate: 1.5})
	assert.Equal(t, 1.5, h.m.reader.playback.Rate)
	assert.Empty(t, h.player.calls)

	h.key(" ")
	cloud := ttypes.VoiceOption{Type: ttypes.VoiceCloud, ID: "nova"}
	h.send(SettingsMsg{Voice: &cloud})
	call := h.player.last()
	assert.Equal(t, "resume", call.op)
	assert.Equal(t, ttypes.VoiceCloud, call.cfg.SelectedVoice.Type)
	assert.Equal(t, 1.5, call.cfg.Rate)

	// unchanged settings do nothing
	calls := len(h.player.calls)
	h.send(SettingsMsg{Rate: 1.5, Voice: &cloud})
	assert.Len(t, h.player.calls, calls)
}

func TestLoadMoreLinesResumes(t *testing.T) {
	h := newHarness(t, 7, func(c *Config) { c.PageSize = 2 })
	h.key(" ")
	h.send(lineEndMsg{index: 2})

	// the engine paused at line 2 because it was not loaded yet
	h.run(h.send(loadMoreLinesMsg{index: 2}))

	r := h.m.reader
	assert.Len(t, r.playback.Lines, 4)
	assert.Equal(t, -1, r.pending)
	call := h.player.last()
	assert.Equal(t, "resume", call.op)
	assert.Equal(t, 2, call.index)
	assert.Len(t, call.cfg.Lines, 4)
}

func TestLoadMoreLinesKeepsLoadingUntilIndex(t *testing.T) {
	h := newHarness(t, 9, func(c *Config) { c.PageSize = 2 })
	h.key(" ")
	h.send(lineEndMsg{index: 5})

	h.run(h.send(loadMoreLinesMsg{index: 5}))

	assert.Len(t, h.m.reader.playback.Lines, 6)
	assert.Equal(t, "resume", h.player.last().op)
}

func TestStalePageIsDropped(t *testing.T) {
	h := newHarness(t, 9, func(c *Config) { c.PageSize = 2 })

	h.send(linesLoadedMsg{offset: 0, page: book.Page{Lines: []string{"dup"}, Total: 9, HasMore: true}})
	assert.Len(t, h.m.reader.playback.Lines, 2)
	assert.NotEqual(t, "dup", h.m.reader.playback.Lines[0])
}

func TestBookCompleted(t *testing.T) {
	h := newHarness(t, 3, nil)
	h.key(" ")

	at := time.Now().Add(-time.Minute)
	h.send(bookCompletedMsg{at: at})

	assert.False(t, h.m.reader.playing)
	assert.Equal(t, at, h.progress.completed["b1"])
	assert.Contains(t, h.m.reader.statusMessage, "Finished Test Book")

	// playing again starts over
	h.send(lineEndMsg{index: 3})
	h.key(" ")
	call := h.player.last()
	assert.Equal(t, "start", call.op)
	assert.Equal(t, 0, call.index)
}

func TestEmptyBookIsFatal(t *testing.T) {
	h := newHarness(t, 0, nil)
	assert.Error(t, h.m.fatalErr)
	assert.Contains(t, h.m.View(), "ERROR")
}

func TestQuit(t *testing.T) {
	h := newHarness(t, 5, nil)
	h.key(" ")
	h.send(lineEndMsg{index: 3})

	cmd := h.key("q")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "stop", h.player.last().op)
	assert.Equal(t, 3, h.progress.lines["b1"])
	assert.Equal(t, 1, h.progress.saves)
}

func TestView(t *testing.T) {
	h := newHarness(t, 5, nil)
	h.send(lineEndMsg{index: 1})

	view := h.m.View()
	assert.Contains(t, view, "bookvoice")
	assert.Contains(t, view, "Line 1.")
	assert.Contains(t, view, "line 2/5")

	h.key("?")
	assert.True(t, strings.Contains(h.m.View(), "next voice"))
}

func TestEventsQueue(t *testing.T) {
	e := NewEvents()
	e.OnIsPlayingChange(true)
	e.OnLineEnd(4)
	e.OnLoadMoreLines(9)

	assert.Equal(t, playingChangeMsg{playing: true}, e.wait()())
	assert.Equal(t, lineEndMsg{index: 4}, e.wait()())
	assert.Equal(t, loadMoreLinesMsg{index: 9}, e.wait()())

	got := make(chan tea.Msg, 1)
	go func() { got <- e.wait()() }()
	at := time.Now()
	e.OnBookCompleted(at)
	assert.Equal(t, bookCompletedMsg{at: at}, <-got)

	e.Close()
	assert.Nil(t, e.wait()())

	var nilEvents *Events
	assert.Nil(t, nilEvents.wait())
}
