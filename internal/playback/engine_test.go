package playback

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bookvoice/bookvoice/internal/audio"
	"github.com/bookvoice/bookvoice/internal/cloud"
	"github.com/bookvoice/bookvoice/internal/mediasession"
	"github.com/bookvoice/bookvoice/internal/speech"
	"github.com/bookvoice/bookvoice/internal/ttypes"
	"github.com/charmbracelet/log"
	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor     = 2 * time.Second
	tick        = 5 * time.Millisecond
	resumeDelay = 40 * time.Millisecond
)

type spoken struct {
	text    string
	opts    speech.Options
	onEnd   func()
	onError func(error)
}

type fakeSpeech struct {
	mu      sync.Mutex
	calls   []spoken
	stops   int
	err     error
	onSpeak func(text string)
}

func (f *fakeSpeech) Speak(text string, opts speech.Options, onEnd func(), onError func(error)) error {
	f.mu.Lock()
	hook := f.onSpeak
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	f.calls = append(f.calls, spoken{text, opts, onEnd, onError})
	f.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	return nil
}

func (f *fakeSpeech) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSpeech) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.text)
	}
	return out
}

func (f *fakeSpeech) last() spoken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeSpeech) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type cloudCall struct {
	book  string
	index int
	voice string
	rate  float64
}

type fakeCloud struct {
	mu      sync.Mutex
	calls   []cloudCall
	onEnd   func()
	unloads int
}

func (f *fakeCloud) PlayLine(bookID string, index int, voiceID string, rate float64, onEnd func(), _ func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cloudCall{bookID, index, voiceID, rate})
	f.onEnd = onEnd
}

func (f *fakeCloud) Unload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads++
	f.onEnd = nil
}

func (f *fakeCloud) played() []cloudCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cloudCall(nil), f.calls...)
}

func (f *fakeCloud) unloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloads
}

type fakeCue struct {
	mu      sync.Mutex
	running bool
	starts  int
}

func (c *fakeCue) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.starts++
}

func (c *fakeCue) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

func (c *fakeCue) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) OnLineEnd(index int)            { r.add("lineEnd:%d", index) }
func (r *recorder) OnIsPlayingChange(playing bool) { r.add("playing:%t", playing) }
func (r *recorder) OnLoadMoreLines(index int)      { r.add("loadMore:%d", index) }
func (r *recorder) OnBookCompleted(time.Time)      { r.add("completed") }

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type harness struct {
	engine  *Engine
	speech  *fakeSpeech
	cloud   *fakeCloud
	cue     *fakeCue
	session *mediasession.FakeSession
	events  *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		speech:  &fakeSpeech{},
		cloud:   &fakeCloud{},
		cue:     &fakeCue{},
		session: mediasession.NewFakeSession(),
		events:  &recorder{},
	}
	logger := log.New(io.Discard)
	h.engine = New(Options{
		Speech:      h.speech,
		Cloud:       h.cloud,
		Cue:         h.cue,
		Bridge:      mediasession.NewBridge(h.session, logger),
		Listener:    h.events,
		ResumeDelay: resumeDelay,
		Logger:      logger,
	})
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

// flush waits until the engine has processed everything posted so far.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, h.engine.post(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("engine loop stalled")
	}
}

func book(id string, loaded, total int, voice ttypes.VoiceType) ttypes.PlaybackConfig {
	lines := make([]string, loaded)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	voiceID := "en"
	if voice == ttypes.VoiceCloud {
		voiceID = "nova"
	}
	return ttypes.PlaybackConfig{
		BookID:        id,
		Lines:         lines,
		TotalLines:    total,
		Lang:          "en",
		Rate:          1.25,
		Title:         "Book " + id,
		SelectedVoice: &ttypes.VoiceOption{Type: voice, ID: voiceID, Enabled: true},
	}
}

func TestStartSystemVoice(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(2, book("A", 5, 5, ttypes.VoiceSystem)))
	h.flush(t)

	assert.Equal(t, []string{"line 2"}, h.speech.texts())
	assert.Equal(t, speech.Options{Lang: "en", Voice: "en", Rate: 1.25}, h.speech.last().opts)
	assert.Empty(t, h.cloud.played())
	assert.Equal(t, 1, h.cloud.unloadCount())

	assert.Equal(t, []string{"playing:true"}, h.events.get())
	assert.True(t, h.cue.isRunning())
	assert.Equal(t, mediasession.StatePlaying, h.session.State())
	assert.True(t, h.engine.Snapshot().IsPlaying)
}

func TestStartCloudVoice(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(3, book("A", 5, 5, ttypes.VoiceCloud)))
	h.flush(t)

	assert.Equal(t, []cloudCall{{"A", 3, "nova", 1.25}}, h.cloud.played())
	assert.Empty(t, h.speech.texts())
	assert.Equal(t, 1, h.speech.stopCount())
}

func TestStartOutsideBookCompletes(t *testing.T) {
	for _, index := range []int{-1, 10, 11} {
		t.Run(fmt.Sprint(index), func(t *testing.T) {
			h := newHarness(t)

			require.NoError(t, h.engine.Start(index, book("A", 10, 10, ttypes.VoiceSystem)))
			h.flush(t)

			assert.Equal(t, []string{"playing:true", "playing:false", "completed"}, h.events.get())
			assert.Empty(t, h.speech.texts())
			assert.Empty(t, h.cloud.played())
			assert.False(t, h.engine.Snapshot().IsPlaying)
		})
	}
}

func TestStartUnloadedLineRequestsMore(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(5, book("A", 3, 10, ttypes.VoiceCloud)))
	h.flush(t)

	assert.Equal(t, []string{"playing:true", "loadMore:5"}, h.events.get())
	assert.Empty(t, h.speech.texts())
	assert.Empty(t, h.cloud.played())
	assert.False(t, h.cue.isRunning())

	// no retry on its own
	time.Sleep(2 * resumeDelay)
	h.flush(t)
	assert.Empty(t, h.cloud.played())
}

func TestStartWithoutConfigIsNoop(t *testing.T) {
	cfg := book("A", 3, 3, ttypes.VoiceSystem)

	for name, broken := range map[string]ttypes.PlaybackConfig{
		"no book":  {Lines: cfg.Lines, TotalLines: 3, SelectedVoice: cfg.SelectedVoice},
		"no voice": {BookID: "A", Lines: cfg.Lines, TotalLines: 3},
		"no total": {BookID: "A", Lines: cfg.Lines, SelectedVoice: cfg.SelectedVoice},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)

			require.NoError(t, h.engine.Start(0, broken))
			h.flush(t)

			assert.Equal(t, []string{"playing:true"}, h.events.get())
			assert.Empty(t, h.speech.texts())
			assert.Empty(t, h.cloud.played())
			assert.Empty(t, h.session.Metadata())
		})
	}
}

func TestNaturalEndAdvances(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(0, book("A", 3, 3, ttypes.VoiceSystem)))
	h.flush(t)

	h.speech.last().onEnd()
	h.flush(t)

	assert.Equal(t, []string{"playing:true", "lineEnd:1", "playing:true"}, h.events.get())
	assert.Equal(t, []string{"line 0", "line 1"}, h.speech.texts())
}

func TestCloudEndAdvances(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(0, book("A", 3, 3, ttypes.VoiceCloud)))
	h.flush(t)

	h.cloud.mu.Lock()
	onEnd := h.cloud.onEnd
	h.cloud.mu.Unlock()
	onEnd()
	h.flush(t)

	assert.Equal(t, []string{"playing:true", "lineEnd:1", "playing:true"}, h.events.get())
	assert.Equal(t, []cloudCall{{"A", 0, "nova", 1.25}, {"A", 1, "nova", 1.25}}, h.cloud.played())
}

func TestLastLineCompletesBook(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(9, book("A", 10, 10, ttypes.VoiceSystem)))
	h.flush(t)

	h.speech.last().onEnd()
	h.flush(t)

	assert.Equal(t, []string{
		"playing:true",
		"lineEnd:10",
		"playing:true",
		"playing:false",
		"completed",
	}, h.events.get())
	assert.Equal(t, []string{"line 9"}, h.speech.texts())
	assert.False(t, h.cue.isRunning())
}

func TestResumeCoalesces(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Resume(3, book("A", 10, 10, ttypes.VoiceSystem)))
	require.NoError(t, h.engine.Resume(5, book("A", 10, 10, ttypes.VoiceSystem)))
	h.flush(t)
	assert.True(t, h.engine.Snapshot().IsRestarting)

	require.Eventually(t, func() bool { return len(h.speech.texts()) > 0 }, waitFor, tick)
	time.Sleep(3 * resumeDelay)
	h.flush(t)

	assert.Equal(t, []string{"line 5"}, h.speech.texts())
	assert.False(t, h.engine.Snapshot().IsRestarting)
	assert.Empty(t, h.events.get())
}

func TestResumeStopsAudioImmediately(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(0, book("A", 10, 10, ttypes.VoiceSystem)))
	h.flush(t)
	first := h.speech.last()

	require.NoError(t, h.engine.Resume(4, book("A", 10, 10, ttypes.VoiceSystem)))
	h.flush(t)
	assert.GreaterOrEqual(t, h.speech.stopCount(), 1)
	assert.False(t, h.cue.isRunning())
	assert.True(t, h.engine.Snapshot().IsPlaying)

	// the interrupted line must not advance
	first.onEnd()
	h.flush(t)
	assert.NotContains(t, h.events.get(), "lineEnd:1")

	require.Eventually(t, func() bool { return len(h.speech.texts()) == 2 }, waitFor, tick)
	assert.Equal(t, "line 4", h.speech.last().text)
}

func TestPauseCancelsPendingResume(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Resume(2, book("A", 10, 10, ttypes.VoiceSystem)))
	require.NoError(t, h.engine.Pause())
	h.flush(t)
	assert.False(t, h.engine.Snapshot().IsRestarting)

	time.Sleep(3 * resumeDelay)
	h.flush(t)
	assert.Empty(t, h.speech.texts())
	assert.Equal(t, mediasession.StatePaused, h.session.State())
	assert.Empty(t, h.events.get())
}

func TestStopThenStartIgnoresStaleEnd(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(0, book("A", 10, 10, ttypes.VoiceSystem)))
	h.flush(t)
	stale := h.speech.last()

	require.NoError(t, h.engine.Stop())
	require.NoError(t, h.engine.Start(4, book("A", 10, 10, ttypes.VoiceSystem)))
	h.flush(t)

	stale.onEnd()
	h.flush(t)

	assert.Equal(t, []string{"playing:true", "playing:false", "playing:true"}, h.events.get())
	assert.Equal(t, []string{"line 0", "line 4"}, h.speech.texts())
}

func TestStopClearsSession(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(0, book("A", 3, 3, ttypes.VoiceSystem)))
	require.NoError(t, h.engine.Stop())
	h.flush(t)

	assert.Equal(t, mediasession.StateNone, h.session.State())
	for _, a := range mediasession.Actions {
		assert.False(t, h.session.Bound(a))
	}
	assert.False(t, h.cue.isRunning())
	assert.False(t, h.engine.Snapshot().IsPlaying)
}

func TestMetadataWrittenPerBook(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(0, book("A", 3, 3, ttypes.VoiceSystem)))
	require.NoError(t, h.engine.Start(1, book("A", 3, 3, ttypes.VoiceSystem)))
	h.flush(t)
	assert.Len(t, h.session.Metadata(), 1)

	require.NoError(t, h.engine.Start(0, book("B", 3, 3, ttypes.VoiceSystem)))
	h.flush(t)
	require.Len(t, h.session.Metadata(), 2)
	assert.Equal(t, "Book B", h.session.Metadata()[1].Title)
}

func TestBackendErrorStopsPlaying(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(0, book("A", 3, 3, ttypes.VoiceSystem)))
	h.flush(t)

	h.speech.last().onError(errors.New("synthesis crashed"))
	h.flush(t)

	assert.Equal(t, []string{"playing:true", "playing:false"}, h.events.get())
	assert.False(t, h.engine.Snapshot().IsPlaying)
	assert.Equal(t, []string{"line 0"}, h.speech.texts())
}

func TestSupersededErrorIgnored(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(0, book("A", 3, 3, ttypes.VoiceSystem)))
	h.flush(t)

	h.speech.last().onError(fmt.Errorf("interrupted: %w", ttypes.ErrSuperseded))
	h.flush(t)

	assert.Equal(t, []string{"playing:true"}, h.events.get())
	assert.True(t, h.engine.Snapshot().IsPlaying)
}

func TestSpeakFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	h.speech.err = errors.New("espeak missing")

	require.NoError(t, h.engine.Start(0, book("A", 3, 3, ttypes.VoiceSystem)))
	h.flush(t)

	assert.Equal(t, []string{"playing:true", "playing:false"}, h.events.get())
}

func TestMediaActions(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(1, book("A", 3, 3, ttypes.VoiceSystem)))
	h.flush(t)

	require.True(t, h.session.Trigger(mediasession.ActionNextTrack))
	h.flush(t)
	assert.Equal(t, []string{"playing:true", "lineEnd:2"}, h.events.get())
	assert.True(t, h.engine.Snapshot().IsRestarting)

	require.Eventually(t, func() bool { return len(h.speech.texts()) == 2 }, waitFor, tick)
	assert.Equal(t, "line 2", h.speech.last().text)

	require.True(t, h.session.Trigger(mediasession.ActionPause))
	h.flush(t)
	assert.Equal(t, mediasession.StatePaused, h.session.State())

	require.True(t, h.session.Trigger(mediasession.ActionPlay))
	h.flush(t)
	assert.Equal(t, "line 2", h.speech.last().text)
	assert.Len(t, h.speech.texts(), 3)
}

func TestCloseRejectsCalls(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Close())
	assert.ErrorIs(t, h.engine.Start(0, book("A", 3, 3, ttypes.VoiceSystem)), ErrClosed)
	assert.ErrorIs(t, h.engine.Close(), ErrClosed)
}

func TestListenerMayReenter(t *testing.T) {
	speechFake := &fakeSpeech{}
	events := &recorder{}
	var engine *Engine
	cfg := book("A", 2, 6, ttypes.VoiceSystem)

	engine = New(Options{
		Speech:      speechFake,
		Cloud:       &fakeCloud{},
		ResumeDelay: resumeDelay,
		Logger:      log.New(io.Discard),
		Listener: Listeners{events, ListenerFuncs{
			LoadMoreLines: func(index int) {
				more := book("A", 6, 6, ttypes.VoiceSystem)
				_ = engine.Resume(index, more)
			},
		}},
	})
	t.Cleanup(func() { _ = engine.Close() })

	require.NoError(t, engine.Start(2, cfg))
	require.Eventually(t, func() bool { return len(speechFake.texts()) == 1 }, waitFor, tick)
	assert.Equal(t, "line 2", speechFake.last().text)
	assert.Equal(t, []string{"playing:true", "loadMore:2"}, events.get())
}

// The cloud player must be detached before on-device speech starts.
func TestSwitchCloudToSystemUnloadsCloud(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("mp3"))
	}))
	t.Cleanup(srv.Close)

	player := audio.NewMockPlayer(audio.MockCallbacks{})
	logger := log.New(io.Discard)
	cloudAdapter := cloud.NewAdapter(player, cloud.Config{
		BaseURL: srv.URL,
		Client:  srv.Client(),
		Decoder: func(r io.ReadCloser) (beep.StreamCloser, beep.Format, error) {
			r.Close()
			return nopCloser{beep.Silence(10)}, beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2}, nil
		},
	}, logger)

	var mu sync.Mutex
	var sourceAtSpeak []string
	speechFake := &fakeSpeech{}
	speechFake.onSpeak = func(string) {
		mu.Lock()
		defer mu.Unlock()
		sourceAtSpeak = append(sourceAtSpeak, cloudAdapter.Source())
	}

	engine := New(Options{
		Speech:      speechFake,
		Cloud:       cloudAdapter,
		ResumeDelay: resumeDelay,
		Logger:      logger,
	})
	t.Cleanup(func() { _ = engine.Close() })

	require.NoError(t, engine.Start(0, book("A", 3, 3, ttypes.VoiceCloud)))
	require.Eventually(t, player.IsPlaying, waitFor, tick)
	assert.NotEmpty(t, cloudAdapter.Source())

	require.NoError(t, engine.Resume(1, book("A", 3, 3, ttypes.VoiceSystem)))
	require.Eventually(t, func() bool { return len(speechFake.texts()) == 1 }, waitFor, tick)

	mu.Lock()
	assert.Equal(t, []string{""}, sourceAtSpeak)
	mu.Unlock()
	assert.False(t, player.IsPlaying())
	assert.Nil(t, player.Source())
}

type nopCloser struct {
	beep.Streamer
}

func (nopCloser) Close() error { return nil }

func TestBlankLineIsSkipped(t *testing.T) {
	synth := speech.NewMockSynth()
	events := &recorder{}
	logger := log.New(io.Discard)
	engine := New(Options{
		Speech:      speech.NewAdapter(synth, speech.Config{KeepAliveInterval: -1}, logger),
		Cloud:       &fakeCloud{},
		Listener:    events,
		ResumeDelay: resumeDelay,
		Logger:      logger,
	})
	t.Cleanup(func() { _ = engine.Close() })

	cfg := book("A", 3, 3, ttypes.VoiceSystem)
	cfg.Lines = []string{"  ", "hello", "world"}
	require.NoError(t, engine.Start(0, cfg))

	require.Eventually(t, func() bool { return synth.Last() != nil }, waitFor, tick)
	assert.Equal(t, "hello", synth.Last().Utterance.Text)
	assert.Len(t, synth.Handles(), 1)
	assert.Equal(t, []string{"playing:true", "lineEnd:1", "playing:true"}, events.get())
}

func TestSnapshotReportsPause(t *testing.T) {
	h := newHarness(t)
	cfg := book("A", 3, 3, ttypes.VoiceSystem)

	require.NoError(t, h.engine.Start(0, cfg))
	h.flush(t)
	assert.False(t, h.engine.Snapshot().IsPaused)

	require.True(t, h.session.Trigger(mediasession.ActionPause))
	h.flush(t)
	state := h.engine.Snapshot()
	assert.True(t, state.IsPaused)
	assert.True(t, state.IsPlaying, "pause reports no playing change")

	require.NoError(t, h.engine.Start(0, cfg))
	h.flush(t)
	assert.False(t, h.engine.Snapshot().IsPaused)
}

func TestWaitingForLinesIsNotPaused(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start(2, book("A", 2, 6, ttypes.VoiceSystem)))
	h.flush(t)
	assert.Equal(t, []string{"playing:true", "loadMore:2"}, h.events.get())
	assert.False(t, h.engine.Snapshot().IsPaused)
}
