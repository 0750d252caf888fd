package playback

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bookvoice/bookvoice/internal/mediasession"
	"github.com/bookvoice/bookvoice/internal/speech"
	"github.com/bookvoice/bookvoice/internal/ttypes"
	"github.com/bookvoice/bookvoice/internal/voices"
	"github.com/charmbracelet/log"
)

// DefaultResumeDelay lets audio pipelines settle before a resumed line plays.
const DefaultResumeDelay = time.Second

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("playback engine is closed")

// SpeechAdapter renders a line with on-device synthesis. *speech.Adapter
// implements it.
type SpeechAdapter interface {
	Speak(text string, opts speech.Options, onEnd func(), onError func(error)) error
	Stop()
}

// CloudAdapter plays a pre-rendered line. *cloud.Adapter implements it.
type CloudAdapter interface {
	PlayLine(bookID string, index int, voiceID string, rate float64, onEnd func(), onError func(error))
	Unload()
}

// Cue is the low-volume keep-alive sound played while lines are active.
// *audio.Cue implements it.
type Cue interface {
	Start()
	Stop()
}

// Options wires an Engine. Speech and Cloud are required; everything else
// is optional.
type Options struct {
	Speech SpeechAdapter
	Cloud  CloudAdapter

	// Cue is started on every line and stopped on pause or stop
	Cue Cue

	// Bridge mirrors playback to the OS media controls
	Bridge *mediasession.Bridge

	// Catalog answers Voices
	Catalog *voices.Catalog

	Listener Listener
	Observer Observer

	// ResumeDelay is the Resume debounce; zero uses DefaultResumeDelay
	ResumeDelay time.Duration

	Logger *log.Logger
}

// State is a point-in-time view of the engine.
type State struct {
	IsPlaying    bool
	IsRestarting bool

	// IsPaused is set by Pause, from the caller or the OS media controls,
	// and cleared when the next line starts. IsPlaying is left alone, and
	// waiting for unloaded lines does not count as paused.
	IsPaused bool
}

// Engine is the playback state machine. Create it with New and release it
// with Close.
type Engine struct {
	speech   SpeechAdapter
	cloud    CloudAdapter
	cue      Cue
	bridge   *mediasession.Bridge
	catalog  *voices.Catalog
	listener Listener
	observer Observer
	delay    time.Duration
	log      *log.Logger

	mailbox *mailbox
	done    chan struct{}

	// Loop-owned state
	isPlaying    bool
	isRestarting bool
	token        uint64 // bumped whenever the active line is invalidated
	resumeTimer  *time.Timer
	resumeSeq    uint64

	// Mirrors for Snapshot
	playingFlag    atomic.Bool
	restartingFlag atomic.Bool
	pausedFlag     atomic.Bool
}

// New creates an engine and starts its loop.
func New(opts Options) *Engine {
	if opts.Speech == nil || opts.Cloud == nil {
		panic("playback: Speech and Cloud adapters are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	bridge := opts.Bridge
	if bridge == nil {
		bridge = mediasession.NewBridge(nil, logger)
	}
	listener := opts.Listener
	if listener == nil {
		listener = ListenerFuncs{}
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	delay := opts.ResumeDelay
	if delay <= 0 {
		delay = DefaultResumeDelay
	}

	e := &Engine{
		speech:   opts.Speech,
		cloud:    opts.Cloud,
		cue:      opts.Cue,
		bridge:   bridge,
		catalog:  opts.Catalog,
		listener: listener,
		observer: observer,
		delay:    delay,
		log:      logger.WithPrefix("playback"),
		mailbox:  newMailbox(),
		done:     make(chan struct{}),
	}

	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer close(e.done)

	for range e.mailbox.wake {
		for _, fn := range e.mailbox.take() {
			fn()
		}
		if e.mailbox.isClosed() {
			// anything posted between take and close
			for _, fn := range e.mailbox.take() {
				fn()
			}
			return
		}
	}
}

func (e *Engine) post(fn func()) error {
	if !e.mailbox.post(fn) {
		return ErrClosed
	}
	return nil
}

// Start marks playback as playing and plays the line at index.
func (e *Engine) Start(index int, cfg ttypes.PlaybackConfig) error {
	return e.post(func() { e.start(index, cfg) })
}

// Pause stops audio without reporting a playing change.
func (e *Engine) Pause() error {
	return e.post(func() {
		e.pause()
		e.pausedFlag.Store(true)
	})
}

// Stop ends playback, clears the OS media session and reports not playing.
func (e *Engine) Stop() error {
	return e.post(e.stop)
}

// Resume stops audio now and plays index after the resume delay. A later
// Resume, Pause or Stop cancels a pending one.
func (e *Engine) Resume(index int, cfg ttypes.PlaybackConfig) error {
	return e.post(func() { e.resume(index, cfg) })
}

// Voices returns the on-device voices for lang.
func (e *Engine) Voices(ctx context.Context, lang string) ([]ttypes.VoiceOption, error) {
	if e.catalog == nil {
		return nil, nil
	}
	return e.catalog.Native(ctx, lang)
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() State {
	return State{
		IsPlaying:    e.playingFlag.Load(),
		IsRestarting: e.restartingFlag.Load(),
		IsPaused:     e.pausedFlag.Load(),
	}
}

// Close stops playback and ends the loop. It must not be called from a
// Listener callback.
func (e *Engine) Close() error {
	if err := e.post(e.stop); err != nil {
		return err
	}
	e.mailbox.close()
	<-e.done
	return nil
}

func (e *Engine) start(index int, cfg ttypes.PlaybackConfig) {
	e.setPlaying(true)
	e.play(index, cfg)
}

func (e *Engine) play(index int, cfg ttypes.PlaybackConfig) {
	if !cfg.Ready() {
		e.log.Debug("playback not configured", "book", cfg.BookID, "total", cfg.TotalLines)
		return
	}

	if !cfg.InBook(index) {
		e.log.Info("book completed", "book", cfg.BookID, "index", index)
		e.stopCue()
		e.bridge.SetPlaybackState(mediasession.StatePaused)
		e.setPlaying(false)
		e.listener.OnBookCompleted(time.Now())
		return
	}

	if !cfg.Loaded(index) {
		e.log.Debug("line not loaded", "book", cfg.BookID, "index", index, "loaded", len(cfg.Lines))
		e.pause()
		e.listener.OnLoadMoreLines(index)
		return
	}

	e.pausedFlag.Store(false)
	if e.cue != nil {
		e.cue.Start()
	}
	e.bridge.Update(index, cfg, controls{e})

	e.token++
	token := e.token
	voice := *cfg.SelectedVoice

	onEnd := func() {
		_ = e.post(func() { e.lineEnded(token, index, cfg) })
	}
	onError := func(err error) {
		_ = e.post(func() { e.lineFailed(token, index, cfg, err) })
	}

	switch voice.Type {
	case ttypes.VoiceCloud:
		e.speech.Stop()
		e.cloud.PlayLine(cfg.BookID, index, voice.ID, cfg.EffectiveRate(), onEnd, onError)

	default:
		e.cloud.Unload()
		err := e.speech.Speak(cfg.Lines[index], speech.Options{
			Lang:  cfg.Lang,
			Voice: voice.ID,
			Rate:  cfg.EffectiveRate(),
		}, onEnd, onError)
		if err != nil {
			e.lineFailed(token, index, cfg, err)
			return
		}
	}

	e.log.Debug("line started", "book", cfg.BookID, "index", index, "voice", voice.Type)
	e.observer.LineStarted(voice.Type)
	e.bridge.SetPlaybackState(mediasession.StatePlaying)
}

// lineEnded advances after a natural end, unless the line was superseded.
func (e *Engine) lineEnded(token uint64, index int, cfg ttypes.PlaybackConfig) {
	voice := cfg.SelectedVoice.Type
	if token != e.token {
		e.observer.Superseded(voice)
		return
	}
	e.observer.LineCompleted(voice)

	next := index + 1
	e.listener.OnLineEnd(next)
	e.start(next, cfg)
}

func (e *Engine) lineFailed(token uint64, index int, cfg ttypes.PlaybackConfig, err error) {
	voice := cfg.SelectedVoice.Type
	if ttypes.IsSuperseded(err) || token != e.token {
		e.observer.Superseded(voice)
		return
	}

	e.log.Error("playback failed", "err", &ttypes.PlaybackError{Op: "play", Voice: voice, Index: index, Err: err})
	e.observer.BackendError(voice)

	e.token++
	e.stopCue()
	e.bridge.SetPlaybackState(mediasession.StatePaused)
	e.setPlaying(false)
}

func (e *Engine) pause() {
	e.cancelResume()
	e.stopCue()
	e.stopAdapters()
	e.bridge.SetPlaybackState(mediasession.StatePaused)
}

func (e *Engine) stop() {
	e.cancelResume()
	e.stopCue()
	e.stopAdapters()
	e.bridge.Clear()
	e.setPlaying(false)
}

func (e *Engine) resume(index int, cfg ttypes.PlaybackConfig) {
	e.pause()
	e.setRestarting(true)

	e.resumeSeq++
	seq := e.resumeSeq
	e.resumeTimer = time.AfterFunc(e.delay, func() {
		_ = e.post(func() {
			if seq != e.resumeSeq {
				return
			}
			e.resumeTimer = nil
			e.setRestarting(false)
			e.play(index, cfg)
		})
	})
	e.observer.ResumeScheduled()
}

// cancelResume drops a pending resume; a timer that already fired is
// neutralised by the sequence check.
func (e *Engine) cancelResume() {
	if e.resumeTimer != nil {
		e.resumeTimer.Stop()
		e.resumeTimer = nil
	}
	e.resumeSeq++
	e.setRestarting(false)
}

func (e *Engine) stopAdapters() {
	e.token++
	e.speech.Stop()
	e.cloud.Unload()
}

func (e *Engine) stopCue() {
	if e.cue != nil {
		e.cue.Stop()
	}
}

func (e *Engine) setPlaying(playing bool) {
	if e.isPlaying != playing {
		e.observer.PlayingChanged(playing)
	}
	e.isPlaying = playing
	e.playingFlag.Store(playing)
	e.listener.OnIsPlayingChange(playing)
}

func (e *Engine) setRestarting(restarting bool) {
	e.isRestarting = restarting
	e.restartingFlag.Store(restarting)
}

// controls routes OS media actions back through the mailbox.
type controls struct {
	e *Engine
}

func (c controls) Start(index int, cfg ttypes.PlaybackConfig) {
	_ = c.e.Start(index, cfg)
}

func (c controls) Pause() {
	_ = c.e.Pause()
}

func (c controls) Resume(index int, cfg ttypes.PlaybackConfig) {
	_ = c.e.Resume(index, cfg)
}

func (c controls) LineEnd(index int) {
	_ = c.e.post(func() { c.e.listener.OnLineEnd(index) })
}
