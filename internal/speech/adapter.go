package speech

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bookvoice/bookvoice/internal/ttypes"
	"github.com/charmbracelet/log"
)

// DefaultKeepAliveInterval is how often a speaking utterance is pulsed.
// Some audio stacks silently drop synthesis after roughly 15 s of
// continuous output; re-validate the value per platform.
const DefaultKeepAliveInterval = 10 * time.Second

// Options configures a single utterance.
type Options struct {
	Lang   string
	Voice  string
	Rate   float64
	Pitch  float64
	Volume float64
}

// Config configures an Adapter.
type Config struct {
	// KeepAliveInterval is the pulse period. Zero uses the default,
	// a negative value disables the pulse.
	KeepAliveInterval time.Duration
}

// Adapter speaks one utterance at a time.
type Adapter struct {
	synth     Synthesizer
	keepAlive time.Duration
	log       *log.Logger

	mu      sync.Mutex
	gen     uint64
	handle  Handle
	cancel  context.CancelFunc
	quit    chan struct{}
	status  ttypes.Status
	pulsing bool
}

// NewAdapter wraps a synthesizer.
func NewAdapter(synth Synthesizer, config Config, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	interval := config.KeepAliveInterval
	if interval == 0 {
		interval = DefaultKeepAliveInterval
	}
	return &Adapter{
		synth:     synth,
		keepAlive: interval,
		log:       logger.WithPrefix("speech"),
	}
}

// Speak cancels any in-flight utterance and starts text. Exactly one of
// onEnd or onError is called when the utterance finishes on its own; neither
// is called if it is stopped or replaced first.
func (a *Adapter) Speak(text string, opts Options, onEnd func(), onError func(error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()
	a.gen++
	gen := a.gen

	if strings.TrimSpace(text) == "" {
		// nothing to say: the line ends at once
		go a.endSilent(gen, onEnd)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	h, err := a.synth.Speak(ctx, Utterance{
		Text:   text,
		Lang:   opts.Lang,
		Voice:  opts.Voice,
		Rate:   opts.Rate,
		Pitch:  opts.Pitch,
		Volume: opts.Volume,
	})
	if err != nil {
		cancel()
		return err
	}

	a.handle = h
	a.cancel = cancel
	a.quit = make(chan struct{})
	a.status = ttypes.StatusSpeaking

	go a.watch(gen, h, a.quit, onEnd, onError)
	return nil
}

// endSilent reports a blank line as spoken unless it was replaced or
// stopped in the meantime.
func (a *Adapter) endSilent(gen uint64, onEnd func()) {
	a.mu.Lock()
	current := a.gen == gen
	a.mu.Unlock()

	if current && onEnd != nil {
		onEnd()
	}
}

// watch runs the keep-alive pulse and reports how the utterance ended.
func (a *Adapter) watch(gen uint64, h Handle, quit <-chan struct{}, onEnd func(), onError func(error)) {
	var ticker *time.Ticker
	var tick <-chan time.Time
	started := h.Started()

	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-started:
			started = nil
			if a.keepAlive > 0 {
				ticker = time.NewTicker(a.keepAlive)
				tick = ticker.C
				a.setPulsing(gen, true)
			}

		case <-tick:
			a.pulse(gen, h)

		case <-quit:
			return

		case <-h.Done():
			a.mu.Lock()
			if a.gen != gen {
				a.mu.Unlock()
				return
			}
			a.resetLocked()
			a.mu.Unlock()

			if err := h.Err(); err != nil {
				a.log.Warn("utterance failed", "err", err)
				if onError != nil {
					onError(err)
				}
				return
			}
			if onEnd != nil {
				onEnd()
			}
			return
		}
	}
}

// pulse performs an instantaneous pause/resume on a speaking utterance.
func (a *Adapter) pulse(gen uint64, h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.gen != gen || a.status != ttypes.StatusSpeaking {
		return
	}
	if err := h.Pause(); err != nil {
		a.log.Debug("keep-alive pause failed", "err", err)
		return
	}
	if err := h.Resume(); err != nil {
		a.log.Debug("keep-alive resume failed", "err", err)
	}
}

func (a *Adapter) setPulsing(gen uint64, on bool) {
	a.mu.Lock()
	if a.gen == gen {
		a.pulsing = on
	}
	a.mu.Unlock()
}

// Pause suspends the utterance if one is speaking.
func (a *Adapter) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != ttypes.StatusSpeaking {
		return nil
	}
	if err := a.handle.Pause(); err != nil {
		return err
	}
	a.status = ttypes.StatusPaused
	return nil
}

// Resume continues a paused utterance.
func (a *Adapter) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != ttypes.StatusPaused {
		return nil
	}
	if err := a.handle.Resume(); err != nil {
		return err
	}
	a.status = ttypes.StatusSpeaking
	return nil
}

// Stop cancels the pulse and the utterance. It is safe to call when idle.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Adapter) stopLocked() {
	a.gen++
	if a.handle == nil {
		return
	}
	if err := a.handle.Cancel(); err != nil {
		a.log.Debug("cancel failed", "err", err)
	}
	a.resetLocked()
}

func (a *Adapter) resetLocked() {
	if a.quit != nil {
		close(a.quit)
		a.quit = nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.handle = nil
	a.pulsing = false
	a.status = ttypes.StatusIdle
}

// Status reports idle, speaking or paused.
func (a *Adapter) Status() ttypes.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// PulseActive reports whether a keep-alive pulse is scheduled.
func (a *Adapter) PulseActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pulsing
}

// Voices lists the synthesizer's voices for lang.
func (a *Adapter) Voices(ctx context.Context, lang string) ([]Voice, error) {
	return a.synth.Voices(ctx, lang)
}
