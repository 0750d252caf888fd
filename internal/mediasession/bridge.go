package mediasession

import (
	"github.com/bookvoice/bookvoice/internal/ttypes"
	"github.com/charmbracelet/log"
)

// Controls are the engine operations the OS actions drive.
type Controls interface {
	Start(index int, cfg ttypes.PlaybackConfig)
	Pause()
	Resume(index int, cfg ttypes.PlaybackConfig)

	// LineEnd reports a cursor move to the caller.
	LineEnd(index int)
}

// Bridge keeps an OS Session in step with the engine. It is not safe for
// concurrent use; the engine calls it from its own loop.
type Bridge struct {
	session Session
	log     *log.Logger

	// currentBookID is the book whose metadata the OS already shows
	currentBookID string
}

// NewBridge wraps session, which may be nil.
func NewBridge(session Session, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{session: session, log: logger.WithPrefix("mediasession")}
}

// Available reports whether an OS session is attached.
func (b *Bridge) Available() bool {
	return b.session != nil
}

// Update publishes metadata for a new book, the position for index, and
// rebinds the transport actions to (index, cfg).
func (b *Bridge) Update(index int, cfg ttypes.PlaybackConfig, controls Controls) {
	if b.session == nil {
		return
	}

	if cfg.BookID != b.currentBookID {
		title := cfg.Title
		if title == "" {
			title = cfg.BookID
		}
		err := b.session.SetMetadata(Metadata{Title: title, Artist: cfg.Author, Album: cfg.Title})
		if err != nil {
			b.log.Warn("failed to set metadata", "book", cfg.BookID, "err", err)
		} else {
			b.currentBookID = cfg.BookID
		}
	}

	err := b.session.SetPositionState(PositionState{
		Duration:     float64(cfg.TotalLines),
		PlaybackRate: cfg.EffectiveRate(),
		Position:     float64(index),
	})
	if err != nil {
		b.log.Debug("failed to set position state", "err", err)
	}

	neighbour := func(delta int) func() {
		return func() {
			n := clamp(index+delta, 0, cfg.TotalLines-1)
			controls.LineEnd(n)
			controls.Resume(n, cfg)
		}
	}

	b.bind(ActionPlay, func() { controls.Start(index, cfg) })
	b.bind(ActionPause, controls.Pause)
	b.bind(ActionNextTrack, neighbour(1))
	b.bind(ActionPreviousTrack, neighbour(-1))
}

// SetPlaybackState reports the transport state.
func (b *Bridge) SetPlaybackState(state PlaybackState) {
	if b.session == nil {
		return
	}
	if err := b.session.SetPlaybackState(state); err != nil {
		b.log.Debug("failed to set playback state", "state", state, "err", err)
	}
}

// Clear unbinds every action and resets the state to none.
func (b *Bridge) Clear() {
	if b.session == nil {
		return
	}
	for _, a := range Actions {
		b.bind(a, nil)
	}
	b.SetPlaybackState(StateNone)
}

func (b *Bridge) bind(action Action, fn func()) {
	if err := b.session.SetActionHandler(action, fn); err != nil {
		b.log.Debug("failed to bind action", "action", action, "err", err)
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}
