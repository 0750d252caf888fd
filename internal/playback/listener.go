package playback

import (
	"time"

	"github.com/bookvoice/bookvoice/internal/ttypes"
)

// Listener receives engine events. Callbacks run on the engine goroutine
// and must not block; calling back into the engine is allowed.
type Listener interface {
	// OnLineEnd reports that the current line moved to index.
	OnLineEnd(index int)

	// OnIsPlayingChange reports playback starting or stopping.
	OnIsPlayingChange(playing bool)

	// OnLoadMoreLines reports that playback is blocked until lines at or
	// after index are loaded.
	OnLoadMoreLines(index int)

	// OnBookCompleted reports that the cursor ran past the last line.
	OnBookCompleted(at time.Time)
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	LineEnd         func(index int)
	IsPlayingChange func(playing bool)
	LoadMoreLines   func(index int)
	BookCompleted   func(at time.Time)
}

func (f ListenerFuncs) OnLineEnd(index int) {
	if f.LineEnd != nil {
		f.LineEnd(index)
	}
}

func (f ListenerFuncs) OnIsPlayingChange(playing bool) {
	if f.IsPlayingChange != nil {
		f.IsPlayingChange(playing)
	}
}

func (f ListenerFuncs) OnLoadMoreLines(index int) {
	if f.LoadMoreLines != nil {
		f.LoadMoreLines(index)
	}
}

func (f ListenerFuncs) OnBookCompleted(at time.Time) {
	if f.BookCompleted != nil {
		f.BookCompleted(at)
	}
}

// Listeners fans events out in order.
type Listeners []Listener

func (ls Listeners) OnLineEnd(index int) {
	for _, l := range ls {
		l.OnLineEnd(index)
	}
}

func (ls Listeners) OnIsPlayingChange(playing bool) {
	for _, l := range ls {
		l.OnIsPlayingChange(playing)
	}
}

func (ls Listeners) OnLoadMoreLines(index int) {
	for _, l := range ls {
		l.OnLoadMoreLines(index)
	}
}

func (ls Listeners) OnBookCompleted(at time.Time) {
	for _, l := range ls {
		l.OnBookCompleted(at)
	}
}

// Observer receives engine internals for metrics.
type Observer interface {
	LineStarted(voice ttypes.VoiceType)
	LineCompleted(voice ttypes.VoiceType)
	Superseded(voice ttypes.VoiceType)
	BackendError(voice ttypes.VoiceType)
	ResumeScheduled()
	PlayingChanged(playing bool)
}

type nopObserver struct{}

func (nopObserver) LineStarted(ttypes.VoiceType)   {}
func (nopObserver) LineCompleted(ttypes.VoiceType) {}
func (nopObserver) Superseded(ttypes.VoiceType)    {}
func (nopObserver) BackendError(ttypes.VoiceType)  {}
func (nopObserver) ResumeScheduled()               {}
func (nopObserver) PlayingChanged(bool)            {}
