// Package mediasession exposes playback to the operating system's media
// controls (lock screen, media keys, desktop widgets).
//
// The OS side is an optional Session. A Bridge built over a nil Session
// turns every operation into a no-op, so callers never check for the
// capability themselves.
package mediasession

// PlaybackState is the transport state reported to the OS.
type PlaybackState string

const (
	StateNone    PlaybackState = "none"
	StatePaused  PlaybackState = "paused"
	StatePlaying PlaybackState = "playing"
)

// Action is an OS transport control.
type Action string

const (
	ActionPlay          Action = "play"
	ActionPause         Action = "pause"
	ActionNextTrack     Action = "nexttrack"
	ActionPreviousTrack Action = "previoustrack"
)

// Actions lists every action the bridge binds.
var Actions = []Action{ActionPlay, ActionPause, ActionNextTrack, ActionPreviousTrack}

// Metadata describes the book being played.
type Metadata struct {
	Title  string
	Artist string
	Album  string
}

// PositionState is measured in lines: Duration is the line count of the
// book and Position the current line.
type PositionState struct {
	Duration     float64
	PlaybackRate float64
	Position     float64
}

// Session is the OS media-session capability.
type Session interface {
	SetMetadata(Metadata) error
	SetPositionState(PositionState) error
	SetPlaybackState(PlaybackState) error

	// SetActionHandler binds fn to action; a nil fn unbinds it.
	SetActionHandler(action Action, fn func()) error
}
