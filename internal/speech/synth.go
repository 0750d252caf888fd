package speech

import (
	"context"
)

// Utterance is one line of text plus the voice settings to speak it with.
type Utterance struct {
	Text  string
	Lang  string
	Voice string

	// Rate is a multiplier on the backend's normal speed
	Rate float64

	// Pitch and Volume are in 0..2, 1 being the backend default
	Pitch  float64
	Volume float64
}

// Handle controls one in-flight utterance.
type Handle interface {
	// Started is closed once audio starts.
	Started() <-chan struct{}

	// Done is closed when the utterance ends, fails or is cancelled.
	Done() <-chan struct{}

	// Err reports why the utterance ended; valid after Done is closed.
	Err() error

	Pause() error
	Resume() error
	Cancel() error
}

// Voice is one entry of the synthesizer's voice list.
type Voice struct {
	Language string
	Name     string
	Gender   string
	File     string
}

// Synthesizer is the on-device speech capability.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance) (Handle, error)
	Voices(ctx context.Context, lang string) ([]Voice, error)
}
