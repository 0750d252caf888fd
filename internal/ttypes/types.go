// Package ttypes holds the playback data model: voice types and options,
// the per-call PlaybackConfig, the on-device speech status and the errors
// that mark superseded or failed lines.
package ttypes

import (
	"errors"
	"fmt"
)

// ErrSuperseded marks a failure caused by a newer request interrupting an older one.
// Adapters wrap it; the engine ignores anything that matches it with errors.Is.
var ErrSuperseded = errors.New("operation superseded")

// VoiceType selects the adapter that renders a line.
type VoiceType string

const (
	// VoiceSystem renders lines with on-device speech synthesis.
	VoiceSystem VoiceType = "system"

	// VoiceCloud plays pre-rendered per-line audio fetched by URL.
	VoiceCloud VoiceType = "cloud"
)

// String returns the string representation of the voice type.
func (v VoiceType) String() string {
	return string(v)
}

// ParseVoiceType converts a config value into a VoiceType.
func ParseVoiceType(s string) (VoiceType, error) {
	switch VoiceType(s) {
	case VoiceSystem, VoiceCloud:
		return VoiceType(s), nil
	default:
		return "", fmt.Errorf("unknown voice type %q (want %q or %q)", s, VoiceSystem, VoiceCloud)
	}
}

// VoiceOption describes one selectable voice.
type VoiceOption struct {
	// Type decides which adapter handles playback
	Type VoiceType

	// ID is the backend identifier (espeak voice name or cloud voice id)
	ID string

	// DisplayName is shown to the user
	DisplayName string

	// Enabled is false for voices that are listed but cannot be used
	Enabled bool
}

// DefaultRate is used when a PlaybackConfig carries no rate.
const DefaultRate = 1.0

// PlaybackConfig is supplied by the caller on every call and treated as immutable.
type PlaybackConfig struct {
	// BookID identifies the book for metadata caching and cloud audio URLs
	BookID string

	// Lines is the loaded prefix of the book
	Lines []string

	// TotalLines is the line count of the whole book
	TotalLines int

	// Lang is a BCP 47 language code
	Lang string

	// Rate is the speech rate multiplier
	Rate float64

	// SelectedVoice picks the adapter; nil means playback is not configured
	SelectedVoice *VoiceOption

	// Title and Author are reported to the OS media session
	Title  string
	Author string
}

// EffectiveRate returns Rate, or DefaultRate when unset.
func (c PlaybackConfig) EffectiveRate() float64 {
	if c.Rate <= 0 {
		return DefaultRate
	}
	return c.Rate
}

// Ready reports whether the config carries everything play needs.
func (c PlaybackConfig) Ready() bool {
	return c.BookID != "" && c.TotalLines > 0 && c.SelectedVoice != nil
}

// Loaded reports whether the line at index is present in Lines.
func (c PlaybackConfig) Loaded(index int) bool {
	return index >= 0 && index < len(c.Lines)
}

// InBook reports whether index addresses a line of the book.
func (c PlaybackConfig) InBook(index int) bool {
	return index >= 0 && index < c.TotalLines
}

// WithLines returns a copy of the config with a new loaded line prefix.
func (c PlaybackConfig) WithLines(lines []string, total int) PlaybackConfig {
	c.Lines = lines
	if total > 0 {
		c.TotalLines = total
	}
	return c
}

// Status represents the on-device speech adapter state.
type Status int

const (
	// StatusIdle indicates nothing is being spoken
	StatusIdle Status = iota

	// StatusSpeaking indicates an utterance is producing audio
	StatusSpeaking

	// StatusPaused indicates an utterance is suspended
	StatusPaused
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSpeaking:
		return "speaking"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// PlaybackError carries context for a backend failure.
type PlaybackError struct {
	Op    string
	Voice VoiceType
	Index int
	Err   error
}

// Error implements the error interface.
func (e *PlaybackError) Error() string {
	return fmt.Sprintf("%s %s line %d: %v", e.Op, e.Voice, e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// IsSuperseded reports whether err is an expected interruption.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded)
}
