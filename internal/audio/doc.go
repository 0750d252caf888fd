// Package audio provides cross-platform PCM output using the oto/v3 library.
// One oto context is created per process; it backs a streaming Player used for
// per-line cloud audio and a looping Cue that keeps the output pipeline awake.
package audio
