// Package playback implements the sequential line playback engine.
//
// An Engine decides which adapter renders a line, advances on completion,
// detects the end of the book, asks the caller for more lines, and
// coalesces resume requests. The line cursor belongs to the caller: every
// operation takes (index, config) and advancement is reported through the
// Listener.
//
// All engine state is owned by a single goroutine. Public methods enqueue
// work and return immediately, so Listener callbacks may call back into the
// engine freely.
package playback
