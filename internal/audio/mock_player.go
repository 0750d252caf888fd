package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// MockPlayer mirrors Player without touching an audio device. Tests drive
// completion explicitly with Finish.
type MockPlayer struct {
	state atomic.Int32 // PlayerState

	source io.Reader
	done   func(error)
	volume float64

	// Test callbacks
	callbacks MockCallbacks

	mu sync.Mutex

	// Metrics for testing
	playCount   atomic.Int64
	pauseCount  atomic.Int64
	resumeCount atomic.Int64
	stopCount   atomic.Int64
}

// MockCallbacks provides hooks for testing.
type MockCallbacks struct {
	OnPlay   func(src io.Reader)
	OnPause  func()
	OnResume func()
	OnStop   func()
}

// NewMockPlayer creates a new mock player with custom callbacks.
func NewMockPlayer(callbacks MockCallbacks) *MockPlayer {
	mp := &MockPlayer{volume: 1.0, callbacks: callbacks}
	mp.state.Store(int32(StateStopped))
	return mp
}

// Play records src and waits for Finish.
func (mp *MockPlayer) Play(src io.Reader, done func(error)) error {
	if src == nil {
		return errors.New("source is nil")
	}

	mp.mu.Lock()
	if PlayerState(mp.state.Load()) == StateClosed {
		mp.mu.Unlock()
		return ErrClosed
	}
	mp.source = src
	mp.done = done
	mp.state.Store(int32(StatePlaying))
	mp.playCount.Add(1)
	cb := mp.callbacks.OnPlay
	mp.mu.Unlock()

	if cb != nil {
		cb(src)
	}
	return nil
}

// Finish simulates the current source draining (err == nil) or failing.
// It reports whether a source was playing.
func (mp *MockPlayer) Finish(err error) bool {
	mp.mu.Lock()
	done := mp.done
	if mp.source == nil {
		mp.mu.Unlock()
		return false
	}
	mp.source = nil
	mp.done = nil
	mp.state.Store(int32(StateStopped))
	mp.mu.Unlock()

	if done != nil {
		done(err)
	}
	return true
}

// Pause pauses the current playback.
func (mp *MockPlayer) Pause() error {
	mp.mu.Lock()
	current := PlayerState(mp.state.Load())
	if current != StatePlaying {
		mp.mu.Unlock()
		return fmt.Errorf("cannot pause: player is %s", current)
	}
	mp.state.Store(int32(StatePaused))
	mp.pauseCount.Add(1)
	cb := mp.callbacks.OnPause
	mp.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

// Resume resumes paused playback.
func (mp *MockPlayer) Resume() error {
	mp.mu.Lock()
	current := PlayerState(mp.state.Load())
	if current != StatePaused {
		mp.mu.Unlock()
		return fmt.Errorf("cannot resume: player is %s", current)
	}
	mp.state.Store(int32(StatePlaying))
	mp.resumeCount.Add(1)
	cb := mp.callbacks.OnResume
	mp.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

// Stop drops the current source without invoking its completion.
func (mp *MockPlayer) Stop() error {
	mp.mu.Lock()
	current := PlayerState(mp.state.Load())
	if current == StateStopped || current == StateClosed {
		mp.mu.Unlock()
		return nil
	}
	mp.source = nil
	mp.done = nil
	mp.state.Store(int32(StateStopped))
	mp.stopCount.Add(1)
	cb := mp.callbacks.OnStop
	mp.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

// IsPlaying returns whether audio is currently playing.
func (mp *MockPlayer) IsPlaying() bool {
	return PlayerState(mp.state.Load()) == StatePlaying
}

// State returns the current player state.
func (mp *MockPlayer) State() PlayerState {
	return PlayerState(mp.state.Load())
}

// Source returns the reader currently attached.
func (mp *MockPlayer) Source() io.Reader {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.source
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (mp *MockPlayer) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}
	mp.mu.Lock()
	mp.volume = volume
	mp.mu.Unlock()
	return nil
}

// Close releases the mock.
func (mp *MockPlayer) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.source = nil
	mp.done = nil
	mp.state.Store(int32(StateClosed))
	return nil
}

// PlayCount returns how many times Play succeeded.
func (mp *MockPlayer) PlayCount() int64 { return mp.playCount.Load() }

// PauseCount returns how many times Pause succeeded.
func (mp *MockPlayer) PauseCount() int64 { return mp.pauseCount.Load() }

// ResumeCount returns how many times Resume succeeded.
func (mp *MockPlayer) ResumeCount() int64 { return mp.resumeCount.Load() }

// StopCount returns how many times Stop detached a source.
func (mp *MockPlayer) StopCount() int64 { return mp.stopCount.Load() }
