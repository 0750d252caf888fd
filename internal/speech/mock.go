package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// MockSynth is a Synthesizer for tests. Every Speak returns a MockHandle
// that only finishes when the test calls End.
type MockSynth struct {
	// VoiceList is returned by Voices regardless of language
	VoiceList []Voice

	// SpeakErr, when set, makes Speak fail
	SpeakErr error

	// AutoStart closes Started immediately
	AutoStart bool

	mu      sync.Mutex
	handles []*MockHandle
}

// NewMockSynth returns a mock that starts utterances immediately.
func NewMockSynth() *MockSynth {
	return &MockSynth{AutoStart: true}
}

// Speak records the utterance.
func (m *MockSynth) Speak(_ context.Context, u Utterance) (Handle, error) {
	if m.SpeakErr != nil {
		return nil, m.SpeakErr
	}

	h := &MockHandle{
		Utterance: u,
		started:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	if m.AutoStart {
		h.Start()
	}

	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()
	return h, nil
}

// Voices returns VoiceList.
func (m *MockSynth) Voices(context.Context, string) ([]Voice, error) {
	return m.VoiceList, nil
}

// Handles returns every handle created so far.
func (m *MockSynth) Handles() []*MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockHandle(nil), m.handles...)
}

// Last returns the most recent handle, or nil.
func (m *MockSynth) Last() *MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.handles) == 0 {
		return nil
	}
	return m.handles[len(m.handles)-1]
}

// MockHandle is the Handle returned by MockSynth.
type MockHandle struct {
	Utterance Utterance

	started   chan struct{}
	startOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	mu  sync.Mutex
	err error

	pauses    atomic.Int64
	resumes   atomic.Int64
	cancelled atomic.Bool
}

// Start signals that audio began.
func (h *MockHandle) Start() {
	h.startOnce.Do(func() { close(h.started) })
}

// End finishes the utterance with err (nil for a natural end).
func (h *MockHandle) End(err error) {
	h.doneOnce.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *MockHandle) Started() <-chan struct{} { return h.started }
func (h *MockHandle) Done() <-chan struct{}    { return h.done }

func (h *MockHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *MockHandle) Pause() error {
	h.pauses.Add(1)
	return nil
}

func (h *MockHandle) Resume() error {
	h.resumes.Add(1)
	return nil
}

// Cancel ends the utterance as superseded.
func (h *MockHandle) Cancel() error {
	h.cancelled.Store(true)
	h.End(errCancelled)
	return nil
}

var errCancelled = errors.New("mock utterance cancelled")

// Pauses returns how many times Pause was called.
func (h *MockHandle) Pauses() int64 { return h.pauses.Load() }

// Resumes returns how many times Resume was called.
func (h *MockHandle) Resumes() int64 { return h.resumes.Load() }

// Cancelled reports whether Cancel was called.
func (h *MockHandle) Cancelled() bool { return h.cancelled.Load() }
