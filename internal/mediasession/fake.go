package mediasession

import "sync"

// FakeSession records what a Bridge writes. Handlers can be fired with Trigger.
type FakeSession struct {
	mu       sync.Mutex
	metadata []Metadata
	position []PositionState
	state    PlaybackState
	handlers map[Action]func()

	// PositionErr, when set, is returned by SetPositionState
	PositionErr error
}

// NewFakeSession returns an empty recorder.
func NewFakeSession() *FakeSession {
	return &FakeSession{handlers: make(map[Action]func())}
}

func (f *FakeSession) SetMetadata(m Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata = append(f.metadata, m)
	return nil
}

func (f *FakeSession) SetPositionState(p PositionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PositionErr != nil {
		return f.PositionErr
	}
	f.position = append(f.position, p)
	return nil
}

func (f *FakeSession) SetPlaybackState(s PlaybackState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
	return nil
}

func (f *FakeSession) SetActionHandler(a Action, fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn == nil {
		delete(f.handlers, a)
		return nil
	}
	f.handlers[a] = fn
	return nil
}

// Metadata returns every metadata write.
func (f *FakeSession) Metadata() []Metadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Metadata(nil), f.metadata...)
}

// Positions returns every position write.
func (f *FakeSession) Positions() []PositionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PositionState(nil), f.position...)
}

// State returns the last playback state.
func (f *FakeSession) State() PlaybackState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Bound reports whether a handler is bound for action.
func (f *FakeSession) Bound(action Action) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[action] != nil
}

// Trigger fires the handler bound to action and reports whether one was bound.
func (f *FakeSession) Trigger(action Action) bool {
	f.mu.Lock()
	fn := f.handlers[action]
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}
