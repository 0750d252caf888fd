package ui

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Engine events, delivered to the reader as tea messages.
type (
	lineEndMsg       struct{ index int }
	playingChangeMsg struct{ playing bool }
	loadMoreLinesMsg struct{ index int }
	bookCompletedMsg struct{ at time.Time }
)

// Events implements playback.Listener by queueing engine callbacks for the
// reader. Callbacks never block, so the engine goroutine is never held up
// by rendering.
type Events struct {
	mu     sync.Mutex
	queue  []tea.Msg
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewEvents returns an empty queue.
func NewEvents() *Events {
	return &Events{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (e *Events) OnLineEnd(index int)            { e.push(lineEndMsg{index}) }
func (e *Events) OnIsPlayingChange(playing bool) { e.push(playingChangeMsg{playing}) }
func (e *Events) OnLoadMoreLines(index int)      { e.push(loadMoreLinesMsg{index}) }
func (e *Events) OnBookCompleted(at time.Time)   { e.push(bookCompletedMsg{at}) }

func (e *Events) push(msg tea.Msg) {
	e.mu.Lock()
	e.queue = append(e.queue, msg)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Close releases a pending wait.
func (e *Events) Close() {
	e.once.Do(func() { close(e.done) })
}

// wait returns a command that delivers the next event. The reader re-arms
// it after every event it handles.
func (e *Events) wait() tea.Cmd {
	if e == nil {
		return nil
	}
	return func() tea.Msg {
		for {
			e.mu.Lock()
			if len(e.queue) > 0 {
				msg := e.queue[0]
				e.queue = e.queue[1:]
				e.mu.Unlock()
				return msg
			}
			e.mu.Unlock()

			select {
			case <-e.notify:
			case <-e.done:
				return nil
			}
		}
	}
}
