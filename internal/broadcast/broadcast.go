// Package broadcast publishes playback events to NATS so other processes
// (a web dashboard, a sync service) can follow along.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultSubject prefixes every event subject.
const DefaultSubject = "bookvoice.playback"

// Event types.
const (
	EventLineEnd       = "line_end"
	EventPlaying       = "playing"
	EventLoadMoreLines = "load_more_lines"
	EventBookCompleted = "book_completed"
)

// Event is the JSON payload published on {subject}.{bookId}.
type Event struct {
	Session string    `json:"session"`
	Book    string    `json:"book"`
	Type    string    `json:"type"`
	Index   *int      `json:"index,omitempty"`
	Playing *bool     `json:"playing,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher implements playback.Listener. Publishing is fire and forget;
// failures are logged and never reach the engine.
type Publisher struct {
	conn    *nats.Conn
	owned   bool
	subject string
	session string
	log     *log.Logger
	now     func() time.Time

	mu   sync.Mutex
	book string
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, subject string, logger *log.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bookvoice"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && logger != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	p := New(nc, subject, logger)
	p.owned = true
	return p, nil
}

// New wraps an existing connection.
func New(nc *nats.Conn, subject string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{
		conn:    nc,
		subject: strings.TrimSuffix(subject, "."),
		session: uuid.NewString(),
		log:     logger,
		now:     time.Now,
	}
}

// Session identifies this process in every event.
func (p *Publisher) Session() string { return p.session }

// SetBook selects the book that subsequent events belong to.
func (p *Publisher) SetBook(bookID string) {
	p.mu.Lock()
	p.book = bookID
	p.mu.Unlock()
}

// Subject returns the subject events for bookID are published on.
func (p *Publisher) Subject(bookID string) string {
	return p.subject + "." + subjectToken(bookID)
}

func (p *Publisher) OnLineEnd(index int) {
	p.publish(Event{Type: EventLineEnd, Index: &index})
}

func (p *Publisher) OnIsPlayingChange(playing bool) {
	p.publish(Event{Type: EventPlaying, Playing: &playing})
}

func (p *Publisher) OnLoadMoreLines(index int) {
	p.publish(Event{Type: EventLoadMoreLines, Index: &index})
}

func (p *Publisher) OnBookCompleted(at time.Time) {
	p.publish(Event{Type: EventBookCompleted, At: at})
}

func (p *Publisher) publish(ev Event) {
	p.mu.Lock()
	book := p.book
	p.mu.Unlock()
	if book == "" {
		return
	}

	ev.Session = p.session
	ev.Book = book
	if ev.At.IsZero() {
		ev.At = p.now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("failed to encode event", "type", ev.Type, "err", err)
		return
	}
	if err := p.conn.Publish(p.Subject(book), data); err != nil {
		p.log.Warn("failed to publish event", "type", ev.Type, "err", err)
	}
}

// Close flushes pending events and closes an owned connection.
func (p *Publisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	err := p.conn.FlushTimeout(2 * time.Second)
	if errors.Is(err, nats.ErrConnectionClosed) {
		err = nil
	}
	if p.owned {
		p.conn.Close()
	}
	return err
}

// subjectToken makes bookID usable as a single subject token.
func subjectToken(bookID string) string {
	if bookID == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, bookID)
}
