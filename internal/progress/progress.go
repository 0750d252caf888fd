// Package progress remembers the reading position of every book in a small
// YAML file.
package progress

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// DefaultSaveInterval bounds how often line changes reach the disk.
const DefaultSaveInterval = 5 * time.Second

// Entry is the stored state of one book.
type Entry struct {
	Line      int        `yaml:"line"`
	Updated   time.Time  `yaml:"updated"`
	Completed *time.Time `yaml:"completed,omitempty"`
}

// DefaultPath returns progress.yml in the user data directory.
func DefaultPath() (string, error) {
	p, err := gap.NewScope(gap.User, "bookvoice").DataPath("progress.yml")
	if err != nil {
		return "", fmt.Errorf("could not resolve data directory: %w", err)
	}
	return p, nil
}

// Store is safe for concurrent use.
type Store struct {
	path string
	log  *log.Logger
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
	saves   rate.Sometimes
}

// Open loads path. A missing file is an empty store.
func Open(path string, interval time.Duration, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = DefaultSaveInterval
	}

	s := &Store{
		path:    path,
		log:     logger,
		now:     time.Now,
		entries: make(map[string]Entry),
		saves:   rate.Sometimes{First: 1, Interval: interval},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("unable to read progress file: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("unable to parse progress file %s: %w", path, err)
	}
	if s.entries == nil {
		s.entries = make(map[string]Entry)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the entry for bookID.
func (s *Store) Get(bookID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[bookID]
	return e, ok
}

// Line returns the stored line for bookID, or 0.
func (s *Store) Line(bookID string) int {
	e, _ := s.Get(bookID)
	return e.Line
}

// SetLine records the current line and clears a completion mark when the
// line changes. The file is rewritten at most once per save interval; Save
// flushes whatever is pending.
func (s *Store) SetLine(bookID string, line int) error {
	if bookID == "" || line < 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[bookID]
	if e.Line == line && !e.Updated.IsZero() {
		return nil
	}
	e.Line = line
	e.Updated = s.now()
	// moving again starts a new read-through
	e.Completed = nil
	s.entries[bookID] = e
	s.dirty = true

	var err error
	s.saves.Do(func() { err = s.writeLocked() })
	return err
}

// Complete marks bookID as finished at the given time and saves.
func (s *Store) Complete(bookID string, at time.Time) error {
	if bookID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[bookID]
	e.Updated = s.now()
	e.Completed = &at
	s.entries[bookID] = e
	s.dirty = true
	return s.writeLocked()
}

// Save writes pending changes.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.writeLocked()
}

// writeLocked replaces the file through a temporary sibling.
func (s *Store) writeLocked() error {
	data, err := yaml.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("unable to encode progress: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("unable to create progress directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("unable to write progress file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("unable to replace progress file: %w", err)
	}

	s.dirty = false
	s.log.Debug("progress saved", "path", s.path, "books", len(s.entries))
	return nil
}
