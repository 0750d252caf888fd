package book

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// FileSource serves books loaded from local text or markdown files.
type FileSource struct {
	splitter *Splitter

	mu    sync.RWMutex
	books map[string]*fileBook
}

type fileBook struct {
	info  Info
	lines []string
}

// NewFileSource returns an empty source.
func NewFileSource() *FileSource {
	return &FileSource{
		splitter: NewSplitter(),
		books:    make(map[string]*fileBook),
	}
}

// Open loads path and registers it under an id derived from the file name.
// Files ending in .zst are decompressed first; .md and .markdown files are
// read as markdown, anything else as plain text.
func (s *FileSource) Open(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open book: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	var r io.Reader = f
	if strings.HasSuffix(name, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return Info{}, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
		name = strings.TrimSuffix(name, ".zst")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read book: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	info := Info{ID: Slug(stem), Title: stem}

	var lines []string
	switch ext {
	case ".md", ".markdown":
		lines = s.splitter.SplitMarkdown(string(data))
		if title := markdownTitle(string(data)); title != "" {
			info.Title = title
		}
	default:
		lines = s.splitter.SplitText(string(data))
	}

	if len(lines) == 0 {
		return Info{}, fmt.Errorf("%s: no readable lines", path)
	}

	s.Add(info, lines)
	return info, nil
}

// Add registers lines under info.ID, replacing any previous book.
func (s *FileSource) Add(info Info, lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[info.ID] = &fileBook{info: info, lines: lines}
}

// Info returns the metadata of a loaded book.
func (s *FileSource) Info(bookID string) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[bookID]
	if !ok {
		return Info{}, false
	}
	return b.info, true
}

// Lines implements Source.
func (s *FileSource) Lines(ctx context.Context, bookID string, offset, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[bookID]
	if !ok {
		return Page{}, fmt.Errorf("%q: %w", bookID, ErrNotFound)
	}
	return page(b.lines, offset, limit), nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a title into a URL-safe id.
func Slug(s string) string {
	s = slugInvalid.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "book"
	}
	return s
}

// markdownTitle returns the text of the first level-one ATX heading.
func markdownTitle(src string) string {
	for _, line := range strings.Split(src, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
