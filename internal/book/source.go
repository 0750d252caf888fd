// Package book supplies book lines to the reader page by page. The
// playback engine never calls it; the reader loads more lines when the
// engine reports that playback ran past what is loaded.
package book

import (
	"context"
	"errors"
)

// DefaultPageSize is how many lines a reader requests at a time.
const DefaultPageSize = 200

// ErrNotFound is returned for an unknown book id.
var ErrNotFound = errors.New("book not found")

// Info describes a book.
type Info struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
}

// Page is one slice of a book's lines.
type Page struct {
	Lines   []string `json:"lines"`
	Total   int      `json:"total"`
	HasMore bool     `json:"hasMore"`
}

// Source is a pagination source.
type Source interface {
	// Lines returns up to limit lines starting at offset.
	Lines(ctx context.Context, bookID string, offset, limit int) (Page, error)
}

// page slices lines the way every Source reports it.
func page(lines []string, offset, limit int) Page {
	total := len(lines)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return Page{
		Lines:   append([]string(nil), lines[offset:end]...),
		Total:   total,
		HasMore: end < total,
	}
}
