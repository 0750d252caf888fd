package book

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
)

// HTTPSource pages lines from the book service:
// GET {base}/{resource}/{bookId}/lines?offset=&limit=
type HTTPSource struct {
	base     string
	resource string
	client   *http.Client
}

// NewHTTPSource creates a source. A nil client gets a gzip-aware default.
func NewHTTPSource(base, resource string, client *http.Client) *HTTPSource {
	if resource == "" {
		resource = "books"
	}
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: gzhttp.Transport(http.DefaultTransport),
		}
	}
	return &HTTPSource{
		base:     strings.TrimRight(base, "/"),
		resource: strings.Trim(resource, "/"),
		client:   client,
	}
}

func (s *HTTPSource) bookURL(bookID, suffix string) string {
	return s.base + "/" + url.PathEscape(s.resource) + "/" + url.PathEscape(bookID) + suffix
}

// Lines implements Source.
func (s *HTTPSource) Lines(ctx context.Context, bookID string, offset, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var p Page
	if err := s.get(ctx, s.bookURL(bookID, "/lines?"+q.Encode()), &p); err != nil {
		return Page{}, err
	}
	return p, nil
}

// Info fetches book metadata from {base}/{resource}/{bookId}.
func (s *HTTPSource) Info(ctx context.Context, bookID string) (Info, error) {
	var info Info
	if err := s.get(ctx, s.bookURL(bookID, ""), &info); err != nil {
		return Info{}, err
	}
	if info.ID == "" {
		info.ID = bookID
	}
	return info, nil
}

func (s *HTTPSource) get(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("fetch %s: %w", u, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("fetch %s: %s", u, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}
