package cloud

import (
	"net/url"
	"strconv"
	"strings"
)

// DefaultResource is the path segment books live under.
const DefaultResource = "books"

// URL builds {base}/{resource}/{bookID}/audio/{index}?voice={voiceID}.
func URL(base, resource, bookID string, index int, voiceID string) string {
	if resource == "" {
		resource = DefaultResource
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(strings.Trim(resource, "/")))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(bookID))
	b.WriteString("/audio/")
	b.WriteString(strconv.Itoa(index))
	b.WriteString("?voice=")
	b.WriteString(url.QueryEscape(voiceID))
	return b.String()
}
