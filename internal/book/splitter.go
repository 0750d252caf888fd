package book

import (
	"bufio"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Splitter turns prose into speakable lines, one sentence per line.
type Splitter struct {
	skipCodeBlocks bool
	maxLength      int
	abbreviations  map[string]bool
	titleAbbrevs   map[string]bool
}

// NewSplitter creates a splitter with default settings.
func NewSplitter() *Splitter {
	return &Splitter{
		skipCodeBlocks: true,
		maxLength:      1000, // espeak and most cloud voices choke on longer input
		abbreviations:  defaultAbbreviations(),
		titleAbbrevs:   defaultTitleAbbreviations(),
	}
}

// SplitText splits plain text. Blank lines separate paragraphs; sentences
// never span paragraphs.
func (s *Splitter) SplitText(src string) []string {
	var lines []string
	var para strings.Builder

	flush := func() {
		lines = append(lines, s.sentences(para.String())...)
		para.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(src))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		if para.Len() > 0 {
			para.WriteByte(' ')
		}
		para.WriteString(line)
	}
	flush()

	return lines
}

// SplitMarkdown flattens markdown to text block by block and splits each
// block into sentences. Code and HTML blocks are dropped.
func (s *Splitter) SplitMarkdown(src string) []string {
	source := []byte(src)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var lines []string
	s.walkBlocks(doc, source, &lines)
	return lines
}

func (s *Splitter) walkBlocks(node ast.Node, source []byte, lines *[]string) {
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if s.skipCodeBlocks {
				continue
			}
			*lines = append(*lines, "Code block omitted.")

		case *ast.HTMLBlock, *ast.ThematicBreak:
			continue

		case *ast.Heading:
			var buf strings.Builder
			s.inline(n, source, &buf)
			if t := strings.TrimSpace(buf.String()); t != "" {
				*lines = append(*lines, t)
			}

		case *ast.Paragraph, *ast.TextBlock:
			var buf strings.Builder
			s.inline(n, source, &buf)
			*lines = append(*lines, s.sentences(buf.String())...)

		default:
			// lists, list items and blockquotes hold blocks
			s.walkBlocks(n, source, lines)
		}
	}
}

// inline writes the speakable text of an inline subtree.
func (s *Splitter) inline(node ast.Node, source []byte, buf *strings.Builder) {
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Text:
			buf.Write(n.Segment.Value(source))
			if n.SoftLineBreak() || n.HardLineBreak() {
				buf.WriteByte(' ')
			}

		case *ast.String:
			buf.Write(n.Value)

		case *ast.CodeSpan:
			for t := n.FirstChild(); t != nil; t = t.NextSibling() {
				if seg, ok := t.(*ast.Text); ok {
					buf.Write(seg.Segment.Value(source))
				}
			}

		case *ast.Image:
			// alt text only
			s.inline(n, source, buf)

		case *ast.AutoLink, *ast.RawHTML:
			continue

		default:
			// links and emphasis keep their text
			s.inline(n, source, buf)
		}
	}
}

// sentences splits one paragraph into trimmed sentences.
func (s *Splitter) sentences(para string) []string {
	para = strings.Join(strings.Fields(para), " ")
	if para == "" {
		return nil
	}

	var out []string
	var current strings.Builder

	runes := []rune(para)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if s.isBoundary(runes, i) {
			out = s.appendSentence(out, current.String())
			current.Reset()
		}
	}
	return s.appendSentence(out, current.String())
}

func (s *Splitter) appendSentence(out []string, sentence string) []string {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return out
	}
	for len([]rune(sentence)) > s.maxLength {
		head, tail := splitAtSpace(sentence, s.maxLength)
		out = append(out, head)
		sentence = tail
	}
	return append(out, sentence)
}

// splitAtSpace cuts s at the last space before limit runes.
func splitAtSpace(s string, limit int) (string, string) {
	runes := []rune(s)
	cut := limit
	for i := limit; i > limit/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut])), strings.TrimSpace(string(runes[cut:]))
}

// isBoundary reports whether a sentence ends at pos.
func (s *Splitter) isBoundary(runes []rune, pos int) bool {
	if pos >= len(runes)-1 {
		return true
	}

	current := runes[pos]
	if current == '"' || current == '”' || current == ')' {
		// closing quote after terminal punctuation: `"Hello." She said`
		if pos > 0 && isTerminal(runes[pos-1]) {
			return nextIsUpper(runes, pos)
		}
		return false
	}

	if !isTerminal(current) {
		return false
	}

	if current == '.' && (isEllipsis(runes, pos) || isDecimal(runes, pos)) {
		return false
	}

	// punctuation inside a closing quote ends at the quote instead
	next := runes[pos+1]
	if next == '"' || next == '”' || next == ')' {
		return false
	}

	if current == '.' {
		word := wordBefore(runes, pos)
		if s.titleAbbrevs[word] {
			return false
		}
		if s.abbreviations[word] {
			return nextIsUpper(runes, pos)
		}
	}

	return nextIsUpper(runes, pos)
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// nextIsUpper reports whether whitespace then an upper-case letter,
// digit or opening quote follows pos.
func nextIsUpper(runes []rune, pos int) bool {
	i := pos + 1
	if i >= len(runes) || !unicode.IsSpace(runes[i]) {
		return false
	}
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	if i >= len(runes) {
		return true
	}
	r := runes[i]
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '“'
}

func wordBefore(runes []rune, pos int) string {
	start := pos - 1
	for start >= 0 && !unicode.IsSpace(runes[start]) {
		start--
	}
	start++
	if start >= pos {
		return ""
	}
	return strings.ToLower(strings.TrimLeft(string(runes[start:pos]), "(\"“"))
}

func isDecimal(runes []rune, pos int) bool {
	return pos > 0 && unicode.IsDigit(runes[pos-1]) &&
		pos+1 < len(runes) && unicode.IsDigit(runes[pos+1])
}

func isEllipsis(runes []rune, pos int) bool {
	return (pos > 0 && runes[pos-1] == '.') || (pos+1 < len(runes) && runes[pos+1] == '.')
}

// defaultAbbreviations returns common English abbreviations.
func defaultAbbreviations() map[string]bool {
	return map[string]bool{
		"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
		"sr": true, "jr": true, "st": true, "ph.d": true, "m.d": true,

		"etc": true, "vs": true, "v": true, "e.g": true, "i.e": true,
		"inc": true, "ltd": true, "co": true, "corp": true, "no": true,
		"jan": true, "feb": true, "mar": true, "apr": true, "jun": true,
		"jul": true, "aug": true, "sep": true, "sept": true, "oct": true,
		"nov": true, "dec": true,

		"ft": true, "in": true, "yd": true, "mi": true,
		"oz": true, "lb": true, "vol": true, "ch": true, "pp": true,
	}
}

// defaultTitleAbbreviations never end a sentence; a name always follows.
func defaultTitleAbbreviations() map[string]bool {
	return map[string]bool{
		"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
		"st": true,
	}
}
