// Package chunk splits document content into embedding-sized pieces.
// Chunking is deterministic: identical input yields identical chunks.
package chunk

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxChars is the default chunk size ceiling in characters.
	DefaultMaxChars = 1600

	// DefaultOverlapChars is the default overlap carried between
	// adjacent chunks to preserve context across boundaries.
	DefaultOverlapChars = 200
)

// Chunker splits prose into chunks along paragraph boundaries, falling
// back to sentence and then rune boundaries when a paragraph alone
// exceeds the size ceiling.
type Chunker struct {
	maxChars     int
	overlapChars int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxChars sets the chunk size ceiling.
func WithMaxChars(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithOverlap sets the overlap carried between adjacent chunks.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapChars = n
		}
	}
}

// New creates a Chunker with defaults, modified by opts.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxChars:     DefaultMaxChars,
		overlapChars: DefaultOverlapChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlapChars >= c.maxChars {
		c.overlapChars = c.maxChars / 4
	}
	return c
}

// Split breaks content into chunks. Whitespace-only input yields no
// chunks; content at or under the ceiling yields exactly one.
func (c *Chunker) Split(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if utf8.RuneCountInString(content) <= c.maxChars {
		return []string{content}
	}

	paragraphs := splitParagraphs(content)

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
		currentLen = 0
	}

	for _, para := range paragraphs {
		paraLen := utf8.RuneCountInString(para)

		if paraLen > c.maxChars {
			// Oversized paragraph: flush what we have, then window
			// through it with overlap.
			flush()
			for _, piece := range c.splitOversized(para) {
				chunks = append(chunks, piece)
			}
			continue
		}

		// +2 accounts for the paragraph separator.
		if currentLen > 0 && currentLen+2+paraLen > c.maxChars {
			flush()
		}
		if currentLen > 0 {
			current.WriteString("\n\n")
			currentLen += 2
		}
		current.WriteString(para)
		currentLen += paraLen
	}
	flush()

	return chunks
}

// splitOversized windows through a paragraph that exceeds the ceiling,
// preferring sentence boundaries and carrying the configured overlap.
func (c *Chunker) splitOversized(text string) []string {
	runes := []rune(text)

	var pieces []string
	start := 0
	for start < len(runes) {
		end := start + c.maxChars
		if end >= len(runes) {
			piece := strings.TrimSpace(string(runes[start:]))
			if piece != "" {
				pieces = append(pieces, piece)
			}
			break
		}

		// Pull the cut back to the last sentence end inside the window
		// when one exists in the second half.
		cut := end
		for i := end - 1; i > start+c.maxChars/2; i-- {
			if isSentenceEnd(runes, i) {
				cut = i + 1
				break
			}
		}

		piece := strings.TrimSpace(string(runes[start:cut]))
		if piece != "" {
			pieces = append(pieces, piece)
		}

		next := cut - c.overlapChars
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return pieces
}

func isSentenceEnd(runes []rune, i int) bool {
	switch runes[i] {
	case '.', '!', '?':
	default:
		return false
	}
	return i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n'
}

func splitParagraphs(content string) []string {
	raw := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}
