// Package chunk splits saved page text into bounded passages for indexing.
// Splitting prefers natural boundaries (paragraph, then sentence, then word)
// and only hard-cuts when a single word exceeds the limit.
package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkSize is the maximum passage length in characters.
const DefaultMaxChunkSize = 1024

// Options configures the splitter behavior.
type Options struct {
	// MaxChunkSize is the maximum characters per segment (default: 1024).
	MaxChunkSize int
}

// Splitter produces ordered, bounded text segments. It is stateless and
// deterministic: the same input always yields the same segmentation.
type Splitter struct {
	maxSize int
}

// sentenceBoundary matches an end-of-sentence mark followed by whitespace.
// The terminator stays with the preceding sentence.
var sentenceBoundary = regexp.MustCompile(`([.!?])\s+`)

// paragraphBoundary matches blank-line separators between paragraphs.
var paragraphBoundary = regexp.MustCompile(`\n\s*\n`)

// NewSplitter creates a splitter with default options.
func NewSplitter() *Splitter {
	return NewSplitterWithOptions(Options{})
}

// NewSplitterWithOptions creates a splitter with custom options.
func NewSplitterWithOptions(opts Options) *Splitter {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = DefaultMaxChunkSize
	}
	return &Splitter{maxSize: opts.MaxChunkSize}
}

// MaxChunkSize returns the configured segment bound.
func (s *Splitter) MaxChunkSize() int {
	return s.maxSize
}

// Split segments text into ordered passages, each at most MaxChunkSize
// characters. Text at or under the limit comes back as a single segment.
// Empty or whitespace-only input yields no segments.
func (s *Splitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= s.maxSize {
		return []string{trimmed}
	}

	paragraphs := paragraphBoundary.Split(trimmed, -1)
	var segments []string
	var pending []string // paragraphs accumulated for the current segment
	pendingLen := 0

	flush := func() {
		if len(pending) > 0 {
			segments = append(segments, strings.Join(pending, "\n\n"))
			pending = pending[:0]
			pendingLen = 0
		}
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		joined := pendingLen + len(p)
		if len(pending) > 0 {
			joined += 2 // separator
		}
		if joined <= s.maxSize {
			pending = append(pending, p)
			pendingLen = joined
			continue
		}

		flush()
		if len(p) <= s.maxSize {
			pending = append(pending, p)
			pendingLen = len(p)
			continue
		}

		segments = append(segments, s.splitSentences(p)...)
	}
	flush()

	return segments
}

// splitSentences packs sentences of an oversized paragraph into segments.
func (s *Splitter) splitSentences(paragraph string) []string {
	sentences := splitAfter(paragraph, sentenceBoundary)

	var segments []string
	var b strings.Builder

	for _, sent := range sentences {
		sent = strings.TrimSpace(sent)
		if sent == "" {
			continue
		}

		if len(sent) > s.maxSize {
			if b.Len() > 0 {
				segments = append(segments, b.String())
				b.Reset()
			}
			segments = append(segments, s.splitWords(sent)...)
			continue
		}

		joined := b.Len() + len(sent)
		if b.Len() > 0 {
			joined++
		}
		if joined > s.maxSize {
			segments = append(segments, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sent)
	}
	if b.Len() > 0 {
		segments = append(segments, b.String())
	}

	return segments
}

// splitWords packs words of an oversized sentence into segments. A single
// word longer than the limit is hard-cut.
func (s *Splitter) splitWords(sentence string) []string {
	words := strings.Fields(sentence)

	var segments []string
	var b strings.Builder

	for _, w := range words {
		for len(w) > s.maxSize {
			if b.Len() > 0 {
				segments = append(segments, b.String())
				b.Reset()
			}
			// Back up to a rune boundary so the cut never produces
			// invalid UTF-8.
			cut := s.maxSize
			for cut > 0 && !utf8.RuneStart(w[cut]) {
				cut--
			}
			if cut == 0 {
				// A single rune wider than the limit; emit it whole.
				_, cut = utf8.DecodeRuneInString(w)
			}
			segments = append(segments, w[:cut])
			w = w[cut:]
		}
		if w == "" {
			continue
		}

		joined := b.Len() + len(w)
		if b.Len() > 0 {
			joined++
		}
		if joined > s.maxSize {
			segments = append(segments, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		segments = append(segments, b.String())
	}

	return segments
}

// splitAfter splits text keeping each boundary's terminator with the piece
// before it. regexp.Split would drop the terminators.
func splitAfter(text string, re *regexp.Regexp) []string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}

	var parts []string
	prev := 0
	for _, m := range matches {
		// m[3] is the end of the captured terminator group.
		parts = append(parts, text[prev:m[3]])
		prev = m[1]
	}
	if prev < len(text) {
		parts = append(parts, text[prev:])
	}
	return parts
}
