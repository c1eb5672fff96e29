package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextSingleSegment(t *testing.T) {
	s := NewSplitter()

	got := s.Split("para one. para two.")

	require.Len(t, got, 1)
	assert.Equal(t, "para one. para two.", got[0])
}

func TestSplit_EmptyInput(t *testing.T) {
	s := NewSplitter()

	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("   \n\n  "))
}

func TestSplit_SegmentsBoundedByMaxSize(t *testing.T) {
	s := NewSplitterWithOptions(Options{MaxChunkSize: 64})

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog. ")
	}

	segments := s.Split(b.String())

	require.NotEmpty(t, segments)
	for i, seg := range segments {
		assert.LessOrEqual(t, len(seg), 64, "segment %d exceeds bound", i)
		assert.NotEmpty(t, strings.TrimSpace(seg))
	}
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	s := NewSplitterWithOptions(Options{MaxChunkSize: 30})

	text := "first paragraph here.\n\nsecond paragraph here.\n\nthird one."
	segments := s.Split(text)

	require.Len(t, segments, 3)
	assert.Equal(t, "first paragraph here.", segments[0])
	assert.Equal(t, "second paragraph here.", segments[1])
	assert.Equal(t, "third one.", segments[2])
}

func TestSplit_PacksSmallParagraphsTogether(t *testing.T) {
	s := NewSplitterWithOptions(Options{MaxChunkSize: 60})

	text := "one.\n\ntwo.\n\nthree."
	segments := s.Split(text)

	require.Len(t, segments, 1)
	assert.Equal(t, "one.\n\ntwo.\n\nthree.", segments[0])
}

func TestSplit_SentenceFallbackForLongParagraph(t *testing.T) {
	s := NewSplitterWithOptions(Options{MaxChunkSize: 40})

	text := "This is sentence number one. This is sentence number two. Short tail."
	segments := s.Split(text)

	require.GreaterOrEqual(t, len(segments), 2)
	for _, seg := range segments {
		assert.LessOrEqual(t, len(seg), 40)
	}
	assert.True(t, strings.HasPrefix(segments[0], "This is sentence number one."))
}

func TestSplit_WordFallbackForLongSentence(t *testing.T) {
	s := NewSplitterWithOptions(Options{MaxChunkSize: 20})

	// One sentence with no terminator, longer than the limit.
	text := "alpha beta gamma delta epsilon zeta eta theta"
	segments := s.Split(text)

	require.GreaterOrEqual(t, len(segments), 2)
	for _, seg := range segments {
		assert.LessOrEqual(t, len(seg), 20)
	}
}

func TestSplit_HardCutsOversizedWord(t *testing.T) {
	s := NewSplitterWithOptions(Options{MaxChunkSize: 10})

	segments := s.Split(strings.Repeat("x", 25))

	require.Len(t, segments, 3)
	assert.Equal(t, 10, len(segments[0]))
	assert.Equal(t, 10, len(segments[1]))
	assert.Equal(t, 5, len(segments[2]))
}

func TestSplit_HardCutKeepsValidUTF8(t *testing.T) {
	s := NewSplitterWithOptions(Options{MaxChunkSize: 10})

	// 3-byte runes; 10 is not a multiple of 3, so a byte cut would land
	// mid-rune.
	segments := s.Split(strings.Repeat("語", 12))

	require.NotEmpty(t, segments)
	var rejoined strings.Builder
	for i, seg := range segments {
		assert.True(t, utf8.ValidString(seg), "segment %d is invalid UTF-8", i)
		assert.LessOrEqual(t, len(seg), 10)
		rejoined.WriteString(seg)
	}
	assert.Equal(t, strings.Repeat("語", 12), rejoined.String())
}

func TestSplit_Deterministic(t *testing.T) {
	s := NewSplitterWithOptions(Options{MaxChunkSize: 50})
	text := "Some content with sentences. Another sentence follows here.\n\nAnd a second paragraph too."

	a := s.Split(text)
	b := s.Split(text)

	assert.Equal(t, a, b)
}

// Concatenating segments in order reconstructs the content modulo
// split-boundary whitespace.
func TestSplit_LosslessModuloWhitespace(t *testing.T) {
	s := NewSplitterWithOptions(Options{MaxChunkSize: 48})
	text := "First sentence of text. Second sentence here.\n\nNext paragraph continues. Final words end it."

	segments := s.Split(text)

	normalize := func(in string) string {
		return strings.Join(strings.Fields(in), " ")
	}
	assert.Equal(t, normalize(text), normalize(strings.Join(segments, " ")))
}

func TestSplit_DefaultBound(t *testing.T) {
	s := NewSplitter()
	assert.Equal(t, DefaultMaxChunkSize, s.MaxChunkSize())

	segments := s.Split(strings.Repeat("word word word. ", 500))
	for _, seg := range segments {
		assert.LessOrEqual(t, len(seg), DefaultMaxChunkSize)
	}
}
