package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

func texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// --- TS01: Window boundaries ---

func TestSplit_QuickBrownFox(t *testing.T) {
	// Given: a nine-word sentence
	text := "The quick brown fox jumps over the lazy dog"

	// When: chunking with 5-token windows and 2-token overlap
	chunks, err := Split(text, 5, 2)

	// Then: three windows sharing two tokens each
	require.NoError(t, err)
	assert.Equal(t, []string{
		"The quick brown fox jumps",
		"fox jumps over the lazy",
		"the lazy dog",
	}, texts(chunks))
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
	}
	assert.Equal(t, 5, chunks[0].TokenCount)
	assert.Equal(t, 3, chunks[2].TokenCount)
}

func TestSplit_DegenerateInputs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"whitespace only", " \n\t ", 0},
		{"single word", "fox", 1},
		{"shorter than window", "one two three", 1},
		{"exactly one window", "a b c d e", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Split(tt.text, 5, 2)
			require.NoError(t, err)
			assert.Len(t, chunks, tt.want)
		})
	}
}

func TestSplit_NormalizesWhitespace(t *testing.T) {
	chunks, err := Split("  alpha\n\nbeta\tgamma   ", 10, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "alpha beta gamma", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len("alpha beta gamma"), chunks[0].End)
}

// --- TS02: Invalid parameters ---

func TestSplit_InvalidParameters(t *testing.T) {
	tests := []struct {
		name         string
		max, overlap int
	}{
		{"zero max", 0, 0},
		{"negative max", -3, 0},
		{"negative overlap", 5, -1},
		{"overlap equals max", 5, 5},
		{"overlap exceeds max", 5, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("some text", tt.max, tt.overlap)
			require.Error(t, err)
			assert.Equal(t, apperr.ErrCodeInvalidChunking, apperr.GetCode(err))
			assert.Equal(t, apperr.CategoryConfig, apperr.GetCategory(err))

			_, err = Chunks("some text", tt.max, tt.overlap)
			require.Error(t, err)
		})
	}
}

// --- TS03: Coverage and overlap properties ---

func corpus() []string {
	var long strings.Builder
	for i := 0; i < 1200; i++ {
		fmt.Fprintf(&long, "word%d ", i)
		if i%17 == 16 {
			long.WriteString("End. ")
		}
	}
	return []string{
		"The quick brown fox jumps over the lazy dog",
		"Sentence one. Sentence two! Is this three? Yes it is. And four follows here now.",
		long.String(),
		strings.Repeat("lorem ipsum dolor sit amet ", 97),
	}
}

func TestSplit_ReconstructsTextWithoutGaps(t *testing.T) {
	params := []Options{{5, 2}, {7, 0}, {10, 9}, {50, 10}, {500, 50}, {1, 0}}
	for _, text := range corpus() {
		for _, p := range params {
			chunks, err := Split(text, p.MaxTokens, p.OverlapTokens)
			require.NoError(t, err)
			assert.Equal(t, Normalize(text), Reconstruct(chunks), "params %+v", p)
		}
	}
}

func TestSplit_ConsecutiveChunksShareExactOverlap(t *testing.T) {
	params := []Options{{5, 2}, {8, 3}, {50, 10}, {500, 50}}
	for _, text := range corpus() {
		for _, p := range params {
			chunks, err := Split(text, p.MaxTokens, p.OverlapTokens)
			require.NoError(t, err)
			for i := 1; i < len(chunks); i++ {
				prev, cur := chunks[i-1], chunks[i]
				assert.Equal(t, p.OverlapTokens, prev.EndToken-cur.StartToken)

				prevTokens := strings.Fields(prev.Text)
				curTokens := strings.Fields(cur.Text)
				assert.Equal(t, prevTokens[len(prevTokens)-p.OverlapTokens:], curTokens[:p.OverlapTokens])
			}
			for _, c := range chunks {
				assert.LessOrEqual(t, c.TokenCount, p.MaxTokens)
				assert.Equal(t, c.TokenCount, CountTokens(c.Text))
			}
		}
	}
}

func TestSplit_PrefersSentenceBoundaries(t *testing.T) {
	// Given: a terminator in the last quarter of the first window
	text := "a b c d e f g h. i j k l m n"

	// When: chunking with 10-token windows
	chunks, err := Split(text, 10, 2)

	// Then: the first window stops at the sentence end
	require.NoError(t, err)
	assert.Equal(t, "a b c d e f g h.", chunks[0].Text)
	assert.Equal(t, Normalize(text), Reconstruct(chunks))
}

// --- TS04: Lazy iteration ---

func TestChunks_IsRestartableAndStoppable(t *testing.T) {
	seq, err := Chunks("The quick brown fox jumps over the lazy dog", 5, 2)
	require.NoError(t, err)

	var first, second []string
	for c := range seq {
		first = append(first, c.Text)
	}
	for c := range seq {
		second = append(second, c.Text)
		break
	}

	assert.Len(t, first, 3)
	assert.Equal(t, first[:1], second)
}

func TestChunker_UsesOptions(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTokens, c.Options().MaxTokens)

	text := strings.Repeat("token ", 1100)
	chunks := c.Split(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, 500, chunks[0].TokenCount)
	assert.Equal(t, 450, chunks[1].StartToken)
	assert.Equal(t, 900, chunks[2].StartToken)
	assert.Equal(t, 200, chunks[2].TokenCount)
}
