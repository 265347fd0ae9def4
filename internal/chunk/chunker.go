// Package chunk splits extracted page text into overlapping token windows.
//
// A token is a whitespace-separated word of the normalized text. Windows
// hold at most MaxTokens tokens and consecutive windows share exactly
// OverlapTokens tokens, so no span is lost at a boundary.
package chunk

import (
	"fmt"
	"iter"
	"strings"
	"unicode"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// Window defaults.
const (
	DefaultMaxTokens     = 500
	DefaultOverlapTokens = 50
)

// Chunk is one window of normalized text.
type Chunk struct {
	Seq        int    // 0-based position in the sequence
	Text       string // tokens joined by single spaces
	TokenCount int
	StartToken int // first token index (inclusive)
	EndToken   int // last token index (exclusive)
	Start      int // byte offset into the normalized text
	End        int // byte offset into the normalized text (exclusive)
}

// Options configures window size and overlap.
type Options struct {
	MaxTokens     int `yaml:"max_tokens" json:"max_tokens"`
	OverlapTokens int `yaml:"overlap_tokens" json:"overlap_tokens"`
}

// DefaultOptions returns 500-token windows with a 50-token overlap.
func DefaultOptions() Options {
	return Options{MaxTokens: DefaultMaxTokens, OverlapTokens: DefaultOverlapTokens}
}

// Validate reports invalid window parameters as a configuration error.
func (o Options) Validate() error {
	if o.MaxTokens <= 0 {
		return apperr.ChunkingError(fmt.Sprintf("max tokens must be positive, got %d", o.MaxTokens))
	}
	if o.OverlapTokens < 0 {
		return apperr.ChunkingError(fmt.Sprintf("overlap tokens must not be negative, got %d", o.OverlapTokens))
	}
	if o.OverlapTokens >= o.MaxTokens {
		return apperr.ChunkingError(fmt.Sprintf("overlap %d must be less than max tokens %d", o.OverlapTokens, o.MaxTokens))
	}
	return nil
}

// Chunker splits text with fixed Options.
type Chunker struct {
	opts Options
}

// New validates opts and returns a Chunker.
func New(opts Options) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{opts: opts}, nil
}

// Options returns the chunker's window parameters.
func (c *Chunker) Options() Options {
	return c.opts
}

// All returns a lazy sequence over the chunks of text.
func (c *Chunker) All(text string) iter.Seq[Chunk] {
	return windows(text, c.opts)
}

// Split collects every chunk of text.
func (c *Chunker) Split(text string) []Chunk {
	var out []Chunk
	for ch := range c.All(text) {
		out = append(out, ch)
	}
	return out
}

// Chunks validates the parameters and returns a lazy, restartable sequence
// of windows over text. Empty text yields nothing; text shorter than one
// window yields exactly one chunk.
func Chunks(text string, maxTokens, overlapTokens int) (iter.Seq[Chunk], error) {
	opts := Options{MaxTokens: maxTokens, OverlapTokens: overlapTokens}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return windows(text, opts), nil
}

// Split is Chunks collected into a slice.
func Split(text string, maxTokens, overlapTokens int) ([]Chunk, error) {
	c, err := New(Options{MaxTokens: maxTokens, OverlapTokens: overlapTokens})
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}

// Normalize collapses every whitespace run to one space and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// CountTokens returns the number of tokens in text.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// Reconstruct joins the first chunk with the non-overlapping remainder of
// every following chunk. For chunks produced from T it returns Normalize(T).
func Reconstruct(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(chunks[0].Text)
	for i := 1; i < len(chunks); i++ {
		shared := chunks[i-1].EndToken - chunks[i].StartToken
		tokens := strings.Split(chunks[i].Text, " ")
		if shared < 0 {
			shared = 0
		}
		if shared >= len(tokens) {
			continue
		}
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(tokens[shared:], " "))
	}
	return sb.String()
}

type span struct{ start, end int }

// tokenSpans returns the byte span of each token in normalized text.
func tokenSpans(normalized string) []span {
	var spans []span
	start := -1
	for i, r := range normalized {
		if r == ' ' {
			if start >= 0 {
				spans = append(spans, span{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start, len(normalized)})
	}
	return spans
}

func windows(text string, opts Options) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		normalized := Normalize(text)
		spans := tokenSpans(normalized)
		n := len(spans)

		for seq, start := 0, 0; start < n; seq++ {
			end := min(start+opts.MaxTokens, n)
			if end < n {
				end = sentenceEnd(normalized, spans, start, end, opts)
			}

			ch := Chunk{
				Seq:        seq,
				TokenCount: end - start,
				StartToken: start,
				EndToken:   end,
				Start:      spans[start].start,
				End:        spans[end-1].end,
			}
			ch.Text = normalized[ch.Start:ch.End]
			if !yield(ch) {
				return
			}
			if end == n {
				return
			}
			start = end - opts.OverlapTokens
		}
	}
}

// sentenceEnd pulls a full window back to a sentence terminator found in
// its last quarter. The next window must still start after start.
func sentenceEnd(text string, spans []span, start, end int, opts Options) int {
	lo := start + opts.MaxTokens*3/4
	for i := end - 1; i >= lo; i-- {
		if i+1-opts.OverlapTokens <= start {
			break
		}
		if endsSentence(text[spans[i].start:spans[i].end]) {
			return i + 1
		}
	}
	return end
}

func endsSentence(token string) bool {
	token = strings.TrimRightFunc(token, func(r rune) bool {
		return r == '"' || r == '\'' || r == ')' || r == ']' || unicode.In(r, unicode.Pf)
	})
	if token == "" {
		return false
	}
	switch token[len(token)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
