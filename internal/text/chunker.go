package text

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"vecsync/internal/apperr"
)

// CharsPerToken is the fixed character-to-token ratio used for sizing.
// It is an approximation, not a tokenizer.
const CharsPerToken = 4

const (
	DefaultTargetTokens   = 400
	DefaultOverlapPercent = 15
	DefaultMinChunkChars  = 50

	MaxOverlapPercent = 50
	boundarySearchCap = 200
)

var (
	ErrEmptyInput = fmt.Errorf("%w: text is empty", apperr.ErrInput)
	ErrTooLong    = fmt.Errorf("%w: text exceeds token limit", apperr.ErrInput)
)

// Chunk is one retrieval unit cut from a source text. Offsets are byte offsets
// into the source and always address exactly Text.
type Chunk struct {
	Text            string `json:"text"`
	StartOffset     int    `json:"start_offset"`
	EndOffset       int    `json:"end_offset"`
	SequenceIndex   int    `json:"sequence_index"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// Options controls Split. Start from DefaultOptions; the zero value disables
// overlap and sentence preservation.
type Options struct {
	TargetTokens               int  `yaml:"target_tokens" json:"target_tokens"`
	OverlapPercent             int  `yaml:"overlap_percent" json:"overlap_percent"`
	PreserveSentenceBoundaries bool `yaml:"preserve_sentence_boundaries" json:"preserve_sentence_boundaries"`
	MinChunkChars              int  `yaml:"min_chunk_chars" json:"min_chunk_chars"`
}

func DefaultOptions() Options {
	return Options{
		TargetTokens:               DefaultTargetTokens,
		OverlapPercent:             DefaultOverlapPercent,
		PreserveSentenceBoundaries: true,
		MinChunkChars:              DefaultMinChunkChars,
	}
}

func (o Options) normalized() Options {
	if o.TargetTokens <= 0 {
		o.TargetTokens = DefaultTargetTokens
	}
	if o.MinChunkChars <= 0 {
		o.MinChunkChars = DefaultMinChunkChars
	}
	if o.OverlapPercent < 0 {
		o.OverlapPercent = 0
	}
	if o.OverlapPercent > MaxOverlapPercent {
		o.OverlapPercent = MaxOverlapPercent
	}
	return o
}

// EstimateTokens approximates the token count of s from its character count,
// rounding up.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// Validate checks that s is usable as embedding input. A maxTokens of zero
// or less disables the length check.
func Validate(s string, maxTokens int) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyInput
	}
	if maxTokens > 0 {
		if est := EstimateTokens(s); est > maxTokens {
			return fmt.Errorf("%w: estimated %d tokens, limit %d", ErrTooLong, est, maxTokens)
		}
	}
	return nil
}

// Split cuts s into overlapping chunks of roughly opts.TargetTokens each,
// preferring to end a chunk on a sentence boundary when one is close to the
// target width. Blank input yields no chunks.
func Split(s string, opts Options) []Chunk {
	opts = opts.normalized()
	if strings.TrimSpace(s) == "" {
		return nil
	}

	if len(s) < opts.MinChunkChars {
		lo, hi := trimmedSpan(s, 0, len(s))
		return []Chunk{newChunk(s, lo, hi, 0)}
	}

	targetChars := opts.TargetTokens * CharsPerToken
	overlapChars := targetChars * opts.OverlapPercent / 100

	var chunks []Chunk
	start := 0
	for {
		end := start + targetChars
		if end >= len(s) {
			end = len(s)
		} else {
			end = backToRuneStart(s, start, end)
			if opts.PreserveSentenceBoundaries {
				end = sentenceEnd(s, start, end, targetChars)
			}
		}

		lo, hi := trimmedSpan(s, start, end)
		if hi-lo >= opts.MinChunkChars {
			chunks = append(chunks, newChunk(s, lo, hi, len(chunks)))
		}

		if end >= len(s) {
			break
		}

		// start+1 keeps the loop moving even when the overlap covers the whole window.
		next := end - overlapChars
		if next < start+1 {
			next = start + 1
		}
		for next < len(s) && !utf8.RuneStart(s[next]) {
			next++
		}
		start = next
	}
	return chunks
}

func newChunk(s string, lo, hi, seq int) Chunk {
	t := s[lo:hi]
	return Chunk{
		Text:            t,
		StartOffset:     lo,
		EndOffset:       hi,
		SequenceIndex:   seq,
		EstimatedTokens: EstimateTokens(t),
	}
}

// sentenceEnd looks for the sentence boundary closest to end within a small
// neighborhood and returns it if it lies within 30% of the target width.
func sentenceEnd(s string, start, end, targetChars int) int {
	window := targetChars / 10
	if window > boundarySearchCap {
		window = boundarySearchCap
	}
	if window < 1 {
		return end
	}
	tolerance := targetChars * 3 / 10

	lo := end - window
	if lo < start+1 {
		lo = start + 1
	}
	hi := end + window
	if hi > len(s)-1 {
		hi = len(s) - 1
	}

	best, bestDist := -1, 0
	for p := lo; p <= hi; p++ {
		if !isTerminator(s[p-1]) || !isASCIISpace(s[p]) {
			continue
		}
		d := p - end
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = p, d
		}
	}
	if best < 0 || bestDist > tolerance {
		return end
	}
	return best
}

func backToRuneStart(s string, start, end int) int {
	for end > start+1 && !utf8.RuneStart(s[end]) {
		end--
	}
	return end
}

func trimmedSpan(s string, lo, hi int) (int, int) {
	seg := s[lo:hi]
	left := len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
	trimmed := strings.TrimSpace(seg)
	return lo + left, lo + left + len(trimmed)
}

func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
