package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// pageMarkerRe matches the machine-parseable page boundary the parsing
// service emits between pages, e.g. "<!-- page: 3 -->".
var pageMarkerRe = regexp.MustCompile(`(?m)^<!--\s*page:\s*(\d+)\s*-->[ \t]*\r?\n?`)

// Tokenizer counts and slices text in model tokens
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// NewTokenizer returns a cl100k_base tokenizer, compatible with the
// embedding models this service targets
func NewTokenizer() (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

// Chunk is one retrieval-sized segment of a parsed document
type Chunk struct {
	Content    string
	PageNumber int
	ChunkIndex int // gapless, sequential across the whole document
	Tokens     int
}

// Options control the chunk token budgets
type Options struct {
	TargetTokens  int // per-chunk token target
	OverlapTokens int // tokens carried over between consecutive chunks
}

// DefaultOptions returns the standard retrieval-tuned budgets
func DefaultOptions() Options {
	return Options{
		TargetTokens:  500,
		OverlapTokens: 50,
	}
}

// Chunker splits parsed markdown into ordered, overlapping, token-budgeted
// segments with page metadata. It is a pure transformation: no I/O, no
// shared state beyond the tokenizer.
type Chunker struct {
	tok     Tokenizer
	target  int
	overlap int
}

// New creates a Chunker with the given tokenizer and options
func New(tok Tokenizer, opts Options) *Chunker {
	if opts.TargetTokens <= 0 {
		opts.TargetTokens = DefaultOptions().TargetTokens
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}
	if opts.OverlapTokens >= opts.TargetTokens {
		opts.OverlapTokens = opts.TargetTokens / 2
	}

	return &Chunker{
		tok:     tok,
		target:  opts.TargetTokens,
		overlap: opts.OverlapTokens,
	}
}

type page struct {
	number  int
	content string
}

// Chunk splits text into chunks. Text is split at page boundary markers
// first so every chunk records exactly one page number; a document with no
// markers is treated as a single page.
func (c *Chunker) Chunk(text string) ([]Chunk, error) {
	chunks := make([]Chunk, 0)
	index := 0

	for _, p := range splitPages(text) {
		segments := c.splitPage(p.content)
		var prevTokens []int

		for _, segTokens := range segments {
			content := segTokens

			// Carry overlap from the previous chunk of the same page to
			// preserve cross-boundary context. A page shorter than the
			// overlap budget yields a single chunk, so no underflow here.
			if prevTokens != nil && c.overlap > 0 {
				carry := prevTokens
				if len(carry) > c.overlap {
					carry = carry[len(carry)-c.overlap:]
				}
				content = append(append([]int{}, carry...), segTokens...)
			}

			body := strings.TrimSpace(c.tok.Decode(content))
			if body == "" {
				continue
			}

			chunks = append(chunks, Chunk{
				Content:    body,
				PageNumber: p.number,
				ChunkIndex: index,
				Tokens:     len(content),
			})
			index++
			prevTokens = segTokens
		}
	}

	return chunks, nil
}

// splitPages cuts text at page markers. Content before the first marker
// belongs to page 1; marker numbers are authoritative afterwards.
func splitPages(text string) []page {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []page{{number: 1, content: text}}
	}

	pages := make([]page, 0, len(locs)+1)

	if head := strings.TrimSpace(text[:locs[0][0]]); head != "" {
		pages = append(pages, page{number: 1, content: head})
	}

	for i, loc := range locs {
		num, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil || num < 1 {
			num = len(pages) + 1
		}

		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}

		pages = append(pages, page{number: num, content: text[loc[1]:end]})
	}

	return pages
}

// splitPage turns one page of text into token slices around the target
// budget: paragraphs are the preferred split points, adjacent short
// paragraphs merge, and oversized paragraphs are cut on token windows.
func (c *Chunker) splitPage(content string) [][]int {
	paragraphs := splitParagraphs(content)
	segments := make([][]int, 0)

	var current []int
	flush := func() {
		if len(current) > 0 {
			segments = append(segments, current)
			current = nil
		}
	}

	for _, para := range paragraphs {
		tokens := c.tok.Encode(para)

		if len(tokens) > c.target {
			flush()
			// Hard-split an oversized paragraph on token windows
			for start := 0; start < len(tokens); start += c.target {
				end := start + c.target
				if end > len(tokens) {
					end = len(tokens)
				}
				segments = append(segments, tokens[start:end])
			}
			continue
		}

		if len(current) > 0 && len(current)+len(tokens) > c.target {
			flush()
		}

		if len(current) > 0 {
			current = append(current, c.tok.Encode("\n\n")...)
		}
		current = append(current, tokens...)
	}
	flush()

	return segments
}

func splitParagraphs(content string) []string {
	parts := regexp.MustCompile(`\n\s*\n`).Split(content, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}
