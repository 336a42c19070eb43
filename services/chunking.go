package services

import (
	"fmt"
	"strings"

	"query-sphere/models"
)

// Chunker slides a fixed rune window over the concatenated document text.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", models.ErrInvalidChunkParams, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// pageSpan is the rune range a page occupies in the joined text.
type pageSpan struct {
	start, end int
	page       models.Page
}

// Chunk joins the trimmed page texts with "\n" and cuts windows of size runes
// advancing by size-overlap. The last window ends at the end of the text.
func (c *Chunker) Chunk(doc *models.Document) []models.Chunk {
	if doc == nil {
		return nil
	}

	var (
		runes []rune
		spans []pageSpan
	)
	for _, p := range doc.Pages {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if len(runes) > 0 {
			runes = append(runes, '\n')
		}
		start := len(runes)
		runes = append(runes, []rune(text)...)
		spans = append(spans, pageSpan{start: start, end: len(runes), page: p})
	}
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	n := len(runes)
	chunks := make([]models.Chunk, 0, n/step+1)
	for start := 0; ; start += step {
		end := min(start+c.size, n)

		first := spanAt(spans, start)
		last := spanAt(spans, end-1)
		chunks = append(chunks, models.Chunk{
			Order:     len(chunks),
			Text:      string(runes[start:end]),
			Start:     start,
			End:       end,
			FirstPage: first.page.Number,
			LastPage:  last.page.Number,
			Source:    sourceRange(first.page, last.page),
		})

		if end == n {
			break
		}
	}
	return chunks
}

// spanAt returns the page containing offset; the joining newline belongs to
// the preceding page.
func spanAt(spans []pageSpan, offset int) pageSpan {
	for _, s := range spans {
		if offset <= s.end {
			return s
		}
	}
	return spans[len(spans)-1]
}

// sourceRange renders "PDF page 2" or "PDF page 2-3" style references.
func sourceRange(first, last models.Page) string {
	if first.Number == last.Number {
		return first.Source
	}
	fl, _, okf := strings.Cut(first.Source, fmt.Sprint(first.Number))
	ll, _, okl := strings.Cut(last.Source, fmt.Sprint(last.Number))
	if okf && okl && fl == ll {
		return fmt.Sprintf("%s%d-%d", fl, first.Number, last.Number)
	}
	return first.Source + " - " + last.Source
}
