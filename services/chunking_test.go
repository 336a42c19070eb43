package services

import (
	"errors"
	"strings"
	"testing"

	"query-sphere/models"
)

func docOf(pages ...models.Page) *models.Document {
	return &models.Document{ID: "doc", Filename: "test.pdf", Kind: models.KindPDF, Pages: pages}
}

func pdfPage(n int, text string) models.Page {
	return models.Page{Number: n, Source: "PDF page " + string(rune('0'+n)), Text: text}
}

func TestChunkerWindows(t *testing.T) {
	c, err := NewChunker(1000, 200)
	if err != nil {
		t.Fatalf("new chunker: %v", err)
	}

	chunks := c.Chunk(docOf(pdfPage(1, strings.Repeat("a", 1500))))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Start != 0 || chunks[0].End != 1000 {
		t.Fatalf("first chunk [%d,%d)", chunks[0].Start, chunks[0].End)
	}
	if chunks[1].Start != 800 || chunks[1].End != 1500 {
		t.Fatalf("second chunk [%d,%d)", chunks[1].Start, chunks[1].End)
	}
	for i, ch := range chunks {
		if ch.Order != i {
			t.Fatalf("chunk %d has order %d", i, ch.Order)
		}
		if len([]rune(ch.Text)) != ch.End-ch.Start {
			t.Fatalf("chunk %d text length does not match span", i)
		}
	}
}

func TestChunkerShortDocument(t *testing.T) {
	c, _ := NewChunker(1000, 200)
	chunks := c.Chunk(docOf(pdfPage(1, "  a short page  ")))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "a short page" {
		t.Fatalf("unexpected text %q", chunks[0].Text)
	}
}

func TestChunkerExactMultiple(t *testing.T) {
	c, _ := NewChunker(10, 0)
	chunks := c.Chunk(docOf(pdfPage(1, strings.Repeat("x", 30))))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if last := chunks[len(chunks)-1]; last.End != 30 {
		t.Fatalf("last chunk ends at %d", last.End)
	}
}

func TestChunkerDeterministic(t *testing.T) {
	c, _ := NewChunker(50, 10)
	doc := docOf(pdfPage(1, strings.Repeat("lorem ipsum ", 20)), pdfPage(2, strings.Repeat("dolor sit ", 20)))

	a := c.Chunk(doc)
	b := c.Chunk(doc)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestChunkerPageMapping(t *testing.T) {
	c, _ := NewChunker(8, 0)
	// "aaaa\nbbbbbbbb" -> [0,8) spans both pages, [8,13) only page 2
	chunks := c.Chunk(docOf(pdfPage(1, "aaaa"), pdfPage(2, "bbbbbbbb")))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].FirstPage != 1 || chunks[0].LastPage != 2 {
		t.Fatalf("first chunk pages %d-%d", chunks[0].FirstPage, chunks[0].LastPage)
	}
	if chunks[0].Source != "PDF page 1-2" {
		t.Fatalf("unexpected source %q", chunks[0].Source)
	}
	if chunks[1].FirstPage != 2 || chunks[1].Source != "PDF page 2" {
		t.Fatalf("second chunk page %d source %q", chunks[1].FirstPage, chunks[1].Source)
	}
}

func TestChunkerEmptyDocument(t *testing.T) {
	c, _ := NewChunker(100, 10)
	if chunks := c.Chunk(docOf(pdfPage(1, "   "), pdfPage(2, ""))); len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
	if chunks := c.Chunk(nil); chunks != nil {
		t.Fatalf("expected nil for nil document")
	}
}

func TestNewChunkerInvalidParams(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewChunker(tt.size, tt.overlap); !errors.Is(err, models.ErrInvalidChunkParams) {
				t.Fatalf("expected ErrInvalidChunkParams, got %v", err)
			}
		})
	}
}
