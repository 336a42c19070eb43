package models

import "time"

// DocumentKind is the detected format of an uploaded file.
type DocumentKind string

const (
	KindPDF  DocumentKind = "pdf"
	KindDOCX DocumentKind = "docx"
	KindEML  DocumentKind = "eml"
)

// Upload is one binary file handed to the loader.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Page is the plain text of one page (or section, or paragraph) of a document.
type Page struct {
	Number int    `json:"number"`
	Source string `json:"source"`
	Text   string `json:"-"`
}

// Document is the ordered, immutable page sequence of one upload.
type Document struct {
	ID         string       `json:"id"`
	Filename   string       `json:"filename"`
	Kind       DocumentKind `json:"kind"`
	Size       int64        `json:"size"`
	Pages      []Page       `json:"-"`
	PageCount  int          `json:"page_count"`
	CharCount  int          `json:"char_count"`
	UploadedAt time.Time    `json:"uploaded_at"`
}

// Chunk is a bounded window of the concatenated document text.
// Start and End are rune offsets, End exclusive.
type Chunk struct {
	Order     int    `json:"order"`
	Text      string `json:"text"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	FirstPage int    `json:"first_page"`
	LastPage  int    `json:"last_page"`
	Source    string `json:"source"`
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
