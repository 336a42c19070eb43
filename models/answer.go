package models

import "time"

// QuestionRequest is the body of a question submission.
type QuestionRequest struct {
	Question string `json:"question" binding:"required"`
}

// URLUploadRequest asks the service to fetch a public document.
type URLUploadRequest struct {
	URL string `json:"url" binding:"required"`
}

// Answer is the structured reply to one question.
type Answer struct {
	Question        string        `json:"question"`
	RelevantClause  string        `json:"relevant_clause"`
	Explanation     string        `json:"explanation"`
	ExplanationHTML string        `json:"explanation_html,omitempty"`
	SourceReference string        `json:"source_reference"`
	Fallback        bool          `json:"fallback,omitempty"`
	Sources         []ScoredChunk `json:"sources"`
	Model           string        `json:"model"`
	LatencyMs       int64         `json:"latency_ms"`
	AnsweredAt      time.Time     `json:"answered_at"`
}

// HistoryEntry records one question round, successful or not.
type HistoryEntry struct {
	Question   string    `json:"question"`
	Answer     *Answer   `json:"answer,omitempty"`
	Error      string    `json:"error,omitempty"`
	DocumentID string    `json:"document_id"`
	AskedAt    time.Time `json:"asked_at"`
}
