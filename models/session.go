package models

import "time"

// SessionState is the position of a session in its upload/answer cycle.
type SessionState string

const (
	StateEmpty     SessionState = "empty"
	StateReady     SessionState = "ready"
	StateAnswering SessionState = "answering"
)

// SessionView is the read-only projection of a session returned by the API.
type SessionView struct {
	ID         string       `json:"session_id"`
	State      SessionState `json:"state"`
	Document   *Document    `json:"document,omitempty"`
	ChunkCount int          `json:"chunk_count"`
	Indexing   bool         `json:"indexing"`
	Questions  int          `json:"questions"`
	LastAnswer *Answer      `json:"last_answer,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	LastSeen   time.Time    `json:"last_seen"`
}

// SessionCreated is returned once, when a session is opened.
type SessionCreated struct {
	ID        string       `json:"session_id"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	State     SessionState `json:"state"`
}

// UploadResult summarises a successful index build.
type UploadResult struct {
	State      SessionState `json:"state"`
	Document   *Document    `json:"document"`
	ChunkCount int          `json:"chunk_count"`
	Dimension  int          `json:"dimension"`
	BuildMs    int64        `json:"build_ms"`
}
