package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"query-sphere/internal/ai"
	"query-sphere/internal/logger"
	"query-sphere/internal/telemetry"
	"query-sphere/models"
	"query-sphere/services"

	"go.opentelemetry.io/otel/attribute"
)

// Loader parses an upload into pages.
type Loader interface {
	Load(ctx context.Context, up models.Upload) (*models.Document, error)
}

// Answerer turns retrieved chunks into an answer.
type Answerer interface {
	Answer(ctx context.Context, question string, hits []models.ScoredChunk) (*models.Answer, error)
}

// Pipeline holds the process-scoped collaborators shared by every session.
// None of them carry per-session state.
type Pipeline struct {
	Loader       Loader
	Chunker      *services.Chunker
	Embedder     ai.Embedder
	Answerer     Answerer
	TopK         int
	HistoryLimit int
	// MaxQuestionChars rejects longer questions before any work; zero
	// disables the check.
	MaxQuestionChars int
	// UploadTimeout bounds the whole load, chunk, embed and index run.
	UploadTimeout time.Duration
	Metrics       *telemetry.Metrics
}

// Session is one user's document and question cycle. All fields are guarded
// by mu; the pipeline itself runs without the lock so that a concurrent
// request is rejected instead of queued.
type Session struct {
	id string
	p  *Pipeline

	mu         sync.Mutex
	state      models.SessionState
	indexing   bool
	doc        *models.Document
	index      *services.VectorIndex
	lastAnswer *models.Answer
	lastErr    string
	history    []models.HistoryEntry
	createdAt  time.Time
	lastSeen   time.Time
}

func newSession(id string, p *Pipeline, now time.Time) *Session {
	return &Session{id: id, p: p, state: models.StateEmpty, createdAt: now, lastSeen: now}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Index returns the live index, nil while the session is Empty.
func (s *Session) Index() *services.VectorIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Session) View() models.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionView{
		ID:         s.id,
		State:      s.state,
		Document:   s.doc,
		ChunkCount: s.index.Len(),
		Indexing:   s.indexing,
		Questions:  len(s.history),
		LastAnswer: s.lastAnswer,
		LastError:  s.lastErr,
		CreatedAt:  s.createdAt,
		LastSeen:   s.lastSeen,
	}
}

func (s *Session) LastAnswer() *models.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAnswer
}

// History returns a copy of the recorded question rounds, oldest first.
func (s *Session) History() []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) Document() *models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// idleSince reports the last activity, and whether a pipeline is running.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen, s.indexing || s.state == models.StateAnswering
}

func (s *Session) busy() bool {
	return s.indexing || s.state == models.StateAnswering
}

// Upload loads, chunks, embeds and indexes a document. On success the new
// index replaces the old one and the session is Ready. Any failure drops the
// previous index and leaves the session Empty.
func (s *Session) Upload(ctx context.Context, up models.Upload) (*models.UploadResult, error) {
	s.mu.Lock()
	if s.busy() {
		s.mu.Unlock()
		return nil, models.ErrSessionBusy
	}
	s.indexing = true
	s.mu.Unlock()

	started := time.Now()
	log := logger.With("session_id", s.id, "filename", up.Filename)

	doc, index, err := s.build(ctx, up)
	elapsed := time.Since(started)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexing = false

	if err != nil {
		s.state = models.StateEmpty
		s.doc = nil
		s.index = nil
		s.lastAnswer = nil
		s.lastErr = models.UserMessage(err)
		s.p.Metrics.RecordUpload(elapsed.Seconds(), kindOf(doc), "error", 0)
		log.Warn("Document indexing failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return nil, err
	}

	s.state = models.StateReady
	s.doc = doc
	s.index = index
	s.lastAnswer = nil
	s.lastErr = ""
	s.p.Metrics.RecordUpload(elapsed.Seconds(), string(doc.Kind), "success", index.Len())
	log.Info("Document indexed", "document_id", doc.ID, "pages", doc.PageCount,
		"chunks", index.Len(), "dimension", index.Dimension(), "duration_ms", elapsed.Milliseconds())

	return &models.UploadResult{
		State:      s.state,
		Document:   doc,
		ChunkCount: index.Len(),
		Dimension:  index.Dimension(),
		BuildMs:    elapsed.Milliseconds(),
	}, nil
}

func (s *Session) build(ctx context.Context, up models.Upload) (*models.Document, *services.VectorIndex, error) {
	ctx, span := telemetry.StartStage(ctx, "upload",
		attribute.String("session.id", s.id), attribute.Int("document.bytes", len(up.Data)))
	if s.p.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.p.UploadTimeout)
		defer cancel()
	}
	doc, index, err := s.runStages(ctx, up)
	if err != nil && s.p.UploadTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", models.ErrProcessingTimeout, s.p.UploadTimeout, err)
	}
	telemetry.EndStage(span, err)
	return doc, index, err
}

func (s *Session) runStages(ctx context.Context, up models.Upload) (*models.Document, *services.VectorIndex, error) {
	_, span := telemetry.StartStage(ctx, "load")
	doc, err := s.p.Loader.Load(ctx, up)
	telemetry.EndStage(span, err)
	if err != nil {
		return nil, nil, err
	}

	_, span = telemetry.StartStage(ctx, "chunk", attribute.Int("document.pages", doc.PageCount))
	chunks := s.p.Chunker.Chunk(doc)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	if len(chunks) == 0 {
		err = fmt.Errorf("%w: %s", models.ErrEmptyDocument, up.Filename)
	}
	telemetry.EndStage(span, err)
	if err != nil {
		return doc, nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embedCtx, span := telemetry.StartStage(ctx, "embed", attribute.String("embedding.model", s.p.Embedder.Model()))
	vectors, err := s.p.Embedder.Embed(embedCtx, texts)
	telemetry.EndStage(span, err)
	if err != nil {
		return doc, nil, err
	}

	_, span = telemetry.StartStage(ctx, "index")
	index, err := services.NewVectorIndex(chunks, vectors, s.p.Embedder.Model())
	telemetry.EndStage(span, err)
	if err != nil {
		return doc, nil, err
	}
	return doc, index, nil
}

// Ask answers one question against the live index. It never modifies the
// index; the session returns to Ready whatever the outcome.
func (s *Session) Ask(ctx context.Context, question string) (*models.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, models.ErrInvalidQuestion
	}
	if limit := s.p.MaxQuestionChars; limit > 0 && utf8.RuneCountInString(question) > limit {
		return nil, fmt.Errorf("%w: %d characters allowed", models.ErrQuestionTooLong, limit)
	}

	s.mu.Lock()
	if s.busy() {
		s.mu.Unlock()
		return nil, models.ErrSessionBusy
	}
	if s.state == models.StateEmpty || s.index.Len() == 0 {
		s.mu.Unlock()
		return nil, models.ErrEmptyIndex
	}
	s.state = models.StateAnswering
	index := s.index
	docID := s.doc.ID
	s.mu.Unlock()

	started := time.Now()
	answer, err := s.answer(ctx, index, question)
	elapsed := time.Since(started)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = models.StateReady

	entry := models.HistoryEntry{Question: question, DocumentID: docID, AskedAt: started.UTC()}
	log := logger.With("session_id", s.id, "document_id", docID)
	if err != nil {
		entry.Error = models.UserMessage(err)
		s.lastErr = entry.Error
		s.p.Metrics.RecordQuestion(elapsed.Seconds(), "error")
		log.Warn("Question failed", "error", err, "duration_ms", elapsed.Milliseconds())
	} else {
		entry.Answer = answer
		s.lastAnswer = answer
		s.lastErr = ""
		s.p.Metrics.RecordQuestion(elapsed.Seconds(), "success")
		log.Info("Question answered", "sources", len(answer.Sources), "fallback", answer.Fallback,
			"duration_ms", elapsed.Milliseconds())
	}
	s.record(entry)

	if err != nil {
		return nil, err
	}
	return answer, nil
}

func (s *Session) answer(ctx context.Context, index *services.VectorIndex, question string) (*models.Answer, error) {
	retrieveCtx, span := telemetry.StartStage(ctx, "retrieve", attribute.String("session.id", s.id))
	hits, err := s.retrieve(retrieveCtx, index, question)
	telemetry.EndStage(span, err)
	if err != nil {
		return nil, err
	}

	answerCtx, span := telemetry.StartStage(ctx, "answer", attribute.Int("hits", len(hits)))
	answer, err := s.p.Answerer.Answer(answerCtx, question, hits)
	telemetry.EndStage(span, err)
	return answer, err
}

func (s *Session) retrieve(ctx context.Context, index *services.VectorIndex, question string) ([]models.ScoredChunk, error) {
	vectors, err := s.p.Embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: no query vector", models.ErrEmbeddingUnavailable)
	}
	return index.Search(vectors[0], s.p.TopK)
}

// record must be called with mu held.
func (s *Session) record(e models.HistoryEntry) {
	s.history = append(s.history, e)
	if limit := s.p.HistoryLimit; limit > 0 && len(s.history) > limit {
		s.history = append([]models.HistoryEntry(nil), s.history[len(s.history)-limit:]...)
	}
}

// release drops the index and history so they can be collected.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = nil
	s.doc = nil
	s.history = nil
	s.lastAnswer = nil
	s.state = models.StateEmpty
}

func kindOf(doc *models.Document) string {
	if doc == nil {
		return "unknown"
	}
	return string(doc.Kind)
}
