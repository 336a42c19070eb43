package models

import (
	"context"
	"errors"
	"fmt"
)

// Pipeline and session errors. Callers wrap these with fmt.Errorf("...: %w")
// and classify with errors.Is.
var (
	ErrUnreadableDocument   = errors.New("unreadable document")
	ErrUnsupportedDocument  = fmt.Errorf("%w: unsupported format", ErrUnreadableDocument)
	ErrEmptyDocument        = errors.New("empty document")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrEmptyIndex           = errors.New("empty index")
	ErrLLMRequestFailed     = errors.New("llm request failed")
	ErrLLMTimeout           = errors.New("llm timeout")
	ErrLLMEmptyResponse     = errors.New("llm empty response")

	ErrSessionBusy        = errors.New("session busy")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionLimit       = errors.New("too many open sessions")
	ErrInvalidChunkParams = errors.New("invalid chunk parameters")
	ErrInvalidQuestion    = errors.New("invalid question")
	ErrQuestionTooLong    = fmt.Errorf("%w: too long", ErrInvalidQuestion)
	ErrDocumentTooLarge   = errors.New("document too large")
	ErrDocumentFetch      = errors.New("document download failed")
	ErrProcessingTimeout  = errors.New("processing timed out")
)

// UserMessage maps an error from the pipeline to the text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProcessingTimeout):
		return "The document took too long to process. Please try again or upload a smaller file."
	case errors.Is(err, ErrUnsupportedDocument):
		return "This file type is not supported. Please upload a PDF, DOCX or EML document."
	case errors.Is(err, ErrUnreadableDocument):
		return "Could not extract text. The file might be damaged, image-based, or in an unsupported format."
	case errors.Is(err, ErrEmptyDocument):
		return "The document does not contain any text to index."
	case errors.Is(err, ErrEmbeddingUnavailable):
		return "Failed to create document embeddings. Please try again later."
	case errors.Is(err, ErrEmptyIndex):
		return "Please upload a document first."
	case errors.Is(err, ErrLLMTimeout):
		return "The language model took too long to answer. Please try again."
	case errors.Is(err, ErrLLMEmptyResponse):
		return "The language model returned an empty answer. Please rephrase your question."
	case errors.Is(err, ErrLLMRequestFailed):
		return "The language model request failed. Please try again in a moment."
	case errors.Is(err, ErrSessionBusy):
		return "This session is still working on another request. Please wait for it to finish."
	case errors.Is(err, ErrSessionNotFound):
		return "Session not found or expired. Please start a new session."
	case errors.Is(err, ErrSessionLimit):
		return "The service is at capacity. Please try again later."
	case errors.Is(err, ErrQuestionTooLong):
		return "The question is too long. Please shorten it and try again."
	case errors.Is(err, ErrInvalidQuestion):
		return "Please enter a question."
	case errors.Is(err, ErrDocumentTooLarge):
		return "The file is larger than the upload limit."
	case errors.Is(err, ErrDocumentFetch):
		return "Failed to download the document from the given URL."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request took too long to finish. Please try again."
	case errors.Is(err, context.Canceled):
		return "The request was canceled before it finished."
	default:
		return "Something went wrong. Please try again."
	}
}
