package utils

import (
	"context"
	"errors"
	"net/http"

	"query-sphere/models"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithUnauthorized sends a 401 Unauthorized error
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}

// ErrorStatus maps a pipeline or session error to an HTTP status and error code.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrProcessingTimeout):
		return http.StatusGatewayTimeout, "processing_timeout"
	case errors.Is(err, models.ErrUnsupportedDocument):
		return http.StatusUnsupportedMediaType, "unsupported_document"
	case errors.Is(err, models.ErrUnreadableDocument):
		return http.StatusUnprocessableEntity, "unreadable_document"
	case errors.Is(err, models.ErrEmptyDocument):
		return http.StatusUnprocessableEntity, "empty_document"
	case errors.Is(err, models.ErrDocumentTooLarge):
		return http.StatusRequestEntityTooLarge, "document_too_large"
	case errors.Is(err, models.ErrDocumentFetch):
		return http.StatusBadGateway, "document_fetch_failed"
	case errors.Is(err, models.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable, "embedding_unavailable"
	case errors.Is(err, models.ErrEmptyIndex):
		return http.StatusConflict, "empty_index"
	case errors.Is(err, models.ErrLLMTimeout):
		return http.StatusGatewayTimeout, "llm_timeout"
	case errors.Is(err, models.ErrLLMEmptyResponse):
		return http.StatusBadGateway, "llm_empty_response"
	case errors.Is(err, models.ErrLLMRequestFailed):
		return http.StatusBadGateway, "llm_request_failed"
	case errors.Is(err, models.ErrSessionBusy):
		return http.StatusConflict, "session_busy"
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, models.ErrSessionLimit):
		return http.StatusServiceUnavailable, "session_limit"
	case errors.Is(err, models.ErrQuestionTooLong):
		return http.StatusBadRequest, "question_too_long"
	case errors.Is(err, models.ErrInvalidQuestion):
		return http.StatusBadRequest, "invalid_question"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request_timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "request_canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// RespondWithPipelineError sends the status, code and user message for err.
func RespondWithPipelineError(c *gin.Context, err error, details interface{}) {
	status, code := ErrorStatus(err)
	RespondWithError(c, status, code, models.UserMessage(err), details)
}
