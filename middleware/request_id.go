package middleware

import (
	"log/slog"

	"query-sphere/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"

	requestIDKey     = "request_id"
	requestLoggerKey = "request_logger"
)

// RequestIDMiddleware accepts a caller supplied X-Request-ID (up to 128
// bytes) or generates one, echoes it back and attaches a logger carrying it.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		c.Set(requestIDKey, requestID)
		c.Set(requestLoggerKey, logger.With("request_id", requestID))
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequestLogger returns the request's logger, with the session ID added once
// the session is resolved.
func RequestLogger(c *gin.Context) *slog.Logger {
	l, ok := c.Get(requestLoggerKey)
	if !ok {
		l = logger.With("request_id", GetRequestID(c))
	}
	log := l.(*slog.Logger)
	if id := GetSessionID(c); id != "" {
		log = log.With("session_id", id)
	}
	return log
}
