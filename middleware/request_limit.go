package middleware

import (
	"net/http"
	"strings"

	"query-sphere/utils"

	"github.com/gin-gonic/gin"
)

// DefaultJSONBodyLimit bounds question and URL bodies.
const DefaultJSONBodyLimit = 64 << 10

// RequestSizeLimit caps request bodies. Multipart document uploads may use
// uploadMax; every other body is held to jsonMax. Bodies without a
// Content-Length are cut off by http.MaxBytesReader.
func RequestSizeLimit(uploadMax, jsonMax int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := jsonMax
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			limit = uploadMax
		}

		if c.Request.ContentLength > limit {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge,
				"request_too_large",
				"Request body exceeds maximum size",
				gin.H{
					"max_size":    limit,
					"received":    c.Request.ContentLength,
					"max_size_mb": float64(limit) / (1024 * 1024),
				})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
