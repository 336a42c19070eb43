package middleware

import (
	"errors"
	"net/http"
	"strings"

	"query-sphere/internal/auth"
	"query-sphere/internal/session"
	"query-sphere/models"
	"query-sphere/utils"

	"github.com/gin-gonic/gin"
)

const (
	SessionTokenHeader = "X-Session-Token"
	sessionKey         = "session"
	sessionIDKey       = "session_id"
)

// RequireSession resolves the session named by the request's token.
func RequireSession(tokens *auth.SessionTokens, manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c)
		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Session token is required")
			c.Abort()
			return
		}

		claims, err := tokens.Validate(tokenString)
		if err != nil {
			utils.RespondWithUnauthorized(c, "Invalid or expired session token")
			c.Abort()
			return
		}

		s, err := manager.Get(claims.SessionID)
		if err != nil {
			if errors.Is(err, models.ErrSessionNotFound) {
				utils.RespondWithError(c, http.StatusNotFound, "session_not_found", models.UserMessage(err), nil)
			} else {
				utils.RespondWithInternalError(c, "Failed to load session", nil)
			}
			c.Abort()
			return
		}

		c.Set(sessionKey, s)
		c.Set(sessionIDKey, s.ID())
		c.Next()
	}
}

// ExtractToken reads "Authorization: Bearer <token>" or X-Session-Token.
func ExtractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(c.GetHeader(SessionTokenHeader))
}

// GetSession returns the session resolved by RequireSession.
func GetSession(c *gin.Context) *session.Session {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(*session.Session); ok {
			return s
		}
	}
	return nil
}

func GetSessionID(c *gin.Context) string {
	return c.GetString(sessionIDKey)
}
