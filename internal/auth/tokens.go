package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer = "query-sphere"

	// DefaultTokenLifetime bounds a token; the session's idle TTL usually ends it first.
	DefaultTokenLifetime = 12 * time.Hour
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims identify the session a token was issued for.
type Claims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// SessionTokens issues and validates HS256 session tokens.
type SessionTokens struct {
	secret   []byte
	lifetime time.Duration
}

// NewSessionTokens uses secret when set. Without one a random key is
// generated, so tokens do not survive a restart (neither do sessions).
func NewSessionTokens(secret string, lifetime time.Duration) (*SessionTokens, error) {
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
	} else if len(secret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &SessionTokens{secret: key, lifetime: lifetime}, nil
}

// Issue signs a token for sessionID and returns it with its expiry.
func (t *SessionTokens) Issue(sessionID string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(t.lifetime)

	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Validate parses a token, with or without the "Bearer " prefix.
func (t *SessionTokens) Validate(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
