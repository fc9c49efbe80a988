// Package auth issues and validates the bearer tokens that identify a
// gateway connection's user (§6.2). A missing or invalid token degrades
// to a generated guest identity rather than refusing the connection.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the token lifetime issued by IssueToken when none is
// specified.
const DefaultTTL = 24 * time.Hour

// Claims is the JWT payload this gateway issues and verifies.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Issuer signs and validates HMAC-SHA256 bearer tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secretKey string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secretKey), ttl: ttl}
}

// IssueToken signs a token for userID, returning the signed string and
// the expiry it carries.
func (i *Issuer) IssueToken(userID string) (token string, expiresIn time.Duration, err error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, i.ttl, nil
}

// ValidateToken parses and verifies token, returning the user id it
// carries. Any failure (expired, malformed, bad signature) returns a
// non-nil error; callers should fall back to a guest identity rather
// than reject the connection (§7, "Auth invalid/expired").
func (i *Issuer) ValidateToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.UserID, nil
}

// NewGuestUserID generates a guest identity for connections without a
// valid token.
func NewGuestUserID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return "guest_" + hex.EncodeToString(buf)
}

// ResolveUserID validates token when present, falling back to a fresh
// guest id on any failure or empty token.
func (i *Issuer) ResolveUserID(token string) string {
	if token == "" {
		return NewGuestUserID()
	}
	userID, err := i.ValidateToken(token)
	if err != nil {
		return NewGuestUserID()
	}
	return userID
}
