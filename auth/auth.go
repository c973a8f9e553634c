// Package auth issues and verifies the JWT session cookies used by the API.
// The set of valid participants is supplied by configuration; the core never
// hardcodes an allow-list.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the session cookie carrying the JWT token.
const CookieName = "xpense-token"

// ErrInvalidToken is returned when a token fails verification or has expired.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the session claims: the username doubles as the participant id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager creates and verifies HS256 session tokens.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewJWTManager creates a JWT manager. secretKey should be a strong random
// string; tokenDuration is how long sessions remain valid.
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

// CreateCookie returns an http cookie containing a signed token for username,
// set to expire with the token itself.
func (m *JWTManager) CreateCookie(username string) (http.Cookie, error) {
	expiresAt := time.Now().Add(m.tokenDuration)

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return http.Cookie{}, fmt.Errorf("signing token: %w", err)
	}

	return http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Expires:  expiresAt,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// VerifyToken verifies a token string and returns the username it was issued
// for.
func (m *JWTManager) VerifyToken(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}
