// Package auth verifies the HMAC-signed tokens presented on WebSocket
// handshakes. A token binds a connecting client to an actor name and may
// mark the connection read-only.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/burrowlabs/burrow/internal/config"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidIssuer    = errors.New("invalid token issuer")
	ErrMissingSubject   = errors.New("token missing subject")
	ErrActorMismatch    = errors.New("token not valid for this actor")
	ErrInvalidSignature = errors.New("invalid token signature")
)

type tokenClaims struct {
	jwt.RegisteredClaims
	Actor    string `json:"actor,omitempty"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// Grant is the verified content of a handshake token.
type Grant struct {
	Subject  string
	Actor    string
	ReadOnly bool
}

// TokenService issues and verifies handshake tokens.
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a token service from config.
func NewTokenService(cfg config.AuthConfig) *TokenService {
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
	}
}

// Issue mints a token granting subject access to actor until expiry.
// ReadOnly tokens produce connections that cannot submit state updates.
func (s *TokenService) Issue(subject, actor string, readOnly bool, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
		Actor:    actor,
		ReadOnly: readOnly,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates a handshake token against the actor being connected to.
// Tokens without an actor claim are valid for any actor.
func (s *TokenService) Verify(tokenString, actor string) (*Grant, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrInvalidIssuer
	}

	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	if claims.Actor != "" && claims.Actor != actor {
		return nil, ErrActorMismatch
	}

	return &Grant{
		Subject:  claims.Subject,
		Actor:    claims.Actor,
		ReadOnly: claims.ReadOnly,
	}, nil
}
