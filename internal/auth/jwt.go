// Package auth verifies bearer tokens issued by the platform identity service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("unknown role")
)

// Config holds token verification settings.
type Config struct {
	SecretKey string
	Issuer    string // checked when set
	Leeway    time.Duration
}

// Claims are the access token claims the service relies on.
type Claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed access tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a new token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("auth: secret key is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Verifier{
		secret: []byte(cfg.SecretKey),
		parser: jwt.NewParser(opts...),
	}, nil
}

// ValidateToken returns the subject and role carried by a valid token.
func (v *Verifier) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !claims.Role.HasPermission(domain.RoleUser) {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
	}

	return claims.Subject, claims.Role, nil
}
