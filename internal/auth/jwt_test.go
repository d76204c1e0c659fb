package auth

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	return Claims{
		Role: domain.RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "jobboard",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.Error(t, err)
}

func TestVerifier_ValidateToken(t *testing.T) {
	v, err := NewVerifier(Config{SecretKey: testSecret, Issuer: "jobboard"})
	require.NoError(t, err)

	userID, role, err := v.ValidateToken(context.Background(), sign(t, testSecret, jwt.SigningMethodHS256, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.Equal(t, domain.RoleOperator, role)
}

func TestVerifier_RejectsInvalidTokens(t *testing.T) {
	v, err := NewVerifier(Config{SecretKey: testSecret, Issuer: "jobboard"})
	require.NoError(t, err)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	noSubject := validClaims()
	noSubject.Subject = ""

	badRole := validClaims()
	badRole.Role = "superuser"

	tests := []struct {
		name  string
		token string
		err   error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong secret", sign(t, "other", jwt.SigningMethodHS256, validClaims()), ErrInvalidToken},
		{"wrong algorithm", sign(t, testSecret, jwt.SigningMethodHS512, validClaims()), ErrInvalidToken},
		{"expired", sign(t, testSecret, jwt.SigningMethodHS256, expired), ErrInvalidToken},
		{"missing expiry", sign(t, testSecret, jwt.SigningMethodHS256, noExpiry), ErrInvalidToken},
		{"wrong issuer", sign(t, testSecret, jwt.SigningMethodHS256, wrongIssuer), ErrInvalidToken},
		{"missing subject", sign(t, testSecret, jwt.SigningMethodHS256, noSubject), ErrInvalidToken},
		{"unknown role", sign(t, testSecret, jwt.SigningMethodHS256, badRole), ErrUnknownRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := v.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
