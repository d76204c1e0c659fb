package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	tokens map[string]Principal
}

func (s stubValidator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	p, ok := s.tokens[token]
	if !ok {
		return "", "", errors.New("bad token")
	}
	return p.UserID, p.Role, nil
}

func TestAuthMiddleware(t *testing.T) {
	validator := stubValidator{tokens: map[string]Principal{
		"op-token":   {UserID: "u1", Role: domain.RoleOperator},
		"user-token": {UserID: "u2", Role: domain.RoleUser},
	}}

	var seen Principal
	handler := AuthMiddleware(validator)(RequireRole(domain.RoleOperator)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = PrincipalFrom(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}),
	))

	tests := []struct {
		name     string
		header   string
		expected int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic op-token", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"insufficient role", "Bearer user-token", http.StatusForbidden},
		{"operator", "Bearer op-token", http.StatusNoContent},
		{"lowercase scheme", "bearer op-token", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.expected, rec.Code)
		})
	}

	assert.Equal(t, Principal{UserID: "u1", Role: domain.RoleOperator}, seen)
}

func TestRequireRole_WithoutPrincipal(t *testing.T) {
	handler := RequireRole(domain.RoleUser)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleError(t *testing.T) {
	errNotFound := errors.New("thing not found")
	errConflict := errors.New("thing conflict")
	mappings := []ErrorMapping{
		{Error: errNotFound, Status: http.StatusNotFound, Message: "not found"},
		{Error: errConflict, Status: http.StatusConflict},
	}

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"mapped with message", errNotFound, http.StatusNotFound, "not found"},
		{"mapped wrapped uses error text", errors.Join(errConflict), http.StatusConflict, "thing conflict"},
		{"unmapped", errors.New("db exploded"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(context.Background(), rec, tt.err, mappings)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), `"message":"`+tt.message+`"`)
			require.NotContains(t, rec.Body.String(), "db exploded")
		})
	}
}
