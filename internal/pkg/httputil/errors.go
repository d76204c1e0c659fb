package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/jobboard-notify/internal/pkg/ctxlog"
)

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// HandleError maps a domain error to an HTTP response using the first matching mapping.
// Unmapped errors are logged and reported as 500 without leaking their text.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	status, msg := resolveError(err, mappings)
	if status == http.StatusInternalServerError {
		ctxlog.FromContext(ctx).Error("internal error", "error", err)
	} else {
		ctxlog.FromContext(ctx).Debug("request rejected", "status", status, "error", err)
	}
	Error(w, status, msg)
}

func resolveError(err error, mappings []ErrorMapping) (int, string) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		if m.Message != "" {
			return m.Status, m.Message
		}
		return m.Status, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}
