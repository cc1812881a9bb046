package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

type contextKey string

const adminContextKey contextKey = "admin"

// RequireAdmin runs the access gate and rejects callers that are not an
// authorized admin. The granted identity is available via GetAdminFromContext.
func (a *AdminService) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := a.AuthorizeRequest(r)
		if !result.Authorized {
			if errors.Is(result.Err, ErrPersistenceFailed) {
				http.Error(w, result.Error, http.StatusInternalServerError)
				return
			}
			slog.Debug("Admin access required", "path", r.URL.Path, "state", result.State)
			http.Error(w, result.Error, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), adminContextKey, result.Identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAdminFromContext retrieves the authorized admin from the request context
func GetAdminFromContext(r *http.Request) *AccessIdentity {
	if admin, ok := r.Context().Value(adminContextKey).(*AccessIdentity); ok {
		return admin
	}
	return nil
}
