package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	dErrors "wxpass/pkg/domain-errors"
	"wxpass/pkg/platform/httputil"
)

// TokenValidator validates admin bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*AdminClaims, error)
}

// AdminClaims represents the claims we expect from the token validator.
type AdminClaims struct {
	Subject string
}

type contextKeyAdmin struct{}

// ContextKeyAdmin is exported for use in handlers.
var ContextKeyAdmin = contextKeyAdmin{}

// GetAdminSubject retrieves the authenticated admin subject from the context.
func GetAdminSubject(ctx context.Context) string {
	subject, ok := ctx.Value(ContextKeyAdmin).(string)
	if !ok {
		return ""
	}
	return subject
}

// RequireAdmin guards admin-only routes. Requests without a valid bearer token
// are rejected with 401 before reaching the handler.
func RequireAdmin(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "admin token rejected", "error", err)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid bearer token"))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAdmin, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
