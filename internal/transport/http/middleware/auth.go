package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/httputil"
	"github.com/septivank/medimind-backend/internal/identity"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// ClaimsKey is the context key for the verified token claims
const ClaimsKey contextKey = "claims"

// TokenVerifier verifies bearer tokens. *identity.Gate implements it.
type TokenVerifier interface {
	Verify(token string) (*identity.Claims, error)
}

// AuthMiddleware rejects requests without a valid token. A missing or
// garbled token is 401, a token that fails verification is 403.
// The token is read from the Authorization header, falling back to the
// "token" query parameter for websocket clients that cannot set headers.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				tokenString = r.URL.Query().Get("token")
			}

			if tokenString == "" {
				httputil.WriteUnauthorized(w, "Access token required")
				return
			}

			claims, err := verifier.Verify(tokenString)
			if err != nil {
				if errors.Is(err, apperr.ErrUnauthorized) {
					httputil.WriteUnauthorized(w, "Access token required")
					return
				}
				httputil.WriteForbidden(w, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaimsFromContext extracts the verified claims from the request context
func GetClaimsFromContext(ctx context.Context) (*identity.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*identity.Claims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	// Expected format: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
