package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// AccessVerifier validates bearer access tokens.
type AccessVerifier interface {
	Authenticate(accessToken string) (AccessClaims, error)
}

// Middleware rejects requests without a valid admin access token and stores the claims in the context.
func Middleware(verifier AccessVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "invalid authorization token")
			return
		}

		claims, err := verifier.Authenticate(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if claims.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func ClaimsFromContext(ctx context.Context) (AccessClaims, bool) {
	claims, ok := ctx.Value(contextKey{}).(AccessClaims)
	return claims, ok
}

func AccountIDFromContext(ctx context.Context) (string, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// WithClaims attaches already verified claims to ctx.
func WithClaims(ctx context.Context, claims AccessClaims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}
