package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zenithlabs/authcore"
)

// SessionValidator is the slice of *authcore.Engine the guards need.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*authcore.SessionClaims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims a guard stored for this request.
func ClaimsFromContext(ctx context.Context) (*authcore.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*authcore.SessionClaims)
	return claims, ok
}

// Guard rejects requests without a valid "Authorization: Bearer" session
// token with 401.
func Guard(v SessionValidator) func(http.Handler) http.Handler {
	return guard(v, nil)
}

func guard(v SessionValidator, allow func(*authcore.SessionClaims) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.ValidateSession(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if allow != nil && !allow(claims) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
