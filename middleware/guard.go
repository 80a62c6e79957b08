package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/roma-frontend/fitauth"
	"github.com/roma-frontend/fitauth/permission"
)

// TokenValidator checks an access token. *fitauth.Engine implements it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (fitauth.TokenInfo, error)
}

type tokenInfoContextKey struct{}

// WithTokenInfo attaches validated token claims to ctx.
func WithTokenInfo(ctx context.Context, info fitauth.TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoContextKey{}, info)
}

// TokenInfoFromContext returns the claims stored by [Guard].
func TokenInfoFromContext(ctx context.Context) (fitauth.TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoContextKey{}).(fitauth.TokenInfo)
	return info, ok
}

// ClientMetadata copies the caller address and User-Agent of r into the
// request context so logins and audit entries see them.
func ClientMetadata(r *http.Request, clientIP string) context.Context {
	ctx := fitauth.WithClientIP(r.Context(), clientIP)
	return fitauth.WithUserAgent(ctx, r.UserAgent())
}

// Guard rejects requests without a valid bearer token and passes the
// validated claims down through the request context.
func Guard(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTokenInfo(r.Context(), info)))
		})
	}
}

// RequirePermission must run behind [Guard]. It rejects callers whose role
// lacks perm.
func RequirePermission(roles *permission.Roles, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := TokenInfoFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !roles.Allows(info.Role, perm) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
