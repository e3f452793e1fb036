package middleware

import (
	"context"
	"net/http"
	"strings"

	sessionauth "github.com/bingeworks/sessionauth"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the validated auth result injected by [Guard],
// or false when the request did not pass through it.
func AuthResultFromContext(ctx context.Context) (*sessionauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*sessionauth.AuthResult)
	return res, ok
}

// Guard returns middleware that rejects requests without a valid Bearer
// access token and injects the validated result into the request context.
func Guard(engine *sessionauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
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
