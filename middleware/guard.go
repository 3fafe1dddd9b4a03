package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/naballard/authflow"
	"github.com/naballard/authflow/scope"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the validation result a guard stored
// for the current request.
func AuthResultFromContext(ctx context.Context) (*authflow.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authflow.AuthResult)
	return res, ok
}

// Guard returns middleware that rejects requests without a valid
// bearer token.
func Guard(engine *authflow.Engine) func(http.Handler) http.Handler {
	return guard(engine, nil)
}

// RequireScopes returns middleware that additionally checks the
// caller's role grants every listed scope.
func RequireScopes(engine *authflow.Engine, required ...scope.Scope) func(http.Handler) http.Handler {
	return guard(engine, required)
}

func guard(engine *authflow.Engine, required []scope.Scope) func(http.Handler) http.Handler {
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

			res, err := engine.Authorize(r.Context(), token, required...)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, authflow.ErrPermissionDenied) {
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
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
