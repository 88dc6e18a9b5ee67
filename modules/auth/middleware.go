package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey int

const subjectKey contextKey = 0

// SubjectFromContext returns the authenticated username, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok
}

// exempt paths never require a token: the login surface itself, liveness
// and metrics. CORS preflight is exempt wholesale because browsers send
// it without credentials.
func exempt(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	p := r.URL.Path
	return strings.HasPrefix(p, "/auth/") || p == "/health" || p == "/metrics"
}

// Middleware rejects requests without a valid bearer token. Failures get
// a bare 401 so the boundary leaks nothing about why.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		subject, err := a.Verify(strings.TrimPrefix(header, prefix))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, subject)))
	})
}
