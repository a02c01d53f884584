package ipc

import (
	"context"
	"net/http"
	"strings"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// Authenticator resolves the caller of a request. Identity management lives
// outside the engine; the engine only needs a stable caller id.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// StaticTokens maps bearer tokens to caller ids.
type StaticTokens map[string]string

// Authenticate looks up the request's bearer token.
func (s StaticTokens) Authenticate(r *http.Request) (string, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", domain.ErrUnauthorized
	}
	caller, ok := s[strings.TrimSpace(token)]
	if !ok || caller == "" {
		return "", domain.ErrUnauthorized
	}
	return caller, nil
}

type callerKey struct{}

// requireAuth rejects unauthenticated requests and stores the caller id in
// the request context.
func requireAuth(auth Authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := auth.Authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	}
}

// callerID returns the authenticated caller of r.
func callerID(r *http.Request) string {
	caller, _ := r.Context().Value(callerKey{}).(string)
	return caller
}
