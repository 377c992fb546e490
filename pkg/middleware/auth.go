package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/idlink/pkg/contextkeys"
	"github.com/platinummonkey/idlink/pkg/httputil"
	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/observability"
)

// SessionTokenHeader carries a replacement token after a link redirect
const SessionTokenHeader = "X-Session-Token"

// SessionResolver turns a bearer token into a session
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*identity.SessionView, error)
}

// SessionAuth authenticates requests by bearer session token
type SessionAuth struct {
	resolver SessionResolver
	optional bool // If true, allow requests without a valid session
}

// NewSessionAuth creates a new session authentication middleware
func NewSessionAuth(resolver SessionResolver, optional bool) *SessionAuth {
	return &SessionAuth{
		resolver: resolver,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with session authentication
func (m *SessionAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := httputil.BearerToken(r)
		if token == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing bearer token")
			return
		}

		view, err := m.resolver.ResolveSession(r.Context(), token)
		if err != nil {
			if m.optional && identity.KindOf(err) == identity.KindSessionExpired {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteIdentityError(w, err)
			return
		}

		// Clients holding a token replaced by a link swap to this one
		if view.Redirected {
			w.Header().Set(SessionTokenHeader, view.Token)
		}

		ctx := contextkeys.WithSession(r.Context(), view)
		ctx = observability.WithIdentityID(ctx, view.Identity.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSession extracts the resolved session from the request
func GetSession(r *http.Request) *identity.SessionView {
	return contextkeys.Session(r.Context())
}

// RequirePermanent rejects anonymous sessions
func RequirePermanent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		view := GetSession(r)
		if view == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if view.Identity.IsAnonymous() {
			httputil.WriteForbidden(w, "a permanent account is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
