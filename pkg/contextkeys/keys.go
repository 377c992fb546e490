// Package contextkeys provides centralized context key definitions
//
// All request-scoped values shared between middleware and handlers are
// defined here.
package contextkeys

import (
	"context"

	"github.com/platinummonkey/idlink/pkg/identity"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *identity.SessionView
	// Set by: middleware.SessionAuth (pkg/middleware/auth.go)
	// Required by: bearer-authenticated routes in pkg/api
	SessionKey Key = "session"
)

// WithSession adds the resolved session to the context
func WithSession(ctx context.Context, view *identity.SessionView) context.Context {
	return context.WithValue(ctx, SessionKey, view)
}

// Session returns the resolved session, or nil
func Session(ctx context.Context) *identity.SessionView {
	view, _ := ctx.Value(SessionKey).(*identity.SessionView)
	return view
}
