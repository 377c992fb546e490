// Package middleware provides HTTP middleware for session authentication and
// rate limiting.
//
// SessionAuth resolves the bearer token into a session view and stores it in
// the request context. When the token was replaced by a link commit the new
// token is returned in the X-Session-Token header:
//
//	auth := middleware.NewSessionAuth(orchestrator, false)
//	router.Handle("/identity/session", auth.Handler(handler))
//
// RequirePermanent rejects anonymous sessions with 403.
//
// RateLimitMiddleware limits per client IP. It uses DistributedRateLimiter
// when Redis is configured and the in-memory RateLimiter otherwise. Limiter
// errors fail open.
package middleware
