// Package api is the HTTP surface of the identity service.
//
// Routes:
//
//	POST /identity/anonymous            create an anonymous identity (rate limited per IP)
//	POST /identity/signup               sign up; links when an anonymous session is presented
//	POST /identity/signin               sign in; merges when an anonymous session is presented
//	POST /identity/link/begin           start an explicit link (bearer)
//	POST /identity/link/commit          commit a link, replay-safe (bearer)
//	GET  /identity/link/{id}            link request status (bearer)
//	GET  /identity/session              resolve the bearer session, following link redirects
//	POST /identity/signout              end the bearer session
//	POST /identity/magic-link           email a one-time sign-in link
//	GET|POST /identity/magic-link/verify
//	GET  /api/user/profile              permanent identities only (bearer)
//	GET|POST /api/resources             owned data (bearer)
//	/health, /health/live, /health/ready, /metrics
//
// Errors are JSON bodies whose status follows the identity error kind.
// Link routes always report anonymous_data_intact.
package api
