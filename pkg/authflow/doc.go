// Package authflow is the single entry point for identity requests.
//
// Decide picks a flow for each inbound action. The one rule with weight:
// signing up or signing in while holding a valid anonymous session is an
// implicit link, so the anonymous data follows the user instead of being
// stranded on a second, disconnected identity. Sign-up links into a new
// permanent identity; sign-in merges into the existing one.
//
// Transient failures (store outages, lease contention) are retried with an
// explicit bounded policy and the attempt count is reported on the error.
package authflow
