// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Errors
//
// Handlers return identity errors through WriteIdentityError, or WriteLinkError
// on link routes. The status comes from the error kind:
//
//	validation        400
//	conflict          409
//	lease_contention  409 + Retry-After
//	session_expired   401
//	not_found         404
//	store_unavailable 503 + Retry-After
//	migration_failure 500
//
// Link route errors always carry anonymous_data_intact so a client knows
// whether the anonymous data it still holds is safe to keep using.
//
// # Request Parsing
//
//	var req signUpRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
