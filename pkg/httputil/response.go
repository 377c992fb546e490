// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/idlink/pkg/identity"
)

// RetryAfterSeconds is advertised on retryable failures
const RetryAfterSeconds = 1

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ErrorResponse is the body of every error response
type ErrorResponse = identity.ErrorBody

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind identity.ErrorKind) int {
	switch kind {
	case identity.KindValidation:
		return http.StatusBadRequest
	case identity.KindConflict, identity.KindLeaseContention:
		return http.StatusConflict
	case identity.KindSessionExpired:
		return http.StatusUnauthorized
	case identity.KindNotFound:
		return http.StatusNotFound
	case identity.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteIdentityError writes an identity error with its mapped status
func WriteIdentityError(w http.ResponseWriter, err error) {
	writeIdentityError(w, err, false)
}

// WriteLinkError writes an identity error from a link route. The body
// always states whether the anonymous data is intact.
func WriteLinkError(w http.ResponseWriter, err error) {
	writeIdentityError(w, err, true)
}

func writeIdentityError(w http.ResponseWriter, err error, link bool) {
	kind := identity.KindOf(err)
	resp := ErrorResponse{
		Error:     err.Error(),
		Kind:      kind,
		Retryable: identity.IsRetryable(err),
	}

	var ie *identity.Error
	if errors.As(err, &ie) {
		resp.Attempts = ie.Attempts
		if ie.Message != "" && kind != identity.KindInternal {
			resp.Error = ie.Message
		}
	}
	if kind == identity.KindInternal {
		resp.Error = "internal server error"
	}
	if link {
		intact := identity.DataIntact(err)
		resp.AnonymousDataIntact = &intact
	}
	if resp.Retryable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}

	WriteJSON(w, StatusFor(kind), resp)
}
