// Package client is the HTTP client for the idlink identity API.
//
// Errors returned by the server are decoded back into *identity.Error so
// callers can branch on identity.KindOf and identity.DataIntact exactly as
// server-side code does. Transport failures are reported as
// store_unavailable and are therefore retryable.
//
// Link runs begin and commit under a bounded timeout. When the timeout
// fires the link is reported as a migration failure with the anonymous
// data intact; the server-side lease decides the real outcome and a later
// session refresh observes it.
package client
