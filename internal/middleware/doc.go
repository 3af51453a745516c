// Package middleware provides HTTP middleware for the data listener:
// request identity, completion logging, panic recovery and CORS.
//
// Middleware compose as func(http.Handler) http.Handler and run before
// the dispatcher; response header injection (CORS) is applied to the
// dispatcher's outcome, never consulted during dispatch itself.
package middleware
