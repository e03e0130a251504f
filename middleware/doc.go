// Package middleware provides the HTTP middleware the broker endpoints are
// wrapped in: request id propagation and structured request logging. Both
// are plain net/http middleware so they compose with any mux.
package middleware
