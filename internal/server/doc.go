// Package server wires the HTTP API behind a middleware chain covering
// authentication, rate limiting, metrics, audit logging, security headers,
// CORS, and request-scoped logging.
package server
