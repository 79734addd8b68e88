// Package middleware provides the gin middleware for the termmux HTTP API:
// CORS for the browser front end, per-IP rate limiting, and request ids with
// access logging.
package middleware
