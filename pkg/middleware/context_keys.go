// Package middleware holds the gin middleware shared by the public and
// management servers.
package middleware

// ContextKey is a typed key for context values to avoid collisions
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"
)
