// Package middleware provides the gin middleware chain of the gateway:
// panic recovery, request IDs, access logging, tracing, request metrics
// and the inbound body size limit.
package middleware
