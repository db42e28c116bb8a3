package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/authgw/internal/observability"
)

// RequestIDKey is the gin context key for the request ID.
const RequestIDKey = "requestID"

// maxRequestIDLength caps caller-supplied IDs.
const maxRequestIDLength = 128

// RequestID assigns every request an ID, reusing a caller-supplied
// X-Request-ID when present. The ID is echoed in the response, stored on
// the gin context and attached to the request context for logging and
// propagation to backends.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(observability.RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(observability.RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(observability.ContextWithRequestID(c.Request.Context(), requestID))

		c.Next()
	}
}

// GetRequestID returns the request ID from the context.
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
