package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/authgw/internal/observability"
)

// Metrics records request count, latency and in-flight requests. The
// service label is read from serviceKey on the gin context; requests that
// never reached a service are labelled observability.UnknownService.
func Metrics(m *observability.Metrics, serviceKey string, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if m == nil || skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		m.IncrementActiveRequests()
		defer m.DecrementActiveRequests()

		start := time.Now()
		c.Next()

		service := c.GetString(serviceKey)
		if service == "" {
			service = observability.UnknownService
		}
		m.RecordRequest(c.Request.Method, service, c.Writer.Status(), time.Since(start))
	}
}
