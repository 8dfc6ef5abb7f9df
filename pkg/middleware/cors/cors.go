// Package cors answers browser preflight requests and marks responses with the
// headers the records console reads (export filenames, request IDs, cache state).
package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowMethods    = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	allowHeaders    = "Authorization, Content-Type, X-Request-ID"
	exposeHeaders   = "Content-Disposition, X-Request-ID, X-Cache"
	preflightMaxAge = "600"
)

// New admits requests from the listed origins. With no origins configured any
// origin is echoed back, which is meant for local development only. Preflights
// from other origins are refused with 403; plain requests from them proceed
// without CORS headers and the browser withholds the response.
func New(allowedOrigins []string) gin.HandlerFunc {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[normalize(origin)] = struct{}{}
	}
	allowAny := len(origins) == 0

	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Add("Vary", "Origin")

		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		preflight := c.Request.Method == http.MethodOptions
		if _, ok := origins[normalize(origin)]; !ok && !allowAny {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		header.Set("Access-Control-Allow-Origin", origin)
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Set("Access-Control-Expose-Headers", exposeHeaders)
		if preflight {
			header.Set("Access-Control-Allow-Methods", allowMethods)
			header.Set("Access-Control-Allow-Headers", allowHeaders)
			header.Set("Access-Control-Max-Age", preflightMaxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func normalize(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
