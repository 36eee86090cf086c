package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origins is a parsed CORS allow-list. An empty list or "*" allows every origin.
type Origins map[string]bool

// ParseOrigins parses "*" or a comma-separated list (e.g. "http://localhost:3000,http://localhost:3001").
func ParseOrigins(s string) Origins {
	m := make(Origins)
	for _, o := range strings.Split(strings.TrimSpace(s), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			m[o] = true
		}
	}
	return m
}

// Allow returns the Access-Control-Allow-Origin value for origin, or "" when it is not allowed.
func (o Origins) Allow(origin string) string {
	if len(o) == 0 || o["*"] {
		return "*"
	}
	if origin != "" && o[origin] {
		return origin
	}
	return ""
}

// CheckOrigin reports whether a WebSocket handshake from r may be upgraded. Requests without an
// Origin header come from non-browser clients and are allowed.
func (o Origins) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || o.Allow(origin) != ""
}

// CORS returns a middleware that sets CORS headers for cross-origin requests.
func CORS(allowedOrigins string) gin.HandlerFunc {
	origins := ParseOrigins(allowedOrigins)
	return func(c *gin.Context) {
		if allow := origins.Allow(c.GetHeader("Origin")); allow != "" {
			c.Header("Access-Control-Allow-Origin", allow)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
			if allow != "*" {
				c.Header("Vary", "Origin")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
