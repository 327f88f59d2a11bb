package serve

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsPolicy decides which origins may call the API from a browser. An empty
// origin list allows any origin; the response still echoes the caller's
// origin rather than "*" so credentialed requests work.
type corsPolicy struct {
	allowAny bool
	origins  map[string]struct{}
}

func newCORSPolicy(originsCSV string) corsPolicy {
	p := corsPolicy{origins: map[string]struct{}{}}
	for _, part := range strings.Split(originsCSV, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			p.origins[origin] = struct{}{}
		}
	}
	if len(p.origins) == 0 {
		p.allowAny = true
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.allowAny {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

func corsMiddleware(originsCSV string) gin.HandlerFunc {
	policy := newCORSPolicy(originsCSV)
	return func(c *gin.Context) {
		if origin := strings.TrimSpace(c.GetHeader("Origin")); policy.allows(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
