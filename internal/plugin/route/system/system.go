package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/memoric/memoric/internal/registry/route"
)

var ready atomic.Bool

// MarkReady flips the readiness probe to serving. Call it once startup has
// mounted all routes and the store is reachable.
func MarkReady() { ready.Store(true) }

func init() {
	registryroute.Register(registryroute.Plugin{
		Order:  0,
		Loader: mount,
	})
}

func mount(r *gin.Engine) error {
	r.GET("/health", health)
	r.GET("/ready", readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return nil
}

// health is the liveness probe: the process is up and serving requests.
func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readiness reports whether initialization has completed.
func readiness(c *gin.Context) {
	if !ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
