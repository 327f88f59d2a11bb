package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/memory"
	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/security"
)

// MountRoutes mounts the admin API: policy triggers, cluster maintenance,
// tier stats, and store inspection. Every route requires the admin
// capability.
func MountRoutes(r *gin.Engine, mgr *memory.Manager, cfg *config.Config, auth gin.HandlerFunc) {
	if mgr == nil {
		return
	}
	g := r.Group("/v1/admin", auth, security.RequireAdmin(), security.AdminAuditMiddleware())

	g.POST("/policies/run", func(c *gin.Context) { runPolicies(c, mgr, cfg) })
	g.POST("/clusters/rebuild", func(c *gin.Context) { rebuildClusters(c, mgr) })
	g.GET("/clusters", func(c *gin.Context) { listClusters(c, mgr) })
	g.GET("/tiers", func(c *gin.Context) { tierStats(c, mgr) })
	g.GET("/inspect", func(c *gin.Context) { inspect(c, mgr) })
}

// runPolicies triggers one full policy run bounded by the configured run
// timeout. A run that hits the deadline still succeeds with the counts
// collected so far and partial=true.
func runPolicies(c *gin.Context, mgr *memory.Manager, cfg *config.Config) {
	ctx := c.Request.Context()
	if cfg != nil && cfg.PolicyRunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.PolicyRunTimeout)
		defer cancel()
	}
	counts, err := mgr.RunPolicies(ctx)
	if err != nil {
		var timeout *registrystore.TimeoutError
		if !errors.As(err, &timeout) {
			handleError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, counts)
}

type rebuildRequest struct {
	UserID string `json:"user_id"`
}

func rebuildClusters(c *gin.Context, mgr *memory.Manager) {
	var req rebuildRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if req.UserID == "" {
		req.UserID = c.Query("user_id")
	}
	changed, err := mgr.RebuildClusters(c.Request.Context(), req.UserID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func listClusters(c *gin.Context, mgr *memory.Manager) {
	clusters, err := mgr.Clusters(c.Request.Context(), registrystore.ClusterQuery{
		UserID:   c.Query("user_id"),
		Topic:    c.Query("topic"),
		Category: c.Query("category"),
		Limit:    queryInt(c, "limit", 100),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "count": len(clusters)})
}

func tierStats(c *gin.Context, mgr *memory.Manager) {
	stats, err := mgr.TierStats(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": stats})
}

func inspect(c *gin.Context, mgr *memory.Manager) {
	snap, err := mgr.Inspect(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// --- Helpers ---

func handleError(c *gin.Context, err error) {
	switch registrystore.Kind(err) {
	case registrystore.KindInvalidArgument:
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case registrystore.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case registrystore.KindStorageConflict:
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "error": err.Error()})
	case registrystore.KindScopeUnauthorized:
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	case registrystore.KindTimeout:
		c.JSON(http.StatusGatewayTimeout, gin.H{"code": "timeout", "error": err.Error()})
	case registrystore.KindDependencyFailure:
		c.JSON(http.StatusBadGateway, gin.H{"code": "dependency_failure", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
