package memories

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memoric/memoric/internal/memory"
	"github.com/memoric/memoric/internal/model"
	registrystore "github.com/memoric/memoric/internal/registry/store"
)

// MountRoutes mounts the memory REST endpoints on the given router.
func MountRoutes(r *gin.Engine, mgr *memory.Manager, auth gin.HandlerFunc) {
	if mgr == nil {
		return
	}
	g := r.Group("/v1", auth)

	g.POST("/memories", func(c *gin.Context) { saveMemory(c, mgr) })
	g.POST("/memories/retrieve", func(c *gin.Context) { retrieveMemories(c, mgr) })
	g.POST("/memories/context", func(c *gin.Context) { retrieveContext(c, mgr) })
	g.POST("/memories/promote", func(c *gin.Context) { promoteTier(c, mgr) })
	g.GET("/memories/:id", func(c *gin.Context) { getMemory(c, mgr) })
	g.DELETE("/memories/:id", func(c *gin.Context) { deleteMemory(c, mgr) })
	g.GET("/events", func(c *gin.Context) { listEvents(c, mgr) })
}

func saveMemory(c *gin.Context, mgr *memory.Manager) {
	var req memory.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	rec, err := mgr.Save(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func retrieveMemories(c *gin.Context, mgr *memory.Manager) {
	var req memory.RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	res, err := mgr.Retrieve(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"memories":   res.Records,
		"scope":      res.Scope,
		"count":      len(res.Records),
		"candidates": res.Candidates,
	})
}

func retrieveContext(c *gin.Context, mgr *memory.Manager) {
	var req memory.ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	out, err := mgr.RetrieveContext(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type promoteRequest struct {
	UserID     string  `json:"user_id"`
	IDs        []int64 `json:"ids"`
	TargetTier string  `json:"target_tier"`
}

func promoteTier(c *gin.Context, mgr *memory.Manager) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	moved, err := mgr.PromoteTier(c.Request.Context(), req.UserID, req.IDs, model.Tier(req.TargetTier))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

func getMemory(c *gin.Context, mgr *memory.Manager) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid memory id"})
		return
	}
	rec, err := mgr.Get(c.Request.Context(), c.Query("user_id"), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func deleteMemory(c *gin.Context, mgr *memory.Manager) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid memory id"})
		return
	}
	if err := mgr.Delete(c.Request.Context(), c.Query("user_id"), id); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listEvents(c *gin.Context, mgr *memory.Manager) {
	q := registrystore.EventQuery{
		UserID: c.Query("user_id"),
		Kinds:  c.QueryArray("kind"),
		Limit:  queryInt(c, "limit", 100),
	}
	if t, ok := queryTime(c, "after"); ok {
		q.After = &t
	}
	if t, ok := queryTime(c, "before"); ok {
		q.Before = &t
	}
	events, err := mgr.Events(c.Request.Context(), q)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// --- Helpers ---

func handleError(c *gin.Context, err error) {
	switch registrystore.Kind(err) {
	case registrystore.KindInvalidArgument:
		var validation *registrystore.ValidationError
		if errors.As(err, &validation) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
			return
		}
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

func queryTime(c *gin.Context, key string) (time.Time, bool) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
