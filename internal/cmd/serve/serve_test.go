package serve

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware(t *testing.T) {
	newRouter := func(limit int64) *gin.Engine {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.Use(maxBodySizeMiddleware(limit))
		router.POST("/v1/memories", func(c *gin.Context) {
			n, err := io.Copy(io.Discard, c.Request.Body)
			if err != nil {
				c.Status(http.StatusRequestEntityTooLarge)
				return
			}
			c.String(http.StatusOK, "%d", n)
		})
		return router
	}

	t.Run("rejects bodies over the limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/memories", strings.NewReader("0123456789"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		newRouter(4).ServeHTTP(rec, req)

		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("passes bodies under the limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/memories", strings.NewReader("0123456789"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		newRouter(1024).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "10", rec.Body.String())
	})
}
