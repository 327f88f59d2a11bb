package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORSPolicy(t *testing.T) {
	t.Run("empty config allows any origin", func(t *testing.T) {
		p := newCORSPolicy("")
		assert.True(t, p.allows("https://agent.example"))
		assert.False(t, p.allows(""))
	})

	t.Run("configured list is exact-match", func(t *testing.T) {
		p := newCORSPolicy("https://a.example, https://b.example")
		assert.True(t, p.allows("https://a.example"))
		assert.True(t, p.allows("https://b.example"))
		assert.False(t, p.allows("https://evil.example"))
	})
}

func corsRouter(originsCSV string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(originsCSV))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/v1/memories", func(c *gin.Context) { c.Status(http.StatusCreated) })
	return router
}

func TestCorsMiddleware(t *testing.T) {
	t.Run("allowed origin is echoed back", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://example.com")
		rec := httptest.NewRecorder()
		corsRouter("https://example.com").ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("unknown origin gets no CORS headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		corsRouter("https://example.com").ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight short-circuits before handlers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/v1/memories", nil)
		req.Header.Set("Origin", "https://agent.example")
		rec := httptest.NewRecorder()
		corsRouter("").ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://agent.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
