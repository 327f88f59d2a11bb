package security_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/security"
)

func TestResolverAnonymousWhenNoKeys(t *testing.T) {
	cfg := config.DefaultConfig()
	r := security.NewResolver(&cfg)

	id, ok := r.Resolve("")
	require.True(t, ok)
	assert.Equal(t, "anonymous", id.ClientID)
	assert.True(t, id.Has(security.CapabilityGlobal))
	assert.True(t, id.Has(security.CapabilityAdmin))
}

func TestResolverAPIKeys(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.APIKeys = map[string]string{"key-1": "agent-a", "key-2": "agent-b"}
	cfg.GlobalClients = "agent-a"
	cfg.AdminClients = "agent-a, agent-c"
	r := security.NewResolver(&cfg)

	id, ok := r.Resolve("key-1")
	require.True(t, ok)
	assert.Equal(t, "agent-a", id.ClientID)
	assert.True(t, id.Has(security.CapabilityGlobal))
	assert.True(t, id.Has(security.CapabilityAdmin))

	id, ok = r.Resolve("key-2")
	require.True(t, ok)
	assert.Equal(t, "agent-b", id.ClientID)
	assert.False(t, id.Has(security.CapabilityGlobal))
	assert.False(t, id.Has(security.CapabilityAdmin))

	_, ok = r.Resolve("bogus")
	assert.False(t, ok)
}

func TestNilIdentityHasNoCapabilities(t *testing.T) {
	var id *security.Identity
	assert.False(t, id.Has(security.CapabilityGlobal))
	assert.False(t, id.Has(security.CapabilityAdmin))
}

func authRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(security.AuthMiddleware(security.NewResolver(cfg)))
	router.GET("/open", func(c *gin.Context) {
		id := security.IdentityFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"client_id": id.ClientID})
	})
	router.GET("/admin", security.RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestAuthMiddlewareRejectsUnknownToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.APIKeys = map[string]string{"key-1": "agent-a"}
	router := authRouter(&cfg)

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewarePropagatesIdentity(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.APIKeys = map[string]string{"key-1": "agent-a"}
	router := authRouter(&cfg)

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("Authorization", "Bearer key-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agent-a")
}

func TestRequireAdmin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.APIKeys = map[string]string{"key-a": "agent-a", "key-b": "agent-b"}
	cfg.AdminClients = "agent-a"
	router := authRouter(&cfg)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer key-a")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer key-b")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestParseMetricsLabels(t *testing.T) {
	labels, err := security.ParseMetricsLabels("service=memoric,env=test")
	require.NoError(t, err)
	assert.Equal(t, "memoric", labels["service"])
	assert.Equal(t, "test", labels["env"])

	labels, err = security.ParseMetricsLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)

	_, err = security.ParseMetricsLabels("missing-equals")
	assert.Error(t, err)

	_, err = security.ParseMetricsLabels("9bad=key")
	assert.Error(t, err)
}
