package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/memory"
	"github.com/memoric/memoric/internal/model"
	"github.com/memoric/memoric/internal/plugin/route/admin"
	"github.com/memoric/memoric/internal/plugin/store/sqlite"
	registrymigrate "github.com/memoric/memoric/internal/registry/migrate"
	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/security"
)

// setupAdminRouter mounts the admin API with two API keys: "admin-key"
// resolves to a client holding the admin capability, "app-key" does not.
func setupAdminRouter(t *testing.T) (*gin.Engine, registrystore.MemoryStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DBKind = "sqlite"
	cfg.DBURL = "file:" + filepath.Join(t.TempDir(), "memoric.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	cfg.APIKeys = map[string]string{"admin-key": "ops", "app-key": "app"}
	cfg.AdminClients = "ops"
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure the sqlite store plugin is registered.
	_ = sqlite.ForceImport

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	mgr := memory.New(ctx, &cfg, store)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := security.AuthMiddleware(security.NewResolver(&cfg))
	admin.MountRoutes(router, mgr, &cfg, auth)
	return router, store, ctx
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAdminRequiresCapability(t *testing.T) {
	router, _, _ := setupAdminRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/admin/tiers", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/admin/tiers", "app-key", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "admin capability required", decodeJSON(t, w)["error"])

	w = doJSON(t, router, http.MethodGet, "/v1/admin/tiers", "admin-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRunPoliciesEndpoint(t *testing.T) {
	router, store, ctx := setupAdminRouter(t)

	oldAt := time.Now().UTC().Add(-8 * 24 * time.Hour)
	_, err := store.InsertRecord(ctx, &model.MemoryRecord{
		UserID: "user1", Content: "aged", CreatedAt: oldAt, UpdatedAt: oldAt,
	})
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodPost, "/v1/admin/policies/run", "admin-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeJSON(t, w)
	assert.EqualValues(t, 1, body["migrated"])
	assert.EqualValues(t, 0, body["expired"])
	_, partial := body["partial"]
	assert.False(t, partial)
}

func TestRebuildClustersEndpoint(t *testing.T) {
	router, store, ctx := setupAdminRouter(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_, err := store.InsertRecord(ctx, &model.MemoryRecord{
			UserID: "user1", Tier: model.TierLongTerm, Content: "repeated theme",
			Metadata: model.Metadata{model.KeyTopic: "food", model.KeyCategory: "preference"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute), UpdatedAt: base,
		})
		require.NoError(t, err)
	}

	w := doJSON(t, router, http.MethodPost, "/v1/admin/clusters/rebuild", "admin-key", map[string]any{"user_id": "user1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decodeJSON(t, w)["changed"])

	// Without a user id the rebuild has nothing to scope to.
	w = doJSON(t, router, http.MethodPost, "/v1/admin/clusters/rebuild", "admin-key", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/admin/clusters?user_id=user1", "admin-key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.EqualValues(t, 1, body["count"])
	clusters := body["clusters"].([]interface{})
	cluster := clusters[0].(map[string]interface{})
	assert.Equal(t, "food", cluster["topic"])
	assert.EqualValues(t, 3, cluster["occurrences"])
}

func TestTierStatsEndpoint(t *testing.T) {
	router, store, ctx := setupAdminRouter(t)

	for i := 0; i < 2; i++ {
		_, err := store.InsertRecord(ctx, &model.MemoryRecord{UserID: "user1", Content: "note"})
		require.NoError(t, err)
	}

	w := doJSON(t, router, http.MethodGet, "/v1/admin/tiers?user_id=user1", "admin-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tiers := decodeJSON(t, w)["tiers"].([]interface{})
	require.Len(t, tiers, 3)
	first := tiers[0].(map[string]interface{})
	assert.Equal(t, "short_term", first["tier"])
	assert.EqualValues(t, 2, first["count"])
}

func TestInspectEndpoint(t *testing.T) {
	router, store, ctx := setupAdminRouter(t)

	_, err := store.InsertRecord(ctx, &model.MemoryRecord{UserID: "user1", Content: "note"})
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodGet, "/v1/admin/inspect", "admin-key", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeJSON(t, w)
	assert.Equal(t, "sqlite", body["backend"])
	assert.EqualValues(t, 1, body["users"])
	tiers := body["tiers"].(map[string]interface{})
	assert.EqualValues(t, 1, tiers["short_term"])
}
