package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolkhub/jobwatch/config"
	"github.com/tolkhub/jobwatch/internal/api/handler"
	"github.com/tolkhub/jobwatch/internal/backend"
	"github.com/tolkhub/jobwatch/internal/backend/local"
	"github.com/tolkhub/jobwatch/internal/cache"
	"github.com/tolkhub/jobwatch/internal/notify"
	"github.com/tolkhub/jobwatch/internal/observability"
	"github.com/tolkhub/jobwatch/internal/pkg/clock"
	"github.com/tolkhub/jobwatch/internal/pkg/jwt"
	"github.com/tolkhub/jobwatch/internal/pkg/response"
	"github.com/tolkhub/jobwatch/internal/pkg/ws"
	"github.com/tolkhub/jobwatch/internal/reconciler"
	"github.com/tolkhub/jobwatch/internal/service"
	"github.com/tolkhub/jobwatch/internal/testutil"
)

const testSecret = "router-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func setupEngine(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	metrics, metricsHandler, err := observability.NewMetrics(context.Background())
	require.NoError(t, err)

	store, err := cache.NewMemoryStore(64)
	require.NoError(t, err)
	c := cache.NewClient(store, cache.WithNamespace(backend.UserID))
	b := local.New(db)
	r := reconciler.New(c, b, notify.NewLogNotifier(nil), reconciler.WithMetrics(metrics))
	hub := ws.NewHub()
	watchService := service.NewWatchService(b, c, r, config.PollerConfig{}, clock.Real(), metrics)
	t.Cleanup(watchService.Shutdown)

	cfg := &config.Config{
		JWT: config.JWTConfig{Secret: testSecret},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "POST"},
		},
	}
	router := NewRouter(
		handler.NewJobHandler(service.NewJobCommandService(b, c, r, metrics)),
		handler.NewWatchHandler(watchService),
		handler.NewWebSocketHandler(hub, testSecret, cfg.CORS.AllowedOrigins),
		handler.NewHealthHandler(watchService, hub),
		metrics,
		metricsHandler,
		cfg,
	)

	project := testutil.TestProject(t, db, "user-1")
	return router.Setup(), project.ID
}

func serve(engine *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRouter_Health(t *testing.T) {
	engine, _ := setupEngine(t)

	w := serve(engine, "GET", "/healthz", "")

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, "ok", resp.Data.(map[string]interface{})["status"])
}

func TestRouter_RequiresAuth(t *testing.T) {
	engine, projectID := setupEngine(t)

	paths := []struct{ method, path string }{
		{"POST", "/api/v1/projects/" + projectID + "/jobs"},
		{"GET", "/api/v1/projects/" + projectID + "/jobs"},
		{"GET", "/api/v1/projects/" + projectID + "/active-job"},
		{"GET", "/api/v1/jobs/j1"},
		{"POST", "/api/v1/jobs/j1/cancel"},
		{"GET", "/api/v1/jobs/j1/items"},
		{"PUT", "/api/v1/projects/" + projectID + "/watch"},
		{"POST", "/api/v1/projects/" + projectID + "/watch/start"},
	}
	for _, p := range paths {
		resp := decode(t, serve(engine, p.method, p.path, ""))
		assert.Equal(t, response.CodeAuthFailed, resp.Code, p.path)
	}
}

func TestRouter_AuthenticatedRequest(t *testing.T) {
	engine, projectID := setupEngine(t)
	token, err := jwt.GenerateToken("user-1", testSecret, 1)
	require.NoError(t, err)

	resp := decode(t, serve(engine, "GET", "/api/v1/projects/"+projectID+"/active-job", token))
	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.Nil(t, resp.Data)

	resp = decode(t, serve(engine, "GET", "/api/v1/jobs/missing", token))
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
}

func TestRouter_Metrics(t *testing.T) {
	engine, _ := setupEngine(t)
	serve(engine, "GET", "/healthz", "")

	w := serve(engine, "GET", "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `route="/healthz"`))
}

func TestRouter_CORSPreflight(t *testing.T) {
	engine, _ := setupEngine(t)
	req := httptest.NewRequest("OPTIONS", "/api/v1/jobs/j1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()

	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
