package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tolkhub/jobwatch/config"
	"github.com/tolkhub/jobwatch/internal/api/middleware"
	"github.com/tolkhub/jobwatch/internal/backend"
	"github.com/tolkhub/jobwatch/internal/backend/local"
	"github.com/tolkhub/jobwatch/internal/cache"
	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/notify"
	"github.com/tolkhub/jobwatch/internal/pkg/clock"
	"github.com/tolkhub/jobwatch/internal/pkg/response"
	"github.com/tolkhub/jobwatch/internal/reconciler"
	"github.com/tolkhub/jobwatch/internal/service"
	"github.com/tolkhub/jobwatch/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testContext 本地测试上下文
type testContext struct {
	backend *local.Backend
	project *model.Project
	jobs    *JobHandler
	watch   *WatchHandler
	clock   *clock.Fake
}

func setup(t *testing.T) *testContext {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	store, err := cache.NewMemoryStore(256)
	require.NoError(t, err)
	c := cache.NewClient(store, cache.WithNamespace(backend.UserID))

	b := local.New(db)
	r := reconciler.New(c, b, notify.NewLogNotifier(nil))
	fake := clock.NewFake(time.Now())
	watchService := service.NewWatchService(b, c, r, config.PollerConfig{
		Intervals:   config.DefaultPollIntervals,
		MaxAttempts: config.DefaultPollMaxAttempts,
	}, fake, nil)
	t.Cleanup(watchService.Shutdown)

	project := testutil.TestProject(t, db, "user-1")
	testutil.TestKeys(t, db, project.ID, "home.title", "home.subtitle")

	return &testContext{
		backend: b,
		project: project,
		jobs:    NewJobHandler(service.NewJobCommandService(b, c, r, nil)),
		watch:   NewWatchHandler(watchService),
		clock:   fake,
	}
}

// router 注册全部业务路由，用户身份由 mockAuth 注入
func (tc *testContext) router(userID string) *gin.Engine {
	router := gin.New()
	router.Use(mockAuth(userID))
	router.POST("/projects/:id/jobs", tc.jobs.Create)
	router.GET("/projects/:id/jobs", tc.jobs.List)
	router.GET("/projects/:id/active-job", tc.jobs.Active)
	router.GET("/jobs/:id", tc.jobs.Get)
	router.POST("/jobs/:id/cancel", tc.jobs.Cancel)
	router.GET("/jobs/:id/items", tc.jobs.Items)
	router.PUT("/projects/:id/watch", tc.watch.Open)
	router.GET("/projects/:id/watch", tc.watch.State)
	router.DELETE("/projects/:id/watch", tc.watch.Close)
	router.POST("/projects/:id/watch/refresh", tc.watch.Refresh)
	router.POST("/projects/:id/watch/start", tc.watch.Start)
	router.POST("/projects/:id/watch/stop", tc.watch.Stop)
	return router
}

// mockAuth 模拟认证中间件
func mockAuth(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.UserIDKey, userID)
		}
		c.Next()
	}
}

func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code)
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// decodeData 将 data 重新解码成具体类型
func decodeData(t *testing.T, resp response.Response, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}
