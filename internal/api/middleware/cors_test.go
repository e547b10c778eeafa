package middleware

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolkhub/jobwatch/config"
)

const appOrigin = "https://app.tolkhub.io"

// corsConfig 默认配置加上前端的 Origin
func corsConfig(t *testing.T, origins ...string) config.CORSConfig {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	cfg.CORS.AllowedOrigins = origins
	return cfg.CORS
}

func setupCORSRouter(cfg config.CORSConfig, reached *int) *gin.Engine {
	router := gin.New()
	router.Use(CORS(cfg))
	v1 := router.Group("/api/v1")
	count := func(c *gin.Context) {
		*reached++
		c.JSON(http.StatusOK, gin.H{"code": 0})
	}
	v1.GET("/projects/:id/jobs", count)
	v1.POST("/jobs/:id/cancel", count)
	return router
}

func TestCORS_EchoesOnlyAllowlistedOrigins(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantOrigin string
	}{
		{name: "frontend origin", allowed: []string{appOrigin}, origin: appOrigin, wantOrigin: appOrigin},
		{name: "second entry", allowed: []string{"http://localhost:5173", appOrigin}, origin: "http://localhost:5173", wantOrigin: "http://localhost:5173"},
		{name: "foreign origin", allowed: []string{appOrigin}, origin: "https://tolkhub.io.evil.test"},
		{name: "scheme mismatch", allowed: []string{appOrigin}, origin: "http://app.tolkhub.io"},
		{name: "no origin header", allowed: []string{appOrigin}},
		{name: "empty allowlist", origin: appOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := 0
			router := setupCORSRouter(corsConfig(t, tt.allowed...), &reached)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/jobs", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, 1, reached, "the request itself is never blocked")
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORS_DefaultHeaders(t *testing.T) {
	reached := 0
	router := setupCORSRouter(corsConfig(t, appOrigin), &reached)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/jobs", nil)
	req.Header.Set("Origin", appOrigin)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Authorization, Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_PreflightCancel(t *testing.T) {
	reached := 0
	router := setupCORSRouter(corsConfig(t, appOrigin), &reached)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs/j1/cancel", nil)
	req.Header.Set("Origin", appOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, reached, "preflight never reaches the handler")
	assert.Empty(t, w.Body.String())
	assert.Equal(t, appOrigin, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCheckOrigin_SharesAllowlist(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "allowlisted", allowed: []string{appOrigin}, origin: appOrigin, want: true},
		{name: "foreign", allowed: []string{appOrigin}, origin: "https://evil.test", want: false},
		{name: "cli client without origin", allowed: []string{appOrigin}, want: true},
		{name: "empty allowlist admits all", origin: "https://evil.test", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := corsConfig(t, tt.allowed...)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			assert.Equal(t, tt.want, CheckOrigin(cfg.AllowedOrigins)(req))
			if len(tt.allowed) > 0 && tt.origin != "" {
				assert.Equal(t, tt.want, OriginAllowed(cfg.AllowedOrigins, tt.origin), "websocket and CORS agree")
			}
		})
	}
}
