package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tolkhub/jobwatch/config"
	"github.com/tolkhub/jobwatch/internal/api/handler"
	"github.com/tolkhub/jobwatch/internal/api/middleware"
	"github.com/tolkhub/jobwatch/internal/observability"
)

type Router struct {
	jobHandler       *handler.JobHandler
	watchHandler     *handler.WatchHandler
	websocketHandler *handler.WebSocketHandler
	healthHandler    *handler.HealthHandler
	metrics          *observability.Metrics
	metricsHandler   http.Handler
	cfg              *config.Config
}

func NewRouter(
	jobHandler *handler.JobHandler,
	watchHandler *handler.WatchHandler,
	websocketHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	metrics *observability.Metrics,
	metricsHandler http.Handler,
	cfg *config.Config,
) *Router {
	return &Router{
		jobHandler:       jobHandler,
		watchHandler:     watchHandler,
		websocketHandler: websocketHandler,
		healthHandler:    healthHandler,
		metrics:          metrics,
		metricsHandler:   metricsHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Metrics(r.metrics))
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", r.healthHandler.Health)
	if r.metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(r.metricsHandler))
	}

	api := engine.Group("/api/v1")
	{
		// WebSocket，令牌在 query 中
		api.GET("/ws", r.websocketHandler.Handle)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 项目
			projects := authenticated.Group("/projects/:id")
			{
				projects.POST("/jobs", r.jobHandler.Create)
				projects.GET("/jobs", r.jobHandler.List)
				projects.GET("/active-job", r.jobHandler.Active)

				projects.PUT("/watch", r.watchHandler.Open)
				projects.GET("/watch", r.watchHandler.State)
				projects.DELETE("/watch", r.watchHandler.Close)
				projects.POST("/watch/refresh", r.watchHandler.Refresh)
				projects.POST("/watch/start", r.watchHandler.Start)
				projects.POST("/watch/stop", r.watchHandler.Stop)
			}

			// 任务
			jobs := authenticated.Group("/jobs/:id")
			{
				jobs.GET("", r.jobHandler.Get)
				jobs.POST("/cancel", r.jobHandler.Cancel)
				jobs.GET("/items", r.jobHandler.Items)
			}
		}
	}

	return engine
}
