package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/tolkhub/jobwatch/internal/pkg/response"
	"github.com/tolkhub/jobwatch/internal/pkg/ws"
	"github.com/tolkhub/jobwatch/internal/service"
)

type HealthHandler struct {
	watchService *service.WatchService
	hub          *ws.Hub
}

func NewHealthHandler(watchService *service.WatchService, hub *ws.Hub) *HealthHandler {
	return &HealthHandler{watchService: watchService, hub: hub}
}

// Health 存活检查
// GET /healthz
func (h *HealthHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{
		"status":      "ok",
		"sessions":    h.watchService.Count(),
		"connections": h.hub.ConnectionCount(),
	})
}
