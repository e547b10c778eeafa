package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/tolkhub/jobwatch/internal/api/middleware"
	"github.com/tolkhub/jobwatch/internal/model/dto"
	"github.com/tolkhub/jobwatch/internal/pkg/response"
	"github.com/tolkhub/jobwatch/internal/service"
)

// WatchHandler 管理当前用户对项目的轮询会话
type WatchHandler struct {
	watchService *service.WatchService
}

func NewWatchHandler(watchService *service.WatchService) *WatchHandler {
	return &WatchHandler{
		watchService: watchService,
	}
}

type startResponse struct {
	dto.PollState
	Restarted bool `json:"restarted"`
}

// Open 打开会话并立即检查活跃任务
// PUT /api/v1/projects/:id/watch
func (h *WatchHandler) Open(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	state, err := h.watchService.Open(middleware.RequestContext(c), userID, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, state)
}

// Close 关闭会话
// DELETE /api/v1/projects/:id/watch
func (h *WatchHandler) Close(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	closed := h.watchService.Close(userID, c.Param("id"))
	response.Success(c, gin.H{"closed": closed})
}

// State 会话当前状态
// GET /api/v1/projects/:id/watch
func (h *WatchHandler) State(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	state, err := h.watchService.State(userID, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, state)
}

// Refresh 立即检查一次活跃任务
// POST /api/v1/projects/:id/watch/refresh
func (h *WatchHandler) Refresh(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	state, err := h.watchService.Refresh(middleware.RequestContext(c), userID, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, state)
}

// Start 手动恢复轮询
// POST /api/v1/projects/:id/watch/start
func (h *WatchHandler) Start(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	state, restarted, err := h.watchService.Start(userID, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, startResponse{PollState: state, Restarted: restarted})
}

// Stop 手动停止轮询
// POST /api/v1/projects/:id/watch/stop
func (h *WatchHandler) Stop(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	state, err := h.watchService.Stop(userID, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, state)
}
