package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/tolkhub/jobwatch/internal/api/middleware"
	"github.com/tolkhub/jobwatch/internal/model/dto"
	"github.com/tolkhub/jobwatch/internal/pkg/response"
	"github.com/tolkhub/jobwatch/internal/service"
)

type JobHandler struct {
	jobService *service.JobCommandService
}

func NewJobHandler(jobService *service.JobCommandService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
	}
}

// Create 创建翻译任务
// POST /api/v1/projects/:id/jobs
func (h *JobHandler) Create(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "Invalid request body")
		return
	}
	req.ProjectID = c.Param("id")

	resp, err := h.jobService.Create(middleware.RequestContext(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, resp)
}

// List 任务列表
// GET /api/v1/projects/:id/jobs
func (h *JobHandler) List(c *gin.Context) {
	var q dto.JobListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, "Invalid query parameters")
		return
	}

	page, err := h.jobService.List(middleware.RequestContext(c), c.Param("id"), q)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessPage(c, page.Metadata.Total, page.Metadata.Start, page.Metadata.End, page.Data)
}

// Get 任务详情
// GET /api/v1/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.jobService.Get(middleware.RequestContext(c), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, job)
}

// Cancel 取消任务
// POST /api/v1/jobs/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	job, err := h.jobService.Cancel(middleware.RequestContext(c), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, job)
}

// Items 任务明细
// GET /api/v1/jobs/:id/items
func (h *JobHandler) Items(c *gin.Context) {
	var q dto.ItemListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, "Invalid query parameters")
		return
	}

	page, err := h.jobService.Items(middleware.RequestContext(c), c.Param("id"), q)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessPage(c, page.Metadata.Total, page.Metadata.Start, page.Metadata.End, page.Data)
}

// Active 项目当前的活跃任务，没有时 data 为 null
// GET /api/v1/projects/:id/active-job
func (h *JobHandler) Active(c *gin.Context) {
	job, err := h.jobService.ActiveJob(middleware.RequestContext(c), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, job)
}
