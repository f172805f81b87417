package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/wbrx/wayback_go_server/internal/pkg/response"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
	"github.com/wbrx/wayback_go_server/internal/service"
)

type JobHandler struct {
	jobService *service.JobService
}

func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
	}
}

// StartJobRequest 启动任务请求
type StartJobRequest struct {
	Kind string `json:"kind" binding:"required"`
	service.JobParams
}

// Start 启动任务
// POST /api/v1/jobs
func (h *JobHandler) Start(c *gin.Context) {
	var req StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	status, err := h.jobService.Start(c.Request.Context(), req.Kind, req.JobParams)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownKind),
			errors.Is(err, service.ErrInvalidTarget):
			response.ParamError(c, err.Error())
		case errors.Is(err, scheduler.ErrBusy):
			response.BusyError(c, "")
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "任务已提交", status)
}

// Status 查询任务状态（含已落库的历史任务）
// GET /api/v1/jobs/:id
func (h *JobHandler) Status(c *gin.Context) {
	status, err := h.jobService.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			response.NotFoundError(c, "任务不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, status)
}

// List 列出调度器内的全部任务
// GET /api/v1/jobs
func (h *JobHandler) List(c *gin.Context) {
	response.Success(c, h.jobService.ListJobs())
}

// Pause 暂停任务
// POST /api/v1/jobs/:id/pause
func (h *JobHandler) Pause(c *gin.Context) {
	h.control(c, h.jobService.Pause, "任务已暂停")
}

// Resume 恢复任务
// POST /api/v1/jobs/:id/resume
func (h *JobHandler) Resume(c *gin.Context) {
	h.control(c, h.jobService.Resume, "任务已恢复")
}

// Stop 停止任务
// POST /api/v1/jobs/:id/stop
func (h *JobHandler) Stop(c *gin.Context) {
	h.control(c, h.jobService.Stop, "任务已停止")
}

func (h *JobHandler) control(c *gin.Context, op func(string) error, okMessage string) {
	jobID := c.Param("id")
	if err := op(jobID); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobNotFound):
			response.NotFoundError(c, "任务不存在")
		case errors.Is(err, scheduler.ErrConflict):
			response.JobConflictError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	status, err := h.jobService.Status(jobID)
	if err != nil {
		response.SuccessWithMessage(c, okMessage, nil)
		return
	}
	response.SuccessWithMessage(c, okMessage, status)
}
