package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wbrx/wayback_go_server/internal/output"
	"github.com/wbrx/wayback_go_server/internal/pkg/response"
	"github.com/wbrx/wayback_go_server/internal/service"
)

type ProjectHandler struct {
	projectService *service.ProjectService
}

func NewProjectHandler(projectService *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
	}
}

// DataStatus 某目标站点已有哪些数据
// GET /api/v1/projects/status?target_url=xxx
func (h *ProjectHandler) DataStatus(c *gin.Context) {
	target := c.Query("target_url")
	if target == "" {
		response.ParamError(c, "缺少 target_url 参数")
		return
	}

	status, err := h.projectService.DataStatus(target)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, status)
}

// Recent 最近的项目列表
// GET /api/v1/projects/recent?limit=20
func (h *ProjectHandler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit > 100 {
		limit = 100
	}

	projects, err := h.projectService.RecentProjects(limit)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, projects)
}

// DeleteProjectRequest 删除项目请求
type DeleteProjectRequest struct {
	TargetURL    string `json:"target_url" binding:"required"`
	PurgeRelated bool   `json:"purge_related"`
	PurgeOutput  bool   `json:"purge_output"`
}

// Delete 删除项目数据。purge_output 未置位时磁盘输出保留。
// DELETE /api/v1/projects
func (h *ProjectHandler) Delete(c *gin.Context) {
	var req DeleteProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	result, err := h.projectService.Delete(req.TargetURL, req.PurgeRelated, req.PurgeOutput)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProjectNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, output.ErrPathEscape):
			response.PathEscapeError(c, "")
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "删除成功", result)
}
