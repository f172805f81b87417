package api

import (
	"github.com/gin-gonic/gin"

	"github.com/wbrx/wayback_go_server/config"
	"github.com/wbrx/wayback_go_server/internal/api/handler"
	"github.com/wbrx/wayback_go_server/internal/api/middleware"
)

type Router struct {
	jobHandler         *handler.JobHandler
	projectHandler     *handler.ProjectHandler
	websocketHandler   *handler.WebSocketHandler
	diagnosticsHandler *handler.DiagnosticsHandler
	cfg                *config.Config
}

func NewRouter(
	jobHandler *handler.JobHandler,
	projectHandler *handler.ProjectHandler,
	websocketHandler *handler.WebSocketHandler,
	diagnosticsHandler *handler.DiagnosticsHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		jobHandler:         jobHandler,
		projectHandler:     projectHandler,
		websocketHandler:   websocketHandler,
		diagnosticsHandler: diagnosticsHandler,
		cfg:                cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket 进度推送
		api.GET("/ws", r.websocketHandler.Handle)

		// 任务
		jobs := api.Group("/jobs")
		{
			jobs.GET("", r.jobHandler.List)
			jobs.POST("", r.jobHandler.Start)
			jobs.GET("/:id", r.jobHandler.Status)
			jobs.POST("/:id/pause", r.jobHandler.Pause)
			jobs.POST("/:id/resume", r.jobHandler.Resume)
			jobs.POST("/:id/stop", r.jobHandler.Stop)
		}

		// 项目数据
		projects := api.Group("/projects")
		{
			projects.GET("/status", r.projectHandler.DataStatus)
			projects.GET("/recent", r.projectHandler.Recent)
			projects.DELETE("", r.projectHandler.Delete)
		}

		// 运行状态
		api.GET("/diagnostics", r.diagnosticsHandler.Get)
	}

	return engine
}
