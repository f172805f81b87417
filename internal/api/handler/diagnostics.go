package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/wbrx/wayback_go_server/internal/pkg/response"
	"github.com/wbrx/wayback_go_server/internal/pkg/ws"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

type DiagnosticsHandler struct {
	client *wayback.Client
	sched  *scheduler.Scheduler
	hub    *ws.Hub
}

func NewDiagnosticsHandler(client *wayback.Client, sched *scheduler.Scheduler, hub *ws.Hub) *DiagnosticsHandler {
	return &DiagnosticsHandler{
		client: client,
		sched:  sched,
		hub:    hub,
	}
}

// Get 运行状态快照：CDX 缓存命中、活跃任务数、WebSocket 连接数
// GET /api/v1/diagnostics
func (h *DiagnosticsHandler) Get(c *gin.Context) {
	data := gin.H{}
	if h.client != nil {
		data["cdx_cache"] = h.client.CacheStats()
	}
	if h.sched != nil {
		data["active_jobs"] = h.sched.ActiveCount()
	}
	if h.hub != nil {
		data["ws_connections"] = h.hub.ConnectionCount()
	}
	response.Success(c, data)
}
