package api

import (
	"net/http"

	"PChat/service/chat"
	"PChat/service/queue"

	"github.com/gin-gonic/gin"
)

type QueueHealth struct {
	Status  string       `json:"status"`
	Running bool         `json:"running"`
	Stats   *queue.Stats `json:"stats,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type HealthResp struct {
	Gateway chat.Health `json:"gateway"`
	Queue   QueueHealth `json:"queue"`
}

// Healthz 队列未运行或统计失败时返回 503
func (a *API) Healthz(c *gin.Context) {
	ctx := c.Request.Context()
	resp := HealthResp{Gateway: a.Gateway.Health(ctx)}
	resp.Queue.Running = a.Queue.IsRunning()

	code := http.StatusOK
	stats, err := a.Queue.Stats(ctx)
	switch {
	case err != nil:
		resp.Queue.Status = "degraded"
		resp.Queue.Error = err.Error()
		code = http.StatusServiceUnavailable
	case !resp.Queue.Running:
		resp.Queue.Status = "stopped"
		resp.Queue.Stats = &stats
		code = http.StatusServiceUnavailable
	default:
		resp.Queue.Status = "ok"
		resp.Queue.Stats = &stats
	}
	c.JSON(code, resp)
}
