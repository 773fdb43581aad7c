package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GoLogware/loggate/internal/optimizer"
)

type SystemHandler struct {
	optimizer *optimizer.Optimizer
	hub       *StreamHub
}

func NewSystemHandler(opt *optimizer.Optimizer, hub *StreamHub) *SystemHandler {
	return &SystemHandler{optimizer: opt, hub: hub}
}

func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stats exposes the optimizer snapshot alongside the stream fan-out
// size; Prometheus scrapes /metrics for the full series.
func (h *SystemHandler) Stats(c *gin.Context) {
	resp := gin.H{"optimizer": h.optimizer.GetMetrics()}
	if h.hub != nil {
		resp["stream_subscribers"] = h.hub.Subscribers()
	}
	c.JSON(http.StatusOK, resp)
}
