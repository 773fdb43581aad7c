package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/pkg/apperrors"
	"github.com/GoLogware/loggate/internal/service"
)

type IngestHandler struct {
	pipeline *service.Pipeline
}

func NewIngestHandler(pipeline *service.Pipeline) *IngestHandler {
	return &IngestHandler{pipeline: pipeline}
}

// Ingest accepts one record and returns the alerts it triggered, so
// synchronous producers can react immediately.
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req model.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	rec := req.ToRecord(time.Now().UTC())
	alerts := h.pipeline.Submit(c.Request.Context(), rec)

	c.JSON(http.StatusAccepted, gin.H{
		"correlation_id": rec.CorrelationID,
		"alerts":         alerts,
	})
}

// IngestBatch accepts multiple records in one call. Records are
// submitted in order; the response reports per-batch alert totals
// rather than echoing every record back.
func (h *IngestHandler) IngestBatch(c *gin.Context) {
	var req model.BatchIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	if len(req.Records) == 0 {
		c.Error(apperrors.NewInvalidRequest("records must not be empty"))
		return
	}

	now := time.Now().UTC()
	var alerts []*model.TriggeredAlert
	for i := range req.Records {
		rec := req.Records[i].ToRecord(now)
		alerts = append(alerts, h.pipeline.Submit(c.Request.Context(), rec)...)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted": len(req.Records),
		"alerts":   alerts,
	})
}
