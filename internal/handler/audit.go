package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GoLogware/loggate/internal/audit"
	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/pkg/apperrors"
)

type AuditHandler struct {
	chain *audit.Chain
}

func NewAuditHandler(chain *audit.Chain) *AuditHandler {
	return &AuditHandler{chain: chain}
}

func (h *AuditHandler) Query(c *gin.Context) {
	var q model.AuditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	if raw := c.Query("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		q.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		q.To = &t
	}

	entries := h.chain.Query(q)
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *AuditHandler) Verify(c *gin.Context) {
	report := h.chain.Verify()
	status := http.StatusOK
	if !report.IsValid {
		// The chain is readable but its integrity is broken; make the
		// status say so for dumb health checkers.
		status = http.StatusConflict
	}
	c.JSON(status, report)
}

func (h *AuditHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.chain.Stats())
}

func (h *AuditHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	switch format {
	case "json":
		data, err := h.chain.ExportJSON()
		if err != nil {
			c.Error(apperrors.Wrap(err))
			return
		}
		c.Header("Content-Disposition", `attachment; filename="audit-export.json"`)
		c.Data(http.StatusOK, "application/json", data)
	case "csv":
		data, err := h.chain.ExportCSV()
		if err != nil {
			c.Error(apperrors.Wrap(err))
			return
		}
		c.Header("Content-Disposition", `attachment; filename="audit-export.csv"`)
		c.Data(http.StatusOK, "text/csv", data)
	default:
		c.Error(apperrors.NewInvalidRequest("format must be json or csv"))
	}
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format")
}
