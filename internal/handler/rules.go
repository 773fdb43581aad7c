package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GoLogware/loggate/internal/model"
	"github.com/GoLogware/loggate/internal/pkg/apperrors"
	"github.com/GoLogware/loggate/internal/pkg/logger"
	"github.com/GoLogware/loggate/internal/rules"
)

// RuleStore is the optional persistence behind the live engine. A nil
// store keeps the rule set in memory only.
type RuleStore interface {
	Save(ctx context.Context, rule *model.AlertRule) error
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

type RulesHandler struct {
	engine *rules.Engine
	store  RuleStore
}

func NewRulesHandler(engine *rules.Engine, store RuleStore) *RulesHandler {
	return &RulesHandler{engine: engine, store: store}
}

func (h *RulesHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.engine.List()})
}

func (h *RulesHandler) Get(c *gin.Context) {
	rule, ok := h.engine.Get(c.Param("id"))
	if !ok {
		c.Error(apperrors.NewNotFound("rule " + c.Param("id") + " not found"))
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *RulesHandler) Create(c *gin.Context) {
	var rule model.AlertRule
	dec := json.NewDecoder(c.Request.Body)
	if err := dec.Decode(&rule); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	if err := h.engine.Register(&rule); err != nil {
		c.Error(err)
		return
	}
	if h.store != nil {
		if err := h.store.Save(c.Request.Context(), &rule); err != nil {
			logger.Warn("rule registered but not persisted", "rule", rule.ID, "error", err)
		}
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *RulesHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.Remove(id); err != nil {
		c.Error(err)
		return
	}
	if h.store != nil {
		if err := h.store.Delete(c.Request.Context(), id); err != nil {
			logger.Warn("rule removed but still persisted", "rule", id, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

type enableRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *RulesHandler) SetEnabled(c *gin.Context) {
	id := c.Param("id")
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	if err := h.engine.SetEnabled(id, *req.Enabled); err != nil {
		c.Error(err)
		return
	}
	if h.store != nil {
		if err := h.store.SetEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
			logger.Warn("rule toggled but not persisted", "rule", id, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": *req.Enabled})
}

func (h *RulesHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Stats())
}
