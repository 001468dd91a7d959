package handler

import (
	"github.com/bitfantasy/nimo-ams/internal/service"
	"github.com/gin-gonic/gin"
)

// LifecycleHandler 生命周期处理器
type LifecycleHandler struct {
	svc *service.LifecycleService
}

// NewLifecycleHandler 创建生命周期处理器
func NewLifecycleHandler(svc *service.LifecycleService) *LifecycleHandler {
	return &LifecycleHandler{svc: svc}
}

// ListStates 全部生命周期状态
func (h *LifecycleHandler) ListStates(c *gin.Context) {
	Success(c, gin.H{"states": h.svc.States()})
}

// GetStatus 资产当前状态
func (h *LifecycleHandler) GetStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Asset ID is required")
		return
	}

	status, err := h.svc.GetStatus(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, status)
}

// ListTransitions 资产当前状态下的可达流转
func (h *LifecycleHandler) ListTransitions(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Asset ID is required")
		return
	}

	options, err := h.svc.ValidTransitionsFor(c.Request.Context(), id, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, gin.H{"transitions": options})
}

// RequestTransition 发起状态流转
func (h *LifecycleHandler) RequestTransition(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Asset ID is required")
		return
	}

	var req struct {
		TargetState string `json:"target_state" binding:"required"`
		Reason      string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.RequestTransition(c.Request.Context(), id, req.TargetState, GetActor(c), req.Reason)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	if result.Executed {
		Success(c, result)
		return
	}
	Created(c, result)
}

// History 资产流转历史
func (h *LifecycleHandler) History(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Asset ID is required")
		return
	}

	entries, err := h.svc.History(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, gin.H{"history": entries})
}
