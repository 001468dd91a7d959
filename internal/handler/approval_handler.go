package handler

import (
	"github.com/bitfantasy/nimo-ams/internal/service"
	"github.com/gin-gonic/gin"
)

// ApprovalHandler 审批台账处理器
type ApprovalHandler struct {
	svc *service.ApprovalService
}

// NewApprovalHandler 创建审批台账处理器
func NewApprovalHandler(svc *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{svc: svc}
}

// ListPending 当前用户级别可审的待审批列表
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	requests, err := h.svc.ListPending(c.Request.Context(), GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, gin.H{"approvals": requests})
}

// ListMine 当前用户发起的审批列表
func (h *ApprovalHandler) ListMine(c *gin.Context) {
	requests, err := h.svc.ListMine(c.Request.Context(), GetUserID(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, gin.H{"approvals": requests})
}

// Get 审批详情
func (h *ApprovalHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Approval ID is required")
		return
	}

	req, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, req)
}

// Approve 批准当前级别
func (h *ApprovalHandler) Approve(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Approval ID is required")
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	c.ShouldBindJSON(&req)

	approval, err := h.svc.Approve(c.Request.Context(), id, GetActor(c), req.Notes)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, approval)
}

// Reject 驳回，驳回意见必填
func (h *ApprovalHandler) Reject(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Approval ID is required")
		return
	}

	var req struct {
		Notes string `json:"notes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Rejection notes are required")
		return
	}

	approval, err := h.svc.Reject(c.Request.Context(), id, GetActor(c), req.Notes)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, approval)
}
