package handler

import (
	"strconv"

	"github.com/bitfantasy/nimo-ams/internal/service"
	"github.com/gin-gonic/gin"
)

// ConversionHandler 资产改造处理器
type ConversionHandler struct {
	svc *service.ConversionService
}

// NewConversionHandler 创建资产改造处理器
func NewConversionHandler(svc *service.ConversionService) *ConversionHandler {
	return &ConversionHandler{svc: svc}
}

// Create 创建改造申请
func (h *ConversionHandler) Create(c *gin.Context) {
	var req service.CreateConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	conv, err := h.svc.CreateRequest(c.Request.Context(), req, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Created(c, conv)
}

// List 改造申请列表
func (h *ConversionHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filters := map[string]interface{}{
		"status":   c.Query("status"),
		"asset_id": c.Query("asset_id"),
	}

	conversions, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	Success(c, ListResponse{
		Items: conversions,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	})
}

// Get 改造申请详情
func (h *ConversionHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Conversion ID is required")
		return
	}

	conv, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, conv)
}

// Approve 批准改造申请
func (h *ConversionHandler) Approve(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Conversion ID is required")
		return
	}

	conv, err := h.svc.Approve(c.Request.Context(), id, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, conv)
}

// Reject 驳回改造申请，理由必填
func (h *ConversionHandler) Reject(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Conversion ID is required")
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Rejection reason is required")
		return
	}

	conv, err := h.svc.Reject(c.Request.Context(), id, GetActor(c), req.Reason)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, conv)
}

// Execute 执行已批准的改造
func (h *ConversionHandler) Execute(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Conversion ID is required")
		return
	}

	conv, err := h.svc.Execute(c.Request.Context(), id, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, conv)
}

// Cancel 取消改造申请
func (h *ConversionHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Conversion ID is required")
		return
	}

	conv, err := h.svc.Cancel(c.Request.Context(), id, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, conv)
}
