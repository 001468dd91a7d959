package handler

import (
	"fmt"
	"io"
	"strconv"

	"github.com/bitfantasy/nimo-ams/internal/service"
	"github.com/gin-gonic/gin"
)

// WorkOrderHandler 维保工单处理器
type WorkOrderHandler struct {
	svc *service.WorkOrderService
}

// NewWorkOrderHandler 创建维保工单处理器
func NewWorkOrderHandler(svc *service.WorkOrderService) *WorkOrderHandler {
	return &WorkOrderHandler{svc: svc}
}

// Create 创建工单
func (h *WorkOrderHandler) Create(c *gin.Context) {
	var req service.CreateWorkOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	wo, err := h.svc.Create(c.Request.Context(), req, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Created(c, wo)
}

// List 工单列表
func (h *WorkOrderHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filters := map[string]interface{}{
		"status":              c.Query("status"),
		"asset_id":            c.Query("asset_id"),
		"assigned_technician": c.Query("assigned_technician"),
		"wo_type":             c.Query("wo_type"),
	}

	orders, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	Success(c, ListResponse{
		Items: orders,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	})
}

// Get 工单详情
func (h *WorkOrderHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	wo, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, wo)
}

// Assign 指派技术员
func (h *WorkOrderHandler) Assign(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	var req struct {
		Technician string `json:"technician" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Technician is required")
		return
	}

	wo, err := h.svc.Assign(c.Request.Context(), id, req.Technician)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, wo)
}

// Start 开工
func (h *WorkOrderHandler) Start(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	wo, err := h.svc.Start(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, wo)
}

// Complete 完工，成本超支时转入审批
func (h *WorkOrderHandler) Complete(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	var req struct {
		WorkPerformed string  `json:"work_performed" binding:"required"`
		LaborCost     float64 `json:"labor_cost" binding:"gte=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.Complete(c.Request.Context(), id, req.WorkPerformed, req.LaborCost, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, result)
}

// Cancel 取消工单
func (h *WorkOrderHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	wo, err := h.svc.Cancel(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, wo)
}

// ListTasks 检查项列表
func (h *WorkOrderHandler) ListTasks(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	tasks, err := h.svc.ListTasks(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, gin.H{"tasks": tasks})
}

// AddTask 添加检查项
func (h *WorkOrderHandler) AddTask(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	var req struct {
		Description string `json:"description" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Task description is required")
		return
	}

	task, err := h.svc.AddTask(c.Request.Context(), id, req.Description)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Created(c, task)
}

// CompleteTask 完成检查项
func (h *WorkOrderHandler) CompleteTask(c *gin.Context) {
	id := c.Param("id")
	taskID := c.Param("taskId")
	if id == "" || taskID == "" {
		BadRequest(c, "Work order ID and task ID are required")
		return
	}

	if err := h.svc.CompleteTask(c.Request.Context(), id, taskID, GetActor(c)); err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, nil)
}

// RemoveTask 移除检查项
func (h *WorkOrderHandler) RemoveTask(c *gin.Context) {
	id := c.Param("id")
	taskID := c.Param("taskId")
	if id == "" || taskID == "" {
		BadRequest(c, "Work order ID and task ID are required")
		return
	}

	if err := h.svc.RemoveTask(c.Request.Context(), id, taskID); err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, nil)
}

// ListParts 配件列表
func (h *WorkOrderHandler) ListParts(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	parts, err := h.svc.ListParts(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, gin.H{"parts": parts})
}

// AddPart 添加配件
func (h *WorkOrderHandler) AddPart(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	var req service.AddPartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	wo, err := h.svc.AddPart(c.Request.Context(), id, req)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Created(c, wo)
}

// RemovePart 移除配件
func (h *WorkOrderHandler) RemovePart(c *gin.Context) {
	id := c.Param("id")
	partID := c.Param("partId")
	if id == "" || partID == "" {
		BadRequest(c, "Work order ID and part ID are required")
		return
	}

	wo, err := h.svc.RemovePart(c.Request.Context(), id, partID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, wo)
}

// ListAttachments 附件列表
func (h *WorkOrderHandler) ListAttachments(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	atts, err := h.svc.ListAttachments(c.Request.Context(), id)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, gin.H{"attachments": atts})
}

// UploadAttachment 上传附件
func (h *WorkOrderHandler) UploadAttachment(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		BadRequest(c, "Work order ID is required")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		BadRequest(c, "File is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	att, err := h.svc.UploadAttachment(c.Request.Context(), id, header.Filename, contentType, header.Size, file, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Created(c, att)
}

// DownloadAttachment 下载附件
func (h *WorkOrderHandler) DownloadAttachment(c *gin.Context) {
	id := c.Param("id")
	attachmentID := c.Param("attachmentId")
	if id == "" || attachmentID == "" {
		BadRequest(c, "Work order ID and attachment ID are required")
		return
	}

	att, reader, err := h.svc.DownloadAttachment(c.Request.Context(), id, attachmentID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.FileName))
	c.Header("Content-Type", att.ContentType)
	c.Status(200)
	io.Copy(c.Writer, reader)
}
