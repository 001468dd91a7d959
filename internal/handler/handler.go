package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-ams/internal/config"
	"github.com/bitfantasy/nimo-ams/internal/lifecycle"
	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/bitfantasy/nimo-ams/internal/repository"
	"github.com/bitfantasy/nimo-ams/internal/service"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Lifecycle  *LifecycleHandler
	Approval   *ApprovalHandler
	Conversion *ConversionHandler
	WorkOrder  *WorkOrderHandler
	SSE        *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, cfg *config.Config) *Handlers {
	return &Handlers{
		Lifecycle:  NewLifecycleHandler(svc.Lifecycle),
		Approval:   NewApprovalHandler(svc.Approval),
		Conversion: NewConversionHandler(svc.Conversion),
		WorkOrder:  NewWorkOrderHandler(svc.WorkOrder),
		SSE:        NewSSEHandler(svc.Hub),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// Conflict 状态冲突响应
func Conflict(c *gin.Context, message string) {
	Error(c, 40900, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// HandleServiceError 按服务层错误类型映射响应码
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, service.ErrPermissionDenied):
		Forbidden(c, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrUnknownTransition),
		errors.Is(err, service.ErrTerminalState),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrNotApproved),
		errors.Is(err, service.ErrDuplicatePendingRequest):
		BadRequest(c, err.Error())
	case errors.Is(err, service.ErrAlreadyFinalized),
		errors.Is(err, service.ErrConcurrentModification),
		errors.Is(err, service.ErrStaleTransition):
		Conflict(c, err.Error())
	default:
		InternalError(c, err.Error())
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetActor 从JWT声明组装操作者身份
func GetActor(c *gin.Context) entity.Actor {
	actor := entity.Actor{
		ID:        GetUserID(c),
		RoleLevel: entity.RoleLevelViewer,
	}
	if name, ok := c.Get("user_name"); ok {
		actor.Name, _ = name.(string)
	}
	if level, ok := c.Get("role_level"); ok {
		if v, ok := level.(int); ok && v >= entity.RoleLevelAdmin {
			actor.RoleLevel = v
		}
	}
	return actor
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
