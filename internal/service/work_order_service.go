package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitfantasy/nimo-ams/internal/lifecycle"
	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/bitfantasy/nimo-ams/internal/repository"
	"github.com/bitfantasy/nimo-ams/internal/sse"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 完工超支审批门槛：经理级
const workOrderOverrunApproverLevel = 2

// 完工超支审批动作
const actionCompleteWithOverrun = "complete_with_overrun"

// WorkOrderService 维保工单引擎。
// 检查项/配件增删与成本重算在同一事务内；完工把资产经系统路径
// 拉回运行状态；成本超支超过阈值时完工转入审批。
type WorkOrderService struct {
	woRepo           *repository.WorkOrderRepository
	assetRepo        *repository.AssetRepository
	userRepo         *repository.UserRepository
	lifecycleSvc     *LifecycleService
	approvalSvc      *ApprovalService
	hub              *sse.Hub
	minioClient      *minio.Client
	bucket           string
	overrunThreshold float64
	logger           *zap.Logger
}

// NewWorkOrderService 创建工单引擎
func NewWorkOrderService(
	woRepo *repository.WorkOrderRepository,
	assetRepo *repository.AssetRepository,
	userRepo *repository.UserRepository,
	lifecycleSvc *LifecycleService,
	approvalSvc *ApprovalService,
	hub *sse.Hub,
	minioClient *minio.Client,
	bucket string,
	overrunThreshold float64,
	logger *zap.Logger,
) *WorkOrderService {
	return &WorkOrderService{
		woRepo:           woRepo,
		assetRepo:        assetRepo,
		userRepo:         userRepo,
		lifecycleSvc:     lifecycleSvc,
		approvalSvc:      approvalSvc,
		hub:              hub,
		minioClient:      minioClient,
		bucket:           bucket,
		overrunThreshold: overrunThreshold,
		logger:           logger,
	}
}

// CreateWorkOrderRequest 创建工单参数
type CreateWorkOrderRequest struct {
	AssetID            string   `json:"asset_id" binding:"required"`
	WOType             string   `json:"wo_type"`
	Priority           string   `json:"priority"`
	EstimatedCost      float64  `json:"estimated_cost" binding:"gte=0"`
	ProblemDescription string   `json:"problem_description" binding:"required"`
	AssignedTechnician string   `json:"assigned_technician"`
	ScheduledDate      string   `json:"scheduled_date"` // YYYY-MM-DD
	Tasks              []string `json:"tasks"`
}

// Create 创建工单
func (s *WorkOrderService) Create(ctx context.Context, req CreateWorkOrderRequest, creator entity.Actor) (*entity.WorkOrder, error) {
	if _, err := s.assetRepo.FindByID(ctx, req.AssetID); err != nil {
		return nil, err
	}
	if req.AssignedTechnician != "" {
		if err := s.validateTechnician(ctx, req.AssignedTechnician); err != nil {
			return nil, err
		}
	}

	woType := req.WOType
	if woType == "" {
		woType = entity.WOTypeRepair
	}
	priority := req.Priority
	if priority == "" {
		priority = entity.WOPriorityMedium
	}
	status := entity.WOStatusPending
	if req.AssignedTechnician != "" {
		status = entity.WOStatusAssigned
	}

	wo := &entity.WorkOrder{
		WONumber:           s.woRepo.GenerateWONumber(),
		AssetID:            req.AssetID,
		WOType:             woType,
		Priority:           priority,
		Status:             status,
		EstimatedCost:      req.EstimatedCost,
		ProblemDescription: req.ProblemDescription,
		AssignedTechnician: req.AssignedTechnician,
		CreatedBy:          creator.ID,
	}
	if req.ScheduledDate != "" {
		if t, err := time.Parse("2006-01-02", req.ScheduledDate); err == nil {
			wo.ScheduledDate = &t
		}
	}
	for i, desc := range req.Tasks {
		wo.Tasks = append(wo.Tasks, entity.WorkOrderTask{
			TaskNumber:  i + 1,
			Description: desc,
			Status:      entity.WOTaskStatusPending,
		})
	}

	if err := s.woRepo.Create(ctx, wo); err != nil {
		return nil, fmt.Errorf("create work order: %w", err)
	}

	s.hub.PublishWorkOrderEvent(sse.EventWorkOrderCreated, wo.ID, wo.WONumber, wo.AssetID)
	s.logger.Info("work order created",
		zap.String("id", wo.ID),
		zap.String("wo_number", wo.WONumber),
		zap.String("asset_id", wo.AssetID),
	)
	return wo, nil
}

// Get 查询工单
func (s *WorkOrderService) Get(ctx context.Context, id string) (*entity.WorkOrder, error) {
	return s.woRepo.FindByID(ctx, id)
}

// List 工单列表
func (s *WorkOrderService) List(ctx context.Context, page, pageSize int, filters map[string]interface{}) ([]entity.WorkOrder, int64, error) {
	return s.woRepo.List(ctx, page, pageSize, filters)
}

// AddTask 添加检查项
func (s *WorkOrderService) AddTask(ctx context.Context, workOrderID, description string) (*entity.WorkOrderTask, error) {
	if description == "" {
		return nil, fmt.Errorf("task description required")
	}
	if err := s.requireMutable(ctx, workOrderID); err != nil {
		return nil, err
	}
	task, err := s.woRepo.AddTask(ctx, workOrderID, description)
	return task, mapClosedErr(err)
}

// RemoveTask 移除检查项
func (s *WorkOrderService) RemoveTask(ctx context.Context, workOrderID, taskID string) error {
	if err := s.requireMutable(ctx, workOrderID); err != nil {
		return err
	}
	return mapClosedErr(s.woRepo.RemoveTask(ctx, workOrderID, taskID))
}

// CompleteTask 完成检查项
func (s *WorkOrderService) CompleteTask(ctx context.Context, workOrderID, taskID string, actor entity.Actor) error {
	if err := s.requireMutable(ctx, workOrderID); err != nil {
		return err
	}
	return mapClosedErr(s.woRepo.CompleteTask(ctx, workOrderID, taskID, actor.ID))
}

// ListTasks 检查项列表
func (s *WorkOrderService) ListTasks(ctx context.Context, workOrderID string) ([]entity.WorkOrderTask, error) {
	return s.woRepo.ListTasks(ctx, workOrderID)
}

// AddPartRequest 添加配件参数
type AddPartRequest struct {
	PartName string  `json:"part_name" binding:"required"`
	Quantity float64 `json:"quantity" binding:"required,gt=0"`
	UnitCost float64 `json:"unit_cost" binding:"gte=0"`
}

// AddPart 添加配件，parts_cost 在同一事务内重算
func (s *WorkOrderService) AddPart(ctx context.Context, workOrderID string, req AddPartRequest) (*entity.WorkOrder, error) {
	if err := s.requireMutable(ctx, workOrderID); err != nil {
		return nil, err
	}
	part := &entity.WorkOrderPart{
		PartName: req.PartName,
		Quantity: req.Quantity,
		UnitCost: req.UnitCost,
	}
	wo, err := s.woRepo.AddPart(ctx, workOrderID, part)
	return wo, mapClosedErr(err)
}

// RemovePart 移除配件，parts_cost 在同一事务内重算
func (s *WorkOrderService) RemovePart(ctx context.Context, workOrderID, partID string) (*entity.WorkOrder, error) {
	if err := s.requireMutable(ctx, workOrderID); err != nil {
		return nil, err
	}
	wo, err := s.woRepo.RemovePart(ctx, workOrderID, partID)
	return wo, mapClosedErr(err)
}

// ListParts 配件列表
func (s *WorkOrderService) ListParts(ctx context.Context, workOrderID string) ([]entity.WorkOrderPart, error) {
	return s.woRepo.ListParts(ctx, workOrderID)
}

// Assign 指派技术员，pending → assigned
func (s *WorkOrderService) Assign(ctx context.Context, id, technician string) (*entity.WorkOrder, error) {
	if technician == "" {
		return nil, fmt.Errorf("technician required")
	}
	if err := s.validateTechnician(ctx, technician); err != nil {
		return nil, err
	}
	wo, err := s.woRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo.Status != entity.WOStatusPending {
		return nil, fmt.Errorf("%w: work order status %s, expected pending", ErrInvalidState, wo.Status)
	}

	ok, err := s.woRepo.AdvanceStatus(s.woRepo.DB().WithContext(ctx), id,
		[]string{entity.WOStatusPending},
		map[string]interface{}{
			"status":              entity.WOStatusAssigned,
			"assigned_technician": technician,
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: work order %s left pending", ErrConcurrentModification, id)
	}
	return s.woRepo.FindByID(ctx, id)
}

// validateTechnician 被指派人必须是有效用户
func (s *WorkOrderService) validateTechnician(ctx context.Context, userID string) error {
	if s.userRepo == nil {
		return nil
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: technician %s", repository.ErrNotFound, userID)
		}
		return err
	}
	if user.Status != "active" {
		return fmt.Errorf("technician %s is not active", userID)
	}
	return nil
}

// Start 开工，pending|assigned → in_progress，打 actual_start_date
func (s *WorkOrderService) Start(ctx context.Context, id string) (*entity.WorkOrder, error) {
	wo, err := s.woRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo.Status != entity.WOStatusPending && wo.Status != entity.WOStatusAssigned {
		return nil, fmt.Errorf("%w: work order status %s, expected pending or assigned", ErrInvalidState, wo.Status)
	}

	now := time.Now()
	ok, err := s.woRepo.AdvanceStatus(s.woRepo.DB().WithContext(ctx), id,
		[]string{entity.WOStatusPending, entity.WOStatusAssigned},
		map[string]interface{}{
			"status":            entity.WOStatusInProgress,
			"actual_start_date": now,
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: work order %s already started or finished", ErrConcurrentModification, id)
	}
	return s.woRepo.FindByID(ctx, id)
}

// CompleteResult 完工的两种结果：已完工 或 超支转审批
type CompleteResult struct {
	Completed  bool              `json:"completed"`
	WorkOrder  *entity.WorkOrder `json:"work_order,omitempty"`
	ApprovalID string            `json:"approval_id,omitempty"`
}

// Complete 完工，in_progress → completed。
// actual_cost = parts_cost + labor_cost；资产在维修状态时经系统路径
// 回到 deployed。实际成本超出预估超过阈值时转入台账审批，由注册的
// 执行回调在批准后落地完工。
func (s *WorkOrderService) Complete(ctx context.Context, id, workPerformed string, actualLaborCost float64, actor entity.Actor) (*CompleteResult, error) {
	wo, err := s.woRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo.Status != entity.WOStatusInProgress {
		return nil, fmt.Errorf("%w: work order status %s, expected in_progress", ErrInvalidState, wo.Status)
	}

	if s.isOverrun(wo.EstimatedCost, wo.PartsCost+actualLaborCost) {
		return s.requestOverrunApproval(ctx, wo, workPerformed, actualLaborCost, actor)
	}

	err = s.complete(ctx, nil, id, workPerformed, actualLaborCost, actor.ID, true)
	if errors.Is(err, errOverrunDetected) {
		// 配件在超支判定与落地之间发生了变更，按锁内读到的最新成本转审批
		fresh, ferr := s.woRepo.FindByID(ctx, id)
		if ferr != nil {
			return nil, ferr
		}
		return s.requestOverrunApproval(ctx, fresh, workPerformed, actualLaborCost, actor)
	}
	if err != nil {
		return nil, err
	}

	s.lifecycleSvc.invalidateStatusCache(ctx, wo.AssetID)
	s.hub.PublishWorkOrderEvent(sse.EventWorkOrderCompleted, wo.ID, wo.WONumber, wo.AssetID)

	completed, err := s.woRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CompleteResult{Completed: true, WorkOrder: completed}, nil
}

// isOverrun 实际成本是否超出预估阈值；未填预估时不判超支
func (s *WorkOrderService) isOverrun(estimatedCost, actualCost float64) bool {
	return estimatedCost > 0 && actualCost > estimatedCost*(1+s.overrunThreshold)
}

func (s *WorkOrderService) requestOverrunApproval(ctx context.Context, wo *entity.WorkOrder, workPerformed string, laborCost float64, actor entity.Actor) (*CompleteResult, error) {
	actualCost := wo.PartsCost + laborCost
	req, err := s.approvalSvc.Create(ctx,
		entity.ResourceTypeWorkOrder, wo.ID, actionCompleteWithOverrun, actor.ID,
		entity.JSONB{
			"work_performed": workPerformed,
			"labor_cost":     laborCost,
			"actual_cost":    actualCost,
			"estimated_cost": wo.EstimatedCost,
		},
		ApprovalPolicy{Levels: 1, LevelL1: workOrderOverrunApproverLevel},
	)
	if err != nil {
		return nil, err
	}
	s.logger.Info("work order completion requires overrun approval",
		zap.String("id", wo.ID),
		zap.Float64("actual_cost", actualCost),
		zap.Float64("estimated_cost", wo.EstimatedCost),
	)
	return &CompleteResult{Completed: false, ApprovalID: req.ID}, nil
}

// ExecuteApprovedCompletion 超支完工审批的执行回调（资源类型 work_order）。
// 依据创建时的快照在台账事务内落地完工。
func (s *WorkOrderService) ExecuteApprovedCompletion(tx *gorm.DB, req *entity.ApprovalRequest) error {
	if req.ActionType != actionCompleteWithOverrun {
		return fmt.Errorf("unsupported work order action %q", req.ActionType)
	}
	workPerformed, _ := req.DataSnapshot["work_performed"].(string)
	laborCost, _ := req.DataSnapshot["labor_cost"].(float64)
	return s.complete(context.Background(), tx, req.ResourceID, workPerformed, laborCost, req.RequestedBy, false)
}

// afterApprovedCompletion 超支完工审批事务提交后的副作用：
// 失效资产状态缓存并推送完工事件
func (s *WorkOrderService) afterApprovedCompletion(req *entity.ApprovalRequest) {
	wo, err := s.woRepo.FindByID(context.Background(), req.ResourceID)
	if err != nil {
		s.logger.Warn("load completed work order for notification failed",
			zap.String("id", req.ResourceID), zap.Error(err))
		return
	}
	s.lifecycleSvc.invalidateStatusCache(context.Background(), wo.AssetID)
	s.hub.PublishWorkOrderEvent(sse.EventWorkOrderCompleted, wo.ID, wo.WONumber, wo.AssetID)
}

// errOverrunDetected 完工落地时锁内成本已越过阈值，改走审批
var errOverrunDetected = errors.New("cost overrun detected at completion")

// complete 完工落地：锁内读最新成本、状态推进、成本定格、资产回运行
// 状态，同一事务。actual_cost 以行上的 parts_cost 计算，不信任锁前读数。
// enforceThreshold 为真时在锁内复核超支；审批后的执行路径跳过复核。
func (s *WorkOrderService) complete(ctx context.Context, tx *gorm.DB, woID, workPerformed string, laborCost float64, actorID string, enforceThreshold bool) error {
	var actualCost float64
	run := func(tx *gorm.DB) error {
		wo, err := s.woRepo.LockForUpdate(tx, woID)
		if err != nil {
			return err
		}
		if wo.Status != entity.WOStatusInProgress {
			return fmt.Errorf("%w: work order status %s, expected in_progress", ErrStaleTransition, wo.Status)
		}
		actualCost = wo.PartsCost + laborCost
		if enforceThreshold && s.isOverrun(wo.EstimatedCost, actualCost) {
			return errOverrunDetected
		}

		ok, err := s.woRepo.AdvanceStatus(tx, woID,
			[]string{entity.WOStatusInProgress},
			map[string]interface{}{
				"status":          entity.WOStatusCompleted,
				"work_performed":  workPerformed,
				"labor_cost":      laborCost,
				"actual_cost":     gorm.Expr("parts_cost + ?", laborCost),
				"actual_end_date": time.Now(),
			})
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: work order %s no longer in progress", ErrConcurrentModification, woID)
		}

		asset, err := s.assetRepo.FindByID(ctx, wo.AssetID)
		if err != nil {
			return err
		}
		if asset.LifecycleState == lifecycle.StateUnderMaintenance {
			if err := s.lifecycleSvc.SystemTransition(ctx, tx,
				wo.AssetID, lifecycle.StateUnderMaintenance, lifecycle.StateDeployed,
				actorID, fmt.Sprintf("work order %s completed", wo.WONumber)); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if tx != nil {
		err = run(tx)
	} else {
		err = s.woRepo.DB().WithContext(ctx).Transaction(run)
	}
	if err != nil {
		return err
	}

	s.logger.Info("work order completed",
		zap.String("id", woID),
		zap.Float64("actual_cost", actualCost),
	)
	return nil
}

// Cancel 取消工单，pending|assigned → cancelled
func (s *WorkOrderService) Cancel(ctx context.Context, id string) (*entity.WorkOrder, error) {
	wo, err := s.woRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo.Status != entity.WOStatusPending && wo.Status != entity.WOStatusAssigned {
		return nil, fmt.Errorf("%w: work order status %s, expected pending or assigned", ErrInvalidState, wo.Status)
	}

	ok, err := s.woRepo.AdvanceStatus(s.woRepo.DB().WithContext(ctx), id,
		[]string{entity.WOStatusPending, entity.WOStatusAssigned},
		map[string]interface{}{"status": entity.WOStatusCancelled})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: work order %s already started or finished", ErrConcurrentModification, id)
	}
	return s.woRepo.FindByID(ctx, id)
}

// UploadAttachment 上传附件到 MinIO 并记录元数据
func (s *WorkOrderService) UploadAttachment(ctx context.Context, workOrderID, fileName, contentType string, size int64, reader io.Reader, actor entity.Actor) (*entity.WorkOrderAttachment, error) {
	if s.minioClient == nil {
		return nil, fmt.Errorf("object storage not configured")
	}
	if _, err := s.woRepo.FindByID(ctx, workOrderID); err != nil {
		return nil, err
	}

	objectKey := fmt.Sprintf("work-orders/%s/%s", workOrderID, uuid.New().String())
	_, err := s.minioClient.PutObject(ctx, s.bucket, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}

	att := &entity.WorkOrderAttachment{
		WorkOrderID: workOrderID,
		FileName:    fileName,
		ObjectKey:   objectKey,
		ContentType: contentType,
		FileSize:    size,
		UploadedBy:  actor.ID,
	}
	if err := s.woRepo.AddAttachment(ctx, att); err != nil {
		return nil, fmt.Errorf("record attachment: %w", err)
	}
	return att, nil
}

// DownloadAttachment 读取附件内容
func (s *WorkOrderService) DownloadAttachment(ctx context.Context, workOrderID, attachmentID string) (*entity.WorkOrderAttachment, io.ReadCloser, error) {
	if s.minioClient == nil {
		return nil, nil, fmt.Errorf("object storage not configured")
	}
	att, err := s.woRepo.FindAttachment(ctx, workOrderID, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.minioClient.GetObject(ctx, s.bucket, att.ObjectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("download attachment: %w", err)
	}
	return att, obj, nil
}

// ListAttachments 附件列表
func (s *WorkOrderService) ListAttachments(ctx context.Context, workOrderID string) ([]entity.WorkOrderAttachment, error) {
	return s.woRepo.ListAttachments(ctx, workOrderID)
}

// requireMutable 检查项/配件只在未完结的工单上可改
func (s *WorkOrderService) requireMutable(ctx context.Context, workOrderID string) error {
	wo, err := s.woRepo.FindByID(ctx, workOrderID)
	if err != nil {
		return err
	}
	if wo.Status == entity.WOStatusCompleted || wo.Status == entity.WOStatusCancelled {
		return fmt.Errorf("%w: work order status %s", ErrInvalidState, wo.Status)
	}
	return nil
}

// mapClosedErr 仓储层在行锁下复查状态，已完结的工单统一映射为非法状态错误
func mapClosedErr(err error) error {
	if errors.Is(err, repository.ErrWorkOrderClosed) {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return err
}
