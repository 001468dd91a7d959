package service

import (
	"github.com/bitfantasy/nimo-ams/internal/config"
	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/bitfantasy/nimo-ams/internal/repository"
	"github.com/bitfantasy/nimo-ams/internal/sse"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services 服务集合
type Services struct {
	Approval   *ApprovalService
	Lifecycle  *LifecycleService
	Conversion *ConversionService
	WorkOrder  *WorkOrderService
	Hub        *sse.Hub
}

// NewServices 创建服务集合并完成执行回调注册
func NewServices(repos *repository.Repositories, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *Services {
	// 初始化MinIO客户端
	var minioClient *minio.Client
	if cfg.MinIO.Endpoint != "" {
		var err error
		minioClient, err = minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			logger.Warn("minio unavailable, attachments disabled", zap.Error(err))
			minioClient = nil
		}
	}

	hub := sse.NewHub(logger)

	approvalSvc := NewApprovalService(repos.Approval, logger)
	lifecycleSvc := NewLifecycleService(repos.Asset, approvalSvc, rdb, logger)
	conversionSvc := NewConversionService(repos.Conversion, repos.Asset, logger)
	workOrderSvc := NewWorkOrderService(
		repos.WorkOrder, repos.Asset, repos.User,
		lifecycleSvc, approvalSvc, hub,
		minioClient, cfg.MinIO.Bucket,
		cfg.Workflow.CostOverrunThreshold,
		logger,
	)

	// 台账按资源类型派发执行回调
	approvalSvc.RegisterExecutor(entity.ResourceTypeAssetTransition, lifecycleSvc.ExecuteApproved, lifecycleSvc.afterApprovedTransition)
	approvalSvc.RegisterExecutor(entity.ResourceTypeWorkOrder, workOrderSvc.ExecuteApprovedCompletion, workOrderSvc.afterApprovedCompletion)

	return &Services{
		Approval:   approvalSvc,
		Lifecycle:  lifecycleSvc,
		Conversion: conversionSvc,
		WorkOrder:  workOrderSvc,
		Hub:        hub,
	}
}
