package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitfantasy/nimo-ams/internal/config"
	"github.com/bitfantasy/nimo-ams/internal/handler"
	"github.com/bitfantasy/nimo-ams/internal/middleware"
	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/bitfantasy/nimo-ams/internal/repository"
	"github.com/bitfantasy/nimo-ams/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting nimo-ams service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := repository.AutoMigrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// 初始化Redis
	rdb := initRedis(cfg.Redis)

	// 初始化依赖
	repos := repository.NewRepositories(db)
	services := service.NewServices(repos, rdb, cfg, zapLogger)
	handlers := handler.NewHandlers(services, cfg)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())

	// 注册路由
	registerRoutes(router, handlers, db, rdb, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, db *gorm.DB, rdb *redis.Client, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// 需要认证的接口；观察者级别只读，写操作要求员工级以上
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
		staff := middleware.RequireLevel(entity.RoleLevelStaff)
		{
			// 状态目录
			authorized.GET("/lifecycle/states", h.Lifecycle.ListStates)

			// 资产生命周期
			assets := authorized.Group("/assets")
			{
				assets.GET("/:id/status", h.Lifecycle.GetStatus)
				assets.GET("/:id/transitions", h.Lifecycle.ListTransitions)
				assets.POST("/:id/transitions", staff, h.Lifecycle.RequestTransition)
				assets.GET("/:id/history", h.Lifecycle.History)
			}

			// 审批台账
			approvals := authorized.Group("/approvals")
			{
				approvals.GET("/pending", h.Approval.ListPending)
				approvals.GET("/mine", h.Approval.ListMine)
				approvals.GET("/:id", h.Approval.Get)
				approvals.POST("/:id/approve", staff, h.Approval.Approve)
				approvals.POST("/:id/reject", staff, h.Approval.Reject)
			}

			// 资产改造
			conversions := authorized.Group("/conversions")
			{
				conversions.GET("", h.Conversion.List)
				conversions.POST("", staff, h.Conversion.Create)
				conversions.GET("/:id", h.Conversion.Get)
				conversions.POST("/:id/approve", staff, h.Conversion.Approve)
				conversions.POST("/:id/reject", staff, h.Conversion.Reject)
				conversions.POST("/:id/execute", staff, h.Conversion.Execute)
				conversions.POST("/:id/cancel", staff, h.Conversion.Cancel)
			}

			// 维保工单
			workOrders := authorized.Group("/work-orders")
			{
				workOrders.GET("", h.WorkOrder.List)
				workOrders.POST("", staff, h.WorkOrder.Create)
				workOrders.GET("/:id", h.WorkOrder.Get)
				workOrders.POST("/:id/assign", staff, h.WorkOrder.Assign)
				workOrders.POST("/:id/start", staff, h.WorkOrder.Start)
				workOrders.POST("/:id/complete", staff, h.WorkOrder.Complete)
				workOrders.POST("/:id/cancel", staff, h.WorkOrder.Cancel)

				workOrders.GET("/:id/tasks", h.WorkOrder.ListTasks)
				workOrders.POST("/:id/tasks", staff, h.WorkOrder.AddTask)
				workOrders.PUT("/:id/tasks/:taskId/complete", staff, h.WorkOrder.CompleteTask)
				workOrders.DELETE("/:id/tasks/:taskId", staff, h.WorkOrder.RemoveTask)

				workOrders.GET("/:id/parts", h.WorkOrder.ListParts)
				workOrders.POST("/:id/parts", staff, h.WorkOrder.AddPart)
				workOrders.DELETE("/:id/parts/:partId", staff, h.WorkOrder.RemovePart)

				workOrders.GET("/:id/attachments", h.WorkOrder.ListAttachments)
				workOrders.POST("/:id/attachments", staff, h.WorkOrder.UploadAttachment)
				workOrders.GET("/:id/attachments/:attachmentId/download", h.WorkOrder.DownloadAttachment)
			}

			// 事件推送
			authorized.GET("/events", h.SSE.Stream)
		}
	}
}
