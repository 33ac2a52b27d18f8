package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/salesync/internal/config"
	"github.com/bitfantasy/salesync/internal/middleware"
	"github.com/bitfantasy/salesync/internal/sales/entity"
	"github.com/bitfantasy/salesync/internal/sales/handler"
	"github.com/bitfantasy/salesync/internal/sales/repository"
	"github.com/bitfantasy/salesync/internal/sales/service"
	"github.com/bitfantasy/salesync/internal/shared/ledger"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
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
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

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

	zapLogger.Info("Starting salesync service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&entity.Buyer{},
		&entity.Sale{},
		&entity.Incident{},
	); err != nil {
		zapLogger.Warn("AutoMigrate warning", zap.Error(err))
	}

	// external_invoice_id 的正式记录唯一性由业务逻辑保证（promote-and-replace
	// 存在短暂双行窗口），这里只建普通索引加速查找
	db.Exec("CREATE INDEX IF NOT EXISTS idx_sales_external_invoice ON sales(external_invoice_id) WHERE external_invoice_id <> ''")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_sales_awaiting ON sales(status) WHERE status = 'invoiced' AND error_flag = false")

	// 初始化redis（扫描租约）
	rdb := initRedis(cfg.Redis)

	// 初始化账务系统客户端：进程入口显式构造后注入，服务内不做惰性单例
	ledgerClient := ledger.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.ClientID, cfg.Ledger.ClientSecret)
	zapLogger.Info("Ledger client initialized", zap.String("base_url", cfg.Ledger.BaseURL))

	repos := repository.NewRepositories(db)
	services := service.NewServices(repos, ledgerClient, rdb, zapLogger)
	services.Reconcile.SetLookbackDays(cfg.Sweep.LookbackDays)
	handlers := handler.NewHandlers(services, cfg.Ledger.WebhookKey)

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
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	registerRoutes(router, handlers, cfg)

	// 定时对账扫描（webhook丢失的兜底）
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	if cfg.Sweep.Enabled {
		go runSweepLoop(sweepCtx, services.Reconcile, cfg.Sweep.Interval, zapLogger)
	}

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

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
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

// runSweepLoop 定时触发对账扫描，多副本下由redis租约去重
func runSweepLoop(ctx context.Context, reconcile *service.ReconcileService, interval time.Duration, zapLogger *zap.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := reconcile.SweepWithLease(ctx)
			if err != nil {
				zapLogger.Error("scheduled sweep failed", zap.Error(err))
				continue
			}
			if summary != nil {
				zapLogger.Info("scheduled sweep completed",
					zap.Int("checked", summary.Checked),
					zap.Int("updated", summary.Updated),
					zap.Int("errors", summary.Errors))
			}
		}
	}
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

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
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
		// Webhook路由（无需认证，靠HMAC签名校验）
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/ledger", h.Webhook.Handle)
		}

		// 需要认证的接口
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			sales := authorized.Group("/sales")
			{
				sales.GET("", h.Sale.List)
				sales.GET("/:id", h.Sale.Get)
				sales.POST("", h.Sale.Create)
				sales.POST("/:id/claim", h.Claim.Claim)
				sales.POST("/:id/transition", h.Lifecycle.Transition)
			}

			incidents := authorized.Group("/incidents")
			{
				incidents.GET("", h.Incident.List)
				incidents.GET("/:id", h.Incident.Get)
			}

			// 财务角色门限
			finance := authorized.Group("")
			finance.Use(middleware.RequireRole("finance"))
			{
				finance.POST("/sales/lock-paid", h.Lifecycle.LockPaid)
				finance.POST("/sales/pay-commissions", h.Lifecycle.PayCommissions)
				finance.DELETE("/sales/:id", h.Sale.Delete)
				finance.POST("/sales/:id/restore", h.Sale.Restore)
				finance.POST("/sales/:id/validate-vat", h.Sale.ValidateVAT)
				finance.POST("/reconcile/sweep", h.Sweep.Trigger)
				finance.POST("/incidents/:id/resolve", h.Incident.Resolve)
			}
		}
	}
}
