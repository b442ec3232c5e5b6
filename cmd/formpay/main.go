package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/zouyuanqing/formpay/internal/config"
	formentity "github.com/zouyuanqing/formpay/internal/form/entity"
	formhandler "github.com/zouyuanqing/formpay/internal/form/handler"
	formrepo "github.com/zouyuanqing/formpay/internal/form/repository"
	formsvc "github.com/zouyuanqing/formpay/internal/form/service"
	"github.com/zouyuanqing/formpay/internal/middleware"
	payentity "github.com/zouyuanqing/formpay/internal/payment/entity"
	payhandler "github.com/zouyuanqing/formpay/internal/payment/handler"
	payrepo "github.com/zouyuanqing/formpay/internal/payment/repository"
	paysvc "github.com/zouyuanqing/formpay/internal/payment/service"
	"github.com/zouyuanqing/formpay/internal/shared/gateway"
	"github.com/zouyuanqing/formpay/internal/shared/redislock"
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

	zapLogger.Info("Starting formpay service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&formentity.User{},
		&formentity.Admin{},
		&formentity.Form{},
		&formentity.FormField{},
		&formentity.Submission{},
		&formentity.SubmissionData{},
		&formentity.UploadFile{},
		&payentity.PaymentAccount{},
		&payentity.PaymentOrder{},
	); err != nil {
		zapLogger.Fatal("AutoMigrate failed", zap.Error(err))
	}

	// payment_orders.submission_id 级联外键，删除提交时订单随之删除
	if err := db.Exec(`ALTER TABLE payment_orders DROP CONSTRAINT IF EXISTS fk_payment_orders_submission`).Error; err != nil {
		zapLogger.Warn("Failed to refresh payment_orders FK", zap.Error(err))
	} else if err := db.Exec(`ALTER TABLE payment_orders ADD CONSTRAINT fk_payment_orders_submission FOREIGN KEY (submission_id) REFERENCES submissions(id) ON DELETE CASCADE`).Error; err != nil {
		zapLogger.Warn("Failed to add payment_orders FK", zap.Error(err))
	}

	// Redis（可选，不可用时重复提交拦截降级为数据库查重）
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			zapLogger.Warn("Redis unavailable, duplicate-submit guard degrades to DB check", zap.Error(err))
			rdb = nil
		}
	}
	locker := redislock.NewLocker(rdb)

	// 文件存储：配置了MinIO用对象存储，否则落本地磁盘
	store, err := initFileStore(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to init file store", zap.Error(err))
	}

	// 支付网关：未配置凭据的渠道挂Disabled实现
	gateways := initGateways(cfg, zapLogger)

	// 仓库、服务、处理器
	payRepos := payrepo.NewRepositories(db)
	orderSvc := paysvc.NewOrderService(payRepos, gateways, locker, zapLogger)
	accountSvc := paysvc.NewAccountService(payRepos.Account)
	payHandlers := payhandler.NewHandlers(orderSvc, accountSvc, zapLogger)

	formRepos := formrepo.NewRepositories(db)
	formServices := formsvc.NewServices(db, formRepos, payRepos, orderSvc, store, locker, cfg, zapLogger)
	formHandlers := formhandler.NewHandlers(formServices, store)

	// 初始管理员：配置了 ADMIN_EMAIL/ADMIN_PASSWORD 时自动建号，已存在则跳过
	if admin, err := formServices.Auth.EnsureAdmin(context.Background(),
		cfg.Admin.Email, cfg.Admin.Password, cfg.Admin.Name); err != nil {
		zapLogger.Warn("Failed to seed admin account", zap.Error(err))
	} else if admin != nil {
		zapLogger.Info("Admin account ready", zap.String("email", admin.Email))
	}

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

	registerRoutes(router, formHandlers, payHandlers, cfg)

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
		Logger: logger.Default.LogMode(logger.Warn),
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

	return db, nil
}

func initFileStore(cfg *config.Config, zapLogger *zap.Logger) (formsvc.FileStore, error) {
	if cfg.MinIO.Endpoint != "" {
		client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			zapLogger.Warn("MinIO unavailable, falling back to local upload dir", zap.Error(err))
		} else {
			zapLogger.Info("Using MinIO file store", zap.String("bucket", cfg.MinIO.Bucket))
			return formsvc.NewMinIOStore(client, cfg.MinIO.Bucket, cfg.Upload.MaxSize), nil
		}
	}
	return formsvc.NewLocalStore(cfg.Upload.Dir, cfg.Upload.MaxSize)
}

func initGateways(cfg *config.Config, zapLogger *zap.Logger) map[string]gateway.Gateway {
	gateways := map[string]gateway.Gateway{
		payentity.PaymentTypeWechat: gateway.Disabled{},
		payentity.PaymentTypeAlipay: gateway.Disabled{},
	}

	if cfg.Wechat.AppID != "" && cfg.Wechat.MchID != "" && cfg.Wechat.APIKey != "" {
		gateways[payentity.PaymentTypeWechat] = gateway.NewWechatGateway(
			cfg.Wechat.AppID, cfg.Wechat.MchID, cfg.Wechat.APIKey, cfg.Wechat.NotifyURL)
		zapLogger.Info("Wechat pay gateway enabled")
	}

	if cfg.Alipay.AppID != "" && cfg.Alipay.PrivateKey != "" {
		gw, err := gateway.NewAlipayGateway(
			cfg.Alipay.AppID, cfg.Alipay.PrivateKey, cfg.Alipay.AlipayPublicKey,
			cfg.Alipay.GatewayURL, cfg.Alipay.NotifyURL, cfg.Alipay.ReturnURL)
		if err != nil {
			zapLogger.Warn("Alipay gateway disabled, bad credentials", zap.Error(err))
		} else {
			gateways[payentity.PaymentTypeAlipay] = gw
			zapLogger.Info("Alipay gateway enabled")
		}
	}

	return gateways
}

func registerRoutes(r *gin.Engine, fh *formhandler.Handlers, ph *payhandler.Handlers, cfg *config.Config) {
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

	v1 := r.Group("/api/v1")
	{
		// 认证
		auth := v1.Group("/auth")
		{
			auth.POST("/register", fh.Auth.Register)
			auth.POST("/login", fh.Auth.Login)
			auth.POST("/admin/login", fh.Auth.AdminLogin)
		}

		// 支付回调：不鉴权，真实性靠网关验签
		notify := v1.Group("/payments/notify")
		{
			notify.POST("/wechat", ph.Notify.WechatNotify)
			notify.POST("/alipay", ph.Notify.AlipayNotify)
		}

		// 支付宝同步跳转落地
		v1.GET("/payments/return/alipay", ph.Payment.Return)

		// 登录用户接口
		authed := v1.Group("")
		authed.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			authed.GET("/forms", fh.Form.List)
			authed.GET("/forms/:id", fh.Form.Get)
			authed.POST("/forms/:id/submissions", fh.Submission.Submit)

			authed.GET("/submissions", fh.Submission.ListMine)
			authed.GET("/submissions/:id", fh.Submission.Get)
			authed.GET("/submissions/:id/payments", ph.Payment.ListBySubmission)

			authed.GET("/payments", ph.Payment.History)
			authed.GET("/payments/:id", ph.Payment.Get)
			authed.POST("/payments/:id/initiate", ph.Payment.Initiate)
			authed.POST("/payments/:id/poll", ph.Payment.Poll)
		}

		// 管理端接口
		admin := v1.Group("/admin")
		admin.Use(middleware.JWTAuth(cfg.JWT.Secret), middleware.AdminOnly())
		{
			admin.POST("/forms", fh.Form.Create)
			admin.PUT("/forms/:id", fh.Form.Update)
			admin.DELETE("/forms/:id", fh.Form.Delete)
			admin.GET("/forms/:id/submissions", fh.Submission.ListByForm)
			admin.PUT("/submissions/:id/status", fh.Submission.UpdateStatus)
			admin.DELETE("/submissions/:id", fh.Submission.Delete)
			admin.GET("/files/:id", fh.Submission.DownloadFile)
			admin.POST("/database/clear", fh.Submission.ClearData)

			admin.GET("/payments", ph.Payment.AdminList)
			admin.PUT("/payments/:id/status", ph.Payment.Override)

			admin.GET("/accounts", ph.Account.List)
			admin.GET("/accounts/:id", ph.Account.Get)
			admin.POST("/accounts", ph.Account.Create)
			admin.PUT("/accounts/:id", ph.Account.Update)
			admin.DELETE("/accounts/:id", ph.Account.Delete)
		}
	}
}
