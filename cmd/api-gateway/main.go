package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/tradecert/tradecert-api/api/swagger"
	"github.com/tradecert/tradecert-api/internal/handler"
	"github.com/tradecert/tradecert-api/internal/middleware"
	"github.com/tradecert/tradecert-api/internal/models"
	"github.com/tradecert/tradecert-api/internal/repository"
	"github.com/tradecert/tradecert-api/internal/service"
	"github.com/tradecert/tradecert-api/pkg/cache"
	"github.com/tradecert/tradecert-api/pkg/config"
	"github.com/tradecert/tradecert-api/pkg/database"
	"github.com/tradecert/tradecert-api/pkg/export"
	"github.com/tradecert/tradecert-api/pkg/logger"
	corsmiddleware "github.com/tradecert/tradecert-api/pkg/middleware/cors"
	reqidmiddleware "github.com/tradecert/tradecert-api/pkg/middleware/requestid"
	"github.com/tradecert/tradecert-api/pkg/storage"
)

// @title TradeCert API
// @version 1.0.0
// @description Trading course enrollment and trader certification backend
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, catalog cache disabled", "error", err)
		redisClient = nil
	}

	store, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	traderRepo := repository.NewTraderRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Catalog.CacheTTL, logr, true)
		defer cacheRepo.Close() //nolint:errcheck
	}

	authSvc := service.NewAuthService(userRepo, traderRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	engine := service.NewTraderStatusEngine(cfg.Certification.Location())
	enrollmentSvc := service.NewEnrollmentService(
		traderRepo, courseRepo, enrollmentRepo, workflowRepo, userRepo,
		engine, metricsSvc, logr,
		service.EnrollmentConfig{
			CodeGrace: cfg.Certification.CodeGrace,
			Location:  cfg.Certification.Location(),
		},
	)

	courseSvc := service.NewCourseService(courseRepo, cacheSvc, store, validate, logr, cfg.Catalog.CacheTTL)
	traderSvc := service.NewTraderService(traderRepo, export.NewCertificatePDF(), store, signer, validate, logr)
	userSvc := service.NewUserService(userRepo, validate, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, courseRepo, userRepo, validate, logr, cfg.Payments.Currency)

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	traderHandler := handler.NewTraderHandler(traderSvc, store, signer)
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	api.GET("/certificates/download", traderHandler.DownloadCertificate)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.GET("/courses", courseHandler.ListPublished)
		protected.GET("/courses/:id", courseHandler.Get)
		protected.POST("/courses/:id/register", enrollmentHandler.Register)
		protected.POST("/enrollments/validate", enrollmentHandler.ValidateCode)

		protected.GET("/traders/me", traderHandler.Me)
		protected.PUT("/traders/me", traderHandler.UpdateMe)
		protected.POST("/traders/me/certificates/:courseId", traderHandler.ExportCertificate)

		protected.POST("/payments/checkout", paymentHandler.CreateCheckout)
		protected.GET("/payments", paymentHandler.List)

		self := protected.Group("/users/:id")
		self.Use(middleware.RBAC(string(models.RoleAdmin), "SELF"))
		{
			self.GET("/enrollments", enrollmentHandler.History)
			self.GET("/registrations/:courseId", enrollmentHandler.CheckRegistration)
			self.GET("/trader", traderHandler.Profile)
		}
	}

	// Gateway webhooks arrive outside a user session, so no JWT here.
	// Payload signature verification is left to the upstream gateway.
	api.POST("/payments/webhook", paymentHandler.Webhook)

	admin := api.Group("/admin")
	admin.Use(middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("/users", userHandler.List)
		admin.GET("/users/:id", userHandler.Get)
		admin.PUT("/users/:id/status", middleware.Audit(userRepo, "USER_STATUS_CHANGE", "users"), userHandler.ChangeStatus)
		admin.GET("/users/:id/status-history", userHandler.StatusHistory)

		admin.DELETE("/traders/:id", middleware.Audit(userRepo, "TRADER_DELETE", "traders"), traderHandler.Delete)

		admin.GET("/courses", courseHandler.ListAll)
		admin.POST("/courses", courseHandler.Create)
		admin.PUT("/courses/:id", courseHandler.Update)
		admin.PUT("/courses/:id/publish", courseHandler.SetPublished)
		admin.POST("/courses/:id/image", courseHandler.UploadImage)
		admin.DELETE("/courses/:id", middleware.Audit(userRepo, "COURSE_DELETE", "courses"), courseHandler.Delete)
		admin.POST("/courses/:id/code", enrollmentHandler.GenerateCode)

		admin.GET("/enrollments", enrollmentHandler.ListAwaitingAction)
		admin.PUT("/enrollments/:userId/courses/:courseId", enrollmentHandler.AdminAction)

		admin.GET("/metrics", metricsHandler.System)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
	logr.Sugar().Infow("server stopped")
}
