package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/uni-records-api/api/swagger"
	"github.com/noah-isme/uni-records-api/internal/grading"
	"github.com/noah-isme/uni-records-api/internal/handler"
	"github.com/noah-isme/uni-records-api/internal/middleware"
	"github.com/noah-isme/uni-records-api/internal/models"
	"github.com/noah-isme/uni-records-api/internal/repository"
	"github.com/noah-isme/uni-records-api/internal/service"
	"github.com/noah-isme/uni-records-api/pkg/cache"
	"github.com/noah-isme/uni-records-api/pkg/config"
	"github.com/noah-isme/uni-records-api/pkg/database"
	"github.com/noah-isme/uni-records-api/pkg/export"
	"github.com/noah-isme/uni-records-api/pkg/jobs"
	"github.com/noah-isme/uni-records-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/uni-records-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/uni-records-api/pkg/middleware/requestid"
)

// @title University Records API
// @version 1.0.0
// @description Enrollment grading, attendance and course records
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, evaluation cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	policy, err := grading.FromConfig(cfg.Grading)
	if err != nil {
		logr.Fatal("invalid grading configuration", zap.Error(err))
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "uni", logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.EvaluationTTL, logr, cfg.Cache.Enabled && redisClient != nil)
	evaluationSvc := service.NewEvaluationService(courseRepo, enrollmentRepo, attendanceRepo, cacheSvc, cfg.Cache.EvaluationTTL, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, studentRepo, policy, evaluationSvc, metricsSvc,
		service.EnrollmentConfig{RequireVersion: cfg.Grading.RequireVersion}, validate, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, enrollmentRepo, courseRepo, evaluationSvc, metricsSvc, validate, logr)
	exportSvc := service.NewExportService(evaluationSvc, &export.CSVExporter{ExcelBOM: true}, export.NewPDFExporter(), logr)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
	})

	recomputeQueue := jobs.NewQueue("recompute", jobs.QueueConfig{
		Workers:    cfg.Recompute.Workers,
		MaxRetries: cfg.Recompute.Retries,
		RetryDelay: cfg.Recompute.RetryDelay,
		Logger:     logr,
	})
	scheduler := service.NewRecomputeScheduler(recomputeQueue, enrollmentSvc, logr)
	courseSvc := service.NewCourseService(courseRepo, scheduler, evaluationSvc, metricsSvc, validate, logr)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	recomputeQueue.Start(rootCtx)
	defer recomputeQueue.Stop()

	checks := map[string]handler.Pinger{
		"postgres": func(ctx context.Context) error { return database.Ping(ctx, db) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return cache.Ping(ctx, redisClient) }
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:        authSvc,
		courses:     handler.NewCourseHandler(courseSvc),
		enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		attendance:  handler.NewAttendanceHandler(attendanceSvc),
		evaluations: handler.NewEvaluationHandler(evaluationSvc, exportSvc),
		metrics:     metricsHandler,
		logger:      logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	logr.Info("server stopped")
}

type routeDeps struct {
	auth        *service.AuthService
	courses     *handler.CourseHandler
	enrollments *handler.EnrollmentHandler
	attendance  *handler.AttendanceHandler
	evaluations *handler.EvaluationHandler
	metrics     *handler.MetricsHandler
	logger      *zap.Logger
}

func registerRoutes(api *gin.RouterGroup, d routeDeps) {
	api.Use(middleware.JWT(d.auth))

	admin := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleProfessor)
	audit := func(action, resource string) gin.HandlerFunc { return middleware.Audit(d.logger, action, resource) }

	courses := api.Group("/courses")
	courses.GET("", staff, d.courses.List)
	courses.POST("", admin, audit("create", "course"), d.courses.Create)
	courses.GET("/:id", staff, d.courses.Get)
	courses.PUT("/:id", admin, audit("update", "course"), d.courses.Update)
	courses.DELETE("/:id", admin, audit("delete", "course"), d.courses.Delete)
	courses.GET("/:id/enrollments", staff, d.enrollments.ListByCourse)
	courses.GET("/:id/evaluation", staff, d.evaluations.CourseEvaluation)
	courses.GET("/:id/evaluation/export", staff, d.evaluations.Export)
	courses.GET("/:id/attendance", staff, d.attendance.CourseByDate)
	courses.POST("/:id/attendance", staff, audit("record_batch", "attendance"), d.attendance.RecordBatch)

	enrollments := api.Group("/enrollments")
	enrollments.GET("", staff, d.enrollments.List)
	enrollments.POST("", admin, audit("create", "enrollment"), d.enrollments.Create)
	enrollments.GET("/:id", staff, d.enrollments.Get)
	enrollments.PUT("/:id", admin, audit("update", "enrollment"), d.enrollments.Update)
	enrollments.DELETE("/:id", admin, audit("delete", "enrollment"), d.enrollments.Delete)
	enrollments.PATCH("/:id/grades", staff, audit("update_grades", "enrollment"), d.enrollments.UpdateGrades)
	enrollments.POST("/:id/recompute", staff, d.enrollments.Recompute)
	enrollments.GET("/:id/attendance", staff, d.attendance.History)
	enrollments.POST("/:id/attendance", staff, audit("record", "attendance"), d.attendance.Record)
	enrollments.GET("/:id/attendance/summary", staff, d.attendance.Summary)

	api.GET("/students/:id/enrollments", middleware.RBAC(string(models.RoleAdmin), string(models.RoleProfessor), middleware.Self), d.evaluations.StudentEnrollments)
	api.GET("/metrics/summary", admin, d.metrics.Summary)
}
