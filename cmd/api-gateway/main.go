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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/timetable-api/api/swagger"
	"github.com/noah-isme/timetable-api/internal/handler"
	internalmiddleware "github.com/noah-isme/timetable-api/internal/middleware"
	"github.com/noah-isme/timetable-api/internal/repository"
	"github.com/noah-isme/timetable-api/internal/scheduler"
	"github.com/noah-isme/timetable-api/internal/service"
	"github.com/noah-isme/timetable-api/pkg/cache"
	"github.com/noah-isme/timetable-api/pkg/config"
	"github.com/noah-isme/timetable-api/pkg/database"
	"github.com/noah-isme/timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/timetable-api/pkg/middleware/requestid"
	"github.com/noah-isme/timetable-api/pkg/storage"
)

// @title Timetable API
// @version 1.0.0
// @description Weekly course timetable generation, versioning and export
// @BasePath /api/v1
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	opts, err := scheduler.OptionsFromConfig(cfg.Scheduler)
	if err != nil {
		logr.Fatal("invalid scheduler config", zap.Error(err))
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck
	if err := database.EnsureSchema(ctx, db); err != nil {
		logr.Fatal("failed to prepare schema", zap.Error(err))
	}

	metrics := service.NewMetricsService()

	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	var cacheRepo service.CacheRepository
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, result cache disabled", zap.Error(err))
	} else {
		repo := repository.NewCacheRepository(redisClient, logr)
		defer repo.Close() //nolint:errcheck
		cacheRepo = repo
		readiness["redis"] = repo.Ping
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Scheduler.ResultTTL, logr, cacheRepo != nil)

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	validate := validator.New()
	timetableSvc := service.NewTimetableService(
		repository.NewTimetableVersionRepository(db),
		repository.NewTimetableEntryRepository(db),
		db,
		cacheSvc,
		metrics,
		validate,
		logr.Named("timetable"),
		service.TimetableConfig{
			Options:       opts,
			Engine:        cfg.Scheduler.Engine,
			MaxTimeBudget: cfg.Scheduler.MaxTimeBudget,
			RunTTL:        cfg.Scheduler.ResultTTL,
		},
	)
	jobSvc := service.NewTimetableJobService(timetableSvc, metrics, logr.Named("jobs"), service.TimetableJobConfig{
		Workers:    cfg.Scheduler.Workers,
		MaxRetries: cfg.Scheduler.JobRetries,
		RetryDelay: 2 * time.Second,
		StatusTTL:  cfg.Scheduler.ResultTTL,
	})
	exportSvc := service.NewExportService(timetableSvc, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		FileTTL:   cfg.Exports.SignedURLTTL,
	}, logr.Named("exports"), nil, nil)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
	})

	jobSvc.Start(ctx)
	defer jobSvc.Stop()
	go cleanupExports(ctx, exportSvc, cfg.Exports.SignedURLTTL, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, "/metrics", "/health", "/ready"))
	r.Use(internalmiddleware.ResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metrics, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	public := api.Group("/timetables")
	protected := api.Group("/timetables", internalmiddleware.JWT(authSvc), internalmiddleware.Audit(logr, "timetable.request", "timetable"))
	handler.RegisterTimetableRoutes(protected, public, handler.NewTimetableHandler(timetableSvc, jobSvc, exportSvc, cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "engine", cfg.Scheduler.Engine)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func cleanupExports(ctx context.Context, exports *service.ExportService, ttl time.Duration, logr *zap.Logger) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := exports.Cleanup(); err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
			}
		}
	}
}
