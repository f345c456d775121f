package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/titlesync/backend/internal/config"
	"github.com/titlesync/backend/internal/db"
	"github.com/titlesync/backend/internal/logger"
	"github.com/titlesync/backend/internal/middleware"
	"github.com/titlesync/backend/internal/routes"
	"github.com/titlesync/backend/internal/services"
	"gorm.io/gorm"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	// Connect to database
	conn, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	if err := db.AutoMigrate(conn); err != nil {
		logger.Fatal("Failed to migrate database", map[string]interface{}{"error": err.Error()})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	var runLock services.RunLock
	var redisLock *services.RedisRunLock
	if cfg.RedisURL != "" {
		redisLock, err = services.NewRedisRunLock(context.Background(), cfg.RedisURL, cfg.RunLockTTL)
		if err != nil {
			logger.Fatal("Failed to connect to redis", map[string]interface{}{"error": err.Error()})
		}
		runLock = redisLock
		logger.Info("Distributed run lock enabled", nil)
	}
	runRegistry := services.NewRunRegistry(runLock)

	jobService := services.NewJobService(services.JobServiceDeps{
		Store: services.NewJobStore(conn),
		Localizer: services.NewTranslationProvider(services.ProviderOptions{
			BaseURL:        cfg.OpenAIBaseURL,
			APIKey:         cfg.OpenAIKey,
			Model:          cfg.OpenAIModel,
			MaxTokens:      cfg.MaxTokens,
			RequestTimeout: cfg.RequestTimeout,
			RetryAttempts:  cfg.RetryAttempts,
			RetryPause:     cfg.RetryPause,
		}, metrics),
		Publisher:   services.NewWordPressPublisher(cfg.WordPressCollections, cfg.WordPressTimeout),
		Registry:    runRegistry,
		Events:      services.NewBroadcaster(64),
		Metrics:     metrics,
		SegmentSize: cfg.SegmentSize,
	})

	resumed, skipped, err := jobService.ResumeInterrupted(context.Background())
	if err != nil {
		logger.Error("Failed to resume interrupted jobs", map[string]interface{}{"error": err.Error()})
	} else if resumed > 0 || skipped > 0 {
		logger.Info("Resumed interrupted jobs", map[string]interface{}{"count": resumed, "skipped": skipped})
	}
	if redisLock != nil {
		// locks of a crashed process expire after one TTL
		go jobService.WatchInterrupted(context.Background(), cfg.RunLockTTL)
	}

	// Setup graceful shutdown
	stopChan := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		logger.Warn("Received shutdown signal, stopping running jobs...", nil)
		close(stopChan)
	}()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router without default middleware
	r := gin.New()

	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.Use(middleware.CustomLoggerMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.CORSOrigin))
	r.Use(gin.Recovery())

	r.GET("/health", healthHandler(db.GetDB(), runRegistry))

	routes.SetupRoutes(r, cfg, jobService, registry)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	logger.Info("Starting TitleSync backend server", map[string]interface{}{
		"port":     cfg.Port,
		"gin_mode": gin.Mode(),
		"db":       cfg.DBDriver,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	<-stopChan
	logger.Info("Shutting down server gracefully...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// running jobs keep their status and are resumed on the next start
	if err := jobService.Shutdown(ctx); err != nil {
		logger.Error("Job runs did not stop in time", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if redisLock != nil {
		if err := redisLock.Close(); err != nil {
			logger.Warn("Failed to close redis client", map[string]interface{}{"error": err.Error()})
		}
	}
	if sqlDB, err := conn.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Server exited gracefully", nil)
}

func healthHandler(conn *gorm.DB, runs *services.RunRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "ok"
		var dbError string

		sqlDB, err := conn.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			dbStatus = "error"
			dbError = err.Error()
		}

		overallStatus := "ok"
		statusCode := http.StatusOK
		if dbStatus != "ok" {
			overallStatus = "error"
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    overallStatus,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   version,
			"services": gin.H{
				"database": gin.H{
					"status": dbStatus,
					"error":  dbError,
				},
				"jobs": gin.H{
					"running": runs.Count(),
				},
			},
		})
	}
}
