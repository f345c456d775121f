package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/titlesync/backend/internal/config"
	"github.com/titlesync/backend/internal/controllers"
	"github.com/titlesync/backend/internal/middleware"
	"github.com/titlesync/backend/internal/services"
)

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, cfg *config.Config, jobService *services.JobService, gatherer prometheus.Gatherer) {
	// Initialize controllers
	jobController := controllers.NewJobController(jobService, cfg.UploadDir, cfg.MaxUploadMB)
	streamController := controllers.NewStreamController(jobService.Events(), cfg.CORSOrigin)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API routes
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	{
		jobs := api.Group("/jobs")
		{
			jobs.POST("", jobController.CreateJob)
			jobs.GET("", jobController.GetJobs)
			jobs.GET("/:id", jobController.GetJob)
			jobs.POST("/:id/start", jobController.StartJob)
			jobs.POST("/:id/cancel", jobController.CancelJob)
			jobs.POST("/:id/resume", jobController.ResumeJob)
			jobs.DELETE("/:id", jobController.DeleteJob)
			jobs.GET("/:id/export", jobController.ExportJob)
			jobs.GET("/:id/failures", jobController.GetFailures)
		}

		api.GET("/stream", streamController.Stream)
	}
}
