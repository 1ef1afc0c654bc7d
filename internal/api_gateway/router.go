package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aidchain-escrow-ledger/internal/api_gateway/handler"
	"github.com/aidchain-escrow-ledger/internal/api_gateway/middleware"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	projectHandler *handler.ProjectHandler,
	escrowHandler *handler.EscrowHandler,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Project operations
		projects := v1.Group("/projects")
		{
			projects.POST("", projectHandler.Create)
			projects.GET("", projectHandler.List)
			projects.GET("/:id", projectHandler.GetByID)
			projects.GET("/:id/history", projectHandler.GetHistory)
			projects.POST("/:id/cancel", escrowHandler.Cancel)

			// Milestone lifecycle; release is the only money-moving step
			projects.POST("/:id/milestones/:milestone_id/start", projectHandler.StartMilestone)
			projects.POST("/:id/milestones/:milestone_id/complete", projectHandler.CompleteMilestone)
			projects.POST("/:id/milestones/:milestone_id/release", escrowHandler.Release)
		}

		// Donation intake
		v1.POST("/donations", escrowHandler.Donate)

		// Escrow request status lookup
		v1.GET("/escrow/requests/:idempotency_key", escrowHandler.GetRequestStatus)
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
