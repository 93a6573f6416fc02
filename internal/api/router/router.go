package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/glowdesk/referral-pipeline/internal/api/handler"
	"github.com/glowdesk/referral-pipeline/internal/telemetry"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint, probes every backing service
	r.GET("/health", func(c *gin.Context) {
		ctx := c.Request.Context()

		checks := gin.H{}
		healthy := true
		for _, probe := range deps.Health {
			if err := probe.Check(ctx); err != nil {
				checks[probe.Name] = err.Error()
				healthy = false
			} else {
				checks[probe.Name] = "ok"
			}
		}

		status := http.StatusOK
		state := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status": state,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	runHandler := handler.NewRunHandler(deps)

	// Webhook ingestion boundary
	r.POST("/webhooks/platform", runHandler.ReceiveWebhook)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		runs := v1.Group("/runs")
		{
			// POST /api/v1/runs - Start a run manually
			runs.POST("", runHandler.CreateRun)

			// GET /api/v1/runs - List runs with filtering and pagination
			runs.GET("", runHandler.ListRuns)

			// GET /api/v1/runs/:correlation_id - Run details with stage jobs
			runs.GET("/:correlation_id", runHandler.GetRun)
		}

		// POST /api/v1/jobs/:job_id/reset - Return a job to the queue
		v1.POST("/jobs/:job_id/reset", runHandler.ResetJob)

		// GET /api/v1/stats - Run/job status counts and dead-letter backlog
		v1.GET("/stats", runHandler.GetStats)

		// POST /api/v1/dead-letters/replay - Drain parked analytics events
		v1.POST("/dead-letters/replay", runHandler.ReplayDeadLetters)
	}

	return r
}
