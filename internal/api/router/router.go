package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/solverify/verify-service/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "verify-api-service",
		})
	})

	verifyHandler := handler.NewVerifyHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/verify - Submit a build for verification
		v1.POST("/verify", verifyHandler.Verify)

		// GET /api/v1/status/:program_id - Latest verdict for a program
		v1.GET("/status/:program_id", verifyHandler.GetProgramStatus)

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List verification jobs
			jobs.GET("", verifyHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", verifyHandler.GetJob)
		}
	}

	return r
}
