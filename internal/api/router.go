package api

import (
	"github.com/gin-gonic/gin"
	"github.com/smartexam/paperingest/internal/api/handler"
	"github.com/smartexam/paperingest/internal/api/middleware"
	"github.com/smartexam/paperingest/internal/logger"
	"github.com/smartexam/paperingest/internal/service"
	"gorm.io/gorm"
)

// RouterConfig carries router-level settings.
type RouterConfig struct {
	Mode string
	CORS middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	db *gorm.DB,
	ingestService *service.IngestService,
	reviewService *service.ReviewService,
	queryService *service.QueryService,
	log *logger.Logger,
	cfg RouterConfig,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(db)
	sessionHandler := handler.NewSessionHandler(ingestService, queryService)
	reviewHandler := handler.NewReviewHandler(reviewService)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Sessions
		v1.POST("/sessions", sessionHandler.CreateSession)
		v1.GET("/sessions", sessionHandler.ListSessions)
		v1.GET("/sessions/:id", sessionHandler.GetSession)
		v1.GET("/sessions/:id/items", sessionHandler.ListItems)
		v1.GET("/sessions/:id/stats", sessionHandler.GetStats)
		v1.POST("/sessions/:id/complete", sessionHandler.CompleteSession)

		// Items
		v1.POST("/items/:id/edit", reviewHandler.EditItem)
		v1.POST("/items/:id/approve", reviewHandler.ApproveItem)
		v1.POST("/items/:id/reject", reviewHandler.RejectItem)
		v1.POST("/items/batch-approve", reviewHandler.BatchApprove)
		v1.POST("/items/batch-reject", reviewHandler.BatchReject)
	}

	return r
}
