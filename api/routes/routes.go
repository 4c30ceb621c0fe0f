package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/medical-document-processor/api/handlers"
	"github.com/feichai0017/medical-document-processor/api/middleware"
	"github.com/feichai0017/medical-document-processor/internal/metrics"
)

// SetupRoutes registers the ops and status routes.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowOrigins []string) {
	r.GET("/healthz", h.Health.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.CORS(allowOrigins))

	docs := v1.Group("/documents")
	{
		docs.GET("/:id", h.Document.GetDocument)
	}
}
