package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/medical-document-processor/internal/repository"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type Handlers struct {
	Document *DocumentHandler
	Health   *HealthHandler
}

func NewHandlers(
	gateway repository.Gateway,
	status StatusReader,
	checks map[string]Check,
	log logger.Logger,
) *Handlers {
	log = log.Named("api")
	return &Handlers{
		Document: NewDocumentHandler(gateway, status, log),
		Health:   &HealthHandler{checks: checks, logger: log},
	}
}

type HealthHandler struct {
	checks map[string]Check
	logger logger.Logger
}

// Healthz runs every dependency check with a short deadline. Any failure
// turns the response into 503.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	code := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Health check failed", logger.String("check", name), logger.Error(err))
			results[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	status := "ok"
	if code != http.StatusOK {
		status = "degraded"
	}
	c.JSON(code, gin.H{"status": status, "checks": results})
}
