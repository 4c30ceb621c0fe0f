package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/internal/repository"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
	"github.com/feichai0017/medical-document-processor/pkg/queue"
)

// StatusReader looks up the cached queue status of a document.
type StatusReader interface {
	GetTaskStatus(ctx context.Context, documentID string) (*queue.TaskStatus, error)
}

type DocumentHandler struct {
	gateway repository.Gateway
	status  StatusReader
	logger  logger.Logger
}

type DocumentResponse struct {
	Document *models.DocumentRecord  `json:"document"`
	Fields   []models.ExtractedField `json:"fields"`
	Task     *queue.TaskStatus       `json:"task,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

func NewDocumentHandler(gateway repository.Gateway, status StatusReader, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		gateway: gateway,
		status:  status,
		logger:  log,
	}
}

// GetDocument returns the persisted record, its fields and, when cached,
// the queue status of the latest attempt.
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		h.handleError(c, http.StatusBadRequest, "Document ID must be a UUID", err)
		return
	}

	ctx := c.Request.Context()
	doc, err := h.gateway.GetDocument(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		h.handleError(c, http.StatusNotFound, "Document not found", nil)
		return
	}
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to get document", err)
		return
	}

	fields, err := h.gateway.ListFields(ctx, id)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to list fields", err)
		return
	}
	if fields == nil {
		fields = []models.ExtractedField{}
	}

	resp := DocumentResponse{Document: doc, Fields: fields}
	if h.status != nil {
		task, err := h.status.GetTaskStatus(ctx, id)
		if err != nil {
			h.logger.Debug("No queue status for document",
				logger.String("document_id", id),
				logger.Error(err))
		} else {
			resp.Task = task
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *DocumentHandler) handleError(c *gin.Context, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(message,
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
	}

	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.JSON(status, response)
}
