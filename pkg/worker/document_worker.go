package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/internal/service/document"
	"github.com/feichai0017/medical-document-processor/internal/utils/validator"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
	"github.com/feichai0017/medical-document-processor/pkg/queue"
)

// StatusRecorder keeps the short-lived task status read by the API.
type StatusRecorder interface {
	SaveFinalStatus(ctx context.Context, status *queue.TaskStatus) error
}

type DocumentWorker struct {
	BaseWorker
	docService document.DocumentProcessor
	status     StatusRecorder
}

func NewDocumentWorker(cfg *Config, docService document.DocumentProcessor, status StatusRecorder, log logger.Logger) *DocumentWorker {
	log = log.Named("document_worker")
	w := &DocumentWorker{
		BaseWorker: BaseWorker{
			server: newServer(cfg, log),
			mux:    asynq.NewServeMux(),
			logger: log,
		},
		docService: docService,
		status:     status,
	}

	w.mux.HandleFunc(queue.TaskTypeDocumentProcess, w.handleDocumentProcess)
	return w
}

// handleDocumentProcess runs one attempt. Errors the processor will not
// retry are wrapped with asynq.SkipRetry so the task is archived at once.
func (w *DocumentWorker) handleDocumentProcess(ctx context.Context, t *asynq.Task) error {
	item, err := queue.DecodeWorkItem(t.Payload())
	if err != nil {
		w.logger.Error("Dropping malformed task", logger.Error(err), logger.String("payload", string(t.Payload())))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := validator.ValidateWorkItem(item); err != nil {
		w.logger.Error("Dropping invalid work item",
			logger.String("document_id", item.DocumentID),
			logger.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	attempt := retried + 1
	started := time.Now()

	w.saveStatus(ctx, &queue.TaskStatus{
		DocumentID: item.DocumentID,
		Status:     string(models.StatusProcessing),
		Attempt:    attempt,
		StartedAt:  started,
	})

	result, err := w.docService.HandleDocument(ctx, item.Descriptor(), attempt)
	if err != nil {
		w.saveStatus(context.WithoutCancel(ctx), &queue.TaskStatus{
			DocumentID: item.DocumentID,
			Status:     string(models.StatusFailed),
			Attempt:    attempt,
			Error:      err.Error(),
			StartedAt:  started,
			FinishedAt: time.Now(),
		})
		if !w.docService.ShouldRetry(err) {
			w.logger.Warn("Document failed permanently",
				logger.String("document_id", item.DocumentID),
				logger.Int("attempt", attempt),
				logger.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	w.saveStatus(ctx, &queue.TaskStatus{
		DocumentID: item.DocumentID,
		Status:     string(result.Status),
		Attempt:    attempt,
		Pages:      result.Pages,
		Fields:     len(result.Fields),
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	return nil
}

func (w *DocumentWorker) saveStatus(ctx context.Context, status *queue.TaskStatus) {
	if w.status == nil {
		return
	}
	if err := w.status.SaveFinalStatus(ctx, status); err != nil {
		w.logger.Warn("Failed to save task status",
			logger.String("document_id", status.DocumentID),
			logger.Error(err))
	}
}

func (w *DocumentWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}
