package document

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/medical-document-processor/internal/agent"
	"github.com/feichai0017/medical-document-processor/internal/agent/document/pdf"
	"github.com/feichai0017/medical-document-processor/internal/agent/extract"
	"github.com/feichai0017/medical-document-processor/internal/metrics"
	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/internal/repository"
	"github.com/feichai0017/medical-document-processor/internal/utils/validator"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
	"github.com/feichai0017/medical-document-processor/pkg/storage"
)

// Preprocessor prepares a page for recognition.
type Preprocessor interface {
	Process(img image.Image) (*image.Gray, error)
}

// Recognizer reads the text of a page. It never fails.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) models.RecognitionResult
}

type ServiceConfig struct {
	ConfidenceThreshold float64
	PageConcurrency     int
	DocumentTimeout     time.Duration
	RetryContentErrors  bool
	ModelVersion        string
	MaxRetries          int
	RetryBackoff        time.Duration
}

func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		ConfidenceThreshold: 0.8,
		PageConcurrency:     1,
		DocumentTimeout:     30 * time.Minute,
		RetryContentErrors:  true,
		ModelVersion:        "1.0.0",
		MaxRetries:          3,
		RetryBackoff:        time.Minute,
	}
}

type DocumentService struct {
	processorFactory *agent.ProcessorFactory
	storage          storage.Fetcher
	gateway          repository.Gateway
	preprocessor     Preprocessor
	recognizer       Recognizer
	extractor        *extract.Extractor
	logger           logger.Logger
	config           *ServiceConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Dependencies groups the collaborators of the service.
type Dependencies struct {
	Factory      *agent.ProcessorFactory
	Storage      storage.Fetcher
	Gateway      repository.Gateway
	Preprocessor Preprocessor
	Recognizer   Recognizer
	Extractor    *extract.Extractor
}

func NewService(deps Dependencies, log logger.Logger, cfg *ServiceConfig) *DocumentService {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if cfg.PageConcurrency < 1 {
		cfg.PageConcurrency = 1
	}

	return &DocumentService{
		processorFactory: deps.Factory,
		storage:          deps.Storage,
		gateway:          deps.Gateway,
		preprocessor:     deps.Preprocessor,
		recognizer:       deps.Recognizer,
		extractor:        deps.Extractor,
		logger:           log.Named("document_service"),
		config:           cfg,
		now:              time.Now,
		sleep:            sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ShouldRetry reports whether another attempt may succeed. Content errors
// are retried unless RetryContentErrors is off.
func (s *DocumentService) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return s.config.RetryContentErrors || !IsPermanent(err)
}

// HandleDocument runs one attempt of the state machine:
// RECEIVED -> PROCESSING -> DONE or FAILED.
func (s *DocumentService) HandleDocument(ctx context.Context, d models.DocumentDescriptor, attempt int) (*Result, error) {
	log := s.logger.With(
		logger.String("document_id", d.DocumentID),
		logger.String("tenant", d.Tenant),
		logger.Int("attempt", attempt),
	)
	metrics.Attempts.Inc()

	if err := s.ensureRecord(ctx, d, log); err != nil {
		return nil, err
	}
	if err := s.gateway.UpdateStatus(ctx, d.DocumentID, models.StatusUpdate{
		Status: models.StatusProcessing,
	}); err != nil {
		return nil, transient(StageRecord, fmt.Errorf("failed to mark processing: %w", err))
	}
	log.Info("Processing document", logger.String("object_key", d.StorageKey))

	start := s.now()
	runCtx, cancel := context.WithTimeout(ctx, s.config.DocumentTimeout)
	pages, fields, err := s.process(runCtx, d, log)
	cancel()
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = transient(StageTimeout, fmt.Errorf("document exceeded %s", s.config.DocumentTimeout))
	}
	elapsed := s.now().Sub(start)

	if err != nil {
		s.fail(context.WithoutCancel(ctx), d, err, log)
		return nil, err
	}

	seconds := elapsed.Seconds()
	version := s.config.ModelVersion
	if err := s.gateway.UpdateStatus(ctx, d.DocumentID, models.StatusUpdate{
		Status:                models.StatusDone,
		Pages:                 &pages,
		ProcessingTimeSeconds: &seconds,
		ModelVersion:          &version,
	}); err != nil {
		perr := transient(StagePersist, fmt.Errorf("failed to mark done: %w", err))
		s.fail(context.WithoutCancel(ctx), d, perr, log)
		return nil, perr
	}

	metrics.Documents.WithLabelValues(string(models.StatusDone)).Inc()
	log.Info("Document processed",
		logger.Int("pages", pages),
		logger.Int("fields", len(fields)),
		logger.Duration("elapsed", elapsed),
	)

	return &Result{
		DocumentID: d.DocumentID,
		Status:     models.StatusDone,
		Pages:      pages,
		Fields:     fields,
		Duration:   elapsed,
		Attempts:   attempt,
	}, nil
}

func (s *DocumentService) ensureRecord(ctx context.Context, d models.DocumentDescriptor, log logger.Logger) error {
	exists, err := s.gateway.DocumentExists(ctx, d.DocumentID)
	if err != nil {
		return transient(StageRecord, err)
	}
	if exists {
		return nil
	}

	res, err := s.gateway.CreateDocument(ctx, d)
	if err != nil {
		return transient(StageRecord, err)
	}
	log.Debug("Document record ensured", logger.String("result", res.String()))
	return nil
}

func (s *DocumentService) fail(ctx context.Context, d models.DocumentDescriptor, cause error, log logger.Logger) {
	metrics.Documents.WithLabelValues(string(models.StatusFailed)).Inc()
	log.Error("Document processing failed",
		logger.Error(cause),
		logger.Bool("permanent", IsPermanent(cause)),
	)

	msg := cause.Error()
	if err := s.gateway.UpdateStatus(ctx, d.DocumentID, models.StatusUpdate{
		Status:       models.StatusFailed,
		ErrorMessage: &msg,
	}); err != nil {
		log.Error("Failed to record failure", logger.Error(err))
	}
}

func (s *DocumentService) process(ctx context.Context, d models.DocumentDescriptor, log logger.Logger) (int, []models.ExtractedField, error) {
	kind, err := s.processorFactory.DetectKind(d.StorageKey, d.ContentType)
	if err != nil {
		return 0, nil, permanent(StageDetect, err)
	}
	source, err := s.processorFactory.GetSource(kind)
	if err != nil {
		return 0, nil, permanent(StageDetect, err)
	}

	stageStart := s.now()
	data, err := s.storage.Fetch(ctx, d.StorageKey)
	if err != nil {
		return 0, nil, transient(StageFetch, err)
	}
	if len(data) == 0 {
		return 0, nil, transient(StageFetch, validator.ErrEmptyContent)
	}
	metrics.ObserveStage(string(StageFetch), stageStart)

	if err := validator.ValidateSignature(kind, data); err != nil {
		return 0, nil, permanent(StageValidate, err)
	}
	if actual, ok := validator.VerifyHash(data, d.ContentHash); !ok {
		log.Warn("Content hash mismatch",
			logger.String("expected", d.ContentHash),
			logger.String("actual", actual),
		)
	}

	inspected := 0
	if kind == models.PDF {
		if info, err := pdf.Inspect(data); err != nil {
			log.Warn("PDF inspection failed", logger.Error(err))
		} else {
			inspected = info.Pages
			log.Info("PDF inspected",
				logger.Int("pages", info.Pages),
				logger.String("title", info.Title),
				logger.String("author", info.Author),
			)
		}
	}

	stageStart = s.now()
	pages, err := source.Pages(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, transient(StageRasterize, err)
		}
		return 0, nil, permanent(StageRasterize, err)
	}
	if len(pages) == 0 {
		return 0, nil, permanent(StageRasterize, errors.New("document has no pages"))
	}
	metrics.ObserveStage(string(StageRasterize), stageStart)
	if inspected > 0 && inspected != len(pages) {
		log.Warn("Page count mismatch",
			logger.Int("inspected", inspected),
			logger.Int("rasterized", len(pages)),
		)
	}

	stageStart = s.now()
	perPage, err := s.recognizePages(ctx, pages)
	if err != nil {
		return 0, nil, err
	}
	metrics.ObserveStage(string(StageRecognize), stageStart)

	var fields []models.ExtractedField
	for _, pf := range perPage {
		fields = append(fields, pf...)
	}
	s.observeFields(fields, log)

	stageStart = s.now()
	if err := s.gateway.SaveFields(ctx, d.DocumentID, fields); err != nil {
		return 0, nil, transient(StagePersist, err)
	}
	metrics.ObserveStage(string(StagePersist), stageStart)

	return len(pages), fields, nil
}

// recognizePages runs preprocess, recognize and extract for every page.
// Results keep page order whatever the concurrency.
func (s *DocumentService) recognizePages(ctx context.Context, pages []image.Image) ([][]models.ExtractedField, error) {
	out := make([][]models.ExtractedField, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.PageConcurrency)
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return transient(StageRecognize, err)
			}
			gray, err := s.preprocessor.Process(page)
			if err != nil {
				return transient(StagePreprocess, fmt.Errorf("page %d: %w", i+1, err))
			}
			result := s.recognizer.Recognize(gctx, gray)
			out[i] = s.extractor.ExtractPage(result, i+1)
			metrics.Pages.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DocumentService) observeFields(fields []models.ExtractedField, log logger.Logger) {
	for _, f := range fields {
		metrics.Fields.WithLabelValues(f.Name).Inc()
		if f.Confidence != nil && *f.Confidence < s.config.ConfidenceThreshold {
			metrics.LowConfidenceFields.WithLabelValues(f.Name).Inc()
			log.Warn("Low confidence field",
				logger.String("field", f.Name),
				logger.Float64("confidence", *f.Confidence),
				logger.Float64("threshold", s.config.ConfidenceThreshold),
			)
		}
	}
}

// ProcessWithRetry drives attempts with a fixed backoff. It makes at most
// MaxRetries+1 attempts.
func (s *DocumentService) ProcessWithRetry(ctx context.Context, d models.DocumentDescriptor) (*Result, error) {
	for attempt := 1; ; attempt++ {
		res, err := s.HandleDocument(ctx, d, attempt)
		if err == nil {
			return res, nil
		}
		if attempt > s.config.MaxRetries || !s.ShouldRetry(err) {
			return nil, fmt.Errorf("document %s failed after %d attempts: %w", d.DocumentID, attempt, err)
		}

		s.logger.Warn("Retrying document",
			logger.String("document_id", d.DocumentID),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", s.config.RetryBackoff),
			logger.Error(err),
		)
		if err := s.sleep(ctx, s.config.RetryBackoff); err != nil {
			return nil, err
		}
	}
}
