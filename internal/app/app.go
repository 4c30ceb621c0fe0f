// Package app assembles the pipeline from a loaded configuration. It is
// shared by the worker and the docctl command.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feichai0017/medical-document-processor/config"
	"github.com/feichai0017/medical-document-processor/internal/agent"
	"github.com/feichai0017/medical-document-processor/internal/agent/document/image"
	"github.com/feichai0017/medical-document-processor/internal/agent/document/pdf"
	"github.com/feichai0017/medical-document-processor/internal/agent/extract"
	"github.com/feichai0017/medical-document-processor/internal/agent/htr"
	"github.com/feichai0017/medical-document-processor/internal/agent/ocr"
	"github.com/feichai0017/medical-document-processor/internal/repository"
	"github.com/feichai0017/medical-document-processor/internal/service/document"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
	"github.com/feichai0017/medical-document-processor/pkg/queue"
	"github.com/feichai0017/medical-document-processor/pkg/storage"
)

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, service string) (logger.Logger, error) {
	return logger.NewLogger(
		logger.WithLevel(cfg.Level),
		logger.WithEncoding(cfg.Encoding),
		logger.WithOutputPaths(cfg.OutputPaths),
		logger.WithInitialFields(map[string]interface{}{"service": service}),
	)
}

// ServiceConfig maps the pipeline and worker sections onto the orchestrator.
func ServiceConfig(cfg *config.Config) *document.ServiceConfig {
	return &document.ServiceConfig{
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		PageConcurrency:     cfg.Pipeline.PageConcurrency,
		DocumentTimeout:     cfg.Pipeline.DocumentTimeout,
		RetryContentErrors:  cfg.Pipeline.RetryContentErrors,
		ModelVersion:        cfg.Pipeline.ModelVersion,
		MaxRetries:          cfg.Worker.MaxRetries,
		RetryBackoff:        cfg.Worker.RetryBackoff(),
	}
}

// QueueConfig maps the redis and worker sections onto the queue client.
func QueueConfig(cfg *config.Config) queue.QueueConfig {
	return queue.QueueConfig{
		RedisAddr:      cfg.Redis.Addr,
		RedisPassword:  cfg.Redis.Password,
		RedisDB:        cfg.Redis.DB,
		Queue:          cfg.Worker.Queue,
		MaxRetries:     cfg.Worker.MaxRetries,
		ProcessTimeout: TaskTimeout(cfg.Pipeline.DocumentTimeout),
		StatusTTL:      cfg.Redis.StatusTTL,
	}
}

// TaskTimeout is the queue deadline for one attempt. It outlasts the
// document timeout so the orchestrator's own deadline fires first and the
// attempt is recorded as a timeout with its status writes completed.
func TaskTimeout(documentTimeout time.Duration) time.Duration {
	return documentTimeout + max(documentTimeout/10, time.Minute)
}

// NewExtractor uses the catalog file when one is configured.
func NewExtractor(cfg config.ExtractionConfig, log logger.Logger) (*extract.Extractor, error) {
	catalog := extract.DefaultCatalog()
	if cfg.CatalogPath != "" {
		c, err := extract.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = c
		log.Info("Loaded field catalog",
			logger.String("path", cfg.CatalogPath),
			logger.Int("fields", len(catalog)))
	}
	return extract.NewExtractor(catalog, log), nil
}

// NewPreprocessor maps the pipeline options onto the image preprocessor.
func NewPreprocessor(p config.PipelineConfig, log logger.Logger) *image.Preprocessor {
	opts := image.DefaultPreprocessOptions()
	opts.DenoiseSigma = p.DenoiseSigma
	opts.Deskew = p.DeskewEnabled
	return image.NewPreprocessor(log, opts)
}

// Pipeline is an orchestrator with the engines it owns.
type Pipeline struct {
	Service *document.DocumentService
	closers []func() error
}

// Close releases the recognition engines.
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewPipeline wires the orchestrator around the given storage and gateway.
func NewPipeline(ctx context.Context, cfg *config.Config, store storage.Fetcher, gateway repository.Gateway, log logger.Logger) (*Pipeline, error) {
	printed, closePrinted, err := ocr.NewPrintedEngine(ctx, cfg.Pipeline, cfg.Textract, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create ocr engine: %w", err)
	}

	extractor, err := NewExtractor(cfg.Extraction, log)
	if err != nil {
		closePrinted()
		return nil, err
	}

	handwriting := htr.NewEngine(cfg.HTR, log)
	factory := agent.NewProcessorFactory(log,
		pdf.NewRasterizer(log, cfg.Pipeline.RasterDPI),
		image.NewSource(),
	)

	svc := document.NewService(document.Dependencies{
		Factory:      factory,
		Storage:      store,
		Gateway:      gateway,
		Preprocessor: NewPreprocessor(cfg.Pipeline, log),
		Recognizer:   ocr.NewRecognizer(printed, handwriting, log),
		Extractor:    extractor,
	}, log, ServiceConfig(cfg))

	return &Pipeline{Service: svc, closers: []func() error{closePrinted, handwriting.Close}}, nil
}
