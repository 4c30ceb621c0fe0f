// Package htr recognizes handwritten text with an encoder/decoder model
// decoded by beam search.
//
// The engine never returns an error. When it is disabled, when its model
// artifacts are missing, or when inference fails, it yields an empty result
// and counts the reason in metrics.HTRDegraded.
package htr

import (
	"context"
	"errors"
	"image"
	"strings"

	"github.com/feichai0017/medical-document-processor/config"
	"github.com/feichai0017/medical-document-processor/internal/metrics"
	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// Engine is safe for concurrent use. The model behind it is loaded on first
// use and shared by all callers.
type Engine struct {
	enabled   bool
	artifacts Artifacts
	size      int
	search    BeamSearch
	handle    *ModelHandle
	logger    logger.Logger
}

func artifactsFrom(cfg config.HTRConfig) Artifacts {
	return Artifacts{
		Encoder:        cfg.EncoderPath,
		Decoder:        cfg.DecoderPath,
		Tokenizer:      cfg.TokenizerPath,
		RuntimeLibrary: cfg.RuntimeLibrary,
	}
}

// NewEngine builds an engine backed by ONNX Runtime.
func NewEngine(cfg config.HTRConfig, log logger.Logger) *Engine {
	a := artifactsFrom(cfg)
	return NewEngineWithModel(cfg, NewModelHandle(func() (SequenceModel, error) {
		return LoadONNX(a)
	}), log)
}

// NewEngineWithModel builds an engine around an existing model handle.
func NewEngineWithModel(cfg config.HTRConfig, handle *ModelHandle, log logger.Logger) *Engine {
	size := cfg.ImageSize
	if size <= 0 {
		size = 384
	}
	return &Engine{
		enabled:   cfg.Enabled,
		artifacts: artifactsFrom(cfg),
		size:      size,
		search: BeamSearch{
			Width:     cfg.BeamSize,
			MaxLength: cfg.MaxLength,
			BOS:       cfg.BOSTokenID,
			EOS:       cfg.EOSTokenID,
		},
		handle: handle,
		logger: log.Named("htr"),
	}
}

func (e *Engine) Recognize(ctx context.Context, img image.Image) (result models.RecognitionResult) {
	if !e.enabled {
		return models.RecognitionResult{}
	}
	if missing := e.artifacts.Missing(); len(missing) > 0 {
		e.degrade("missing_artifacts", ErrArtifactsMissing, logger.Strings("missing", missing))
		return models.RecognitionResult{}
	}

	defer func() {
		if rec := recover(); rec != nil {
			e.degrade("panic", errors.New("handwriting recognition panicked"), logger.Any("panic", rec))
			result = models.RecognitionResult{}
		}
	}()

	model, err := e.handle.Get()
	if err != nil {
		e.degrade("load", err)
		return models.RecognitionResult{}
	}

	text, conf, err := e.run(ctx, model, img)
	if err != nil {
		e.degrade("inference", err)
		return models.RecognitionResult{}
	}
	return models.RecognitionResult{Text: text, Confidence: conf}
}

// Close releases the model sessions if they were loaded.
func (e *Engine) Close() error {
	return e.handle.Close()
}

func (e *Engine) run(ctx context.Context, model SequenceModel, img image.Image) (string, float64, error) {
	dec, err := model.Encode(ctx, PixelValues(img, e.size), e.size)
	if err != nil {
		return "", 0, err
	}
	defer dec.Close()

	best, err := e.search.Search(ctx, dec)
	if err != nil {
		return "", 0, err
	}

	text, err := model.DecodeTokens(e.search.Strip(best.Tokens))
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(text), e.search.Confidence(best), nil
}

func (e *Engine) degrade(reason string, err error, fields ...logger.Field) {
	metrics.HTRDegraded.WithLabelValues(reason).Inc()
	e.logger.Warn("Handwriting recognition unavailable",
		append(fields, logger.String("reason", reason), logger.Error(err))...)
}
