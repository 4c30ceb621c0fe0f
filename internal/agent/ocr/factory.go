package ocr

import (
	"context"
	"fmt"

	"github.com/feichai0017/medical-document-processor/config"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// NewPrintedEngine returns the printed-text engine selected by
// pipeline.ocr_engine and a cleanup function for it.
func NewPrintedEngine(ctx context.Context, p config.PipelineConfig, t config.TextractConfig, log logger.Logger) (Engine, func() error, error) {
	switch p.OCREngine {
	case "", "tesseract":
		e, err := NewTesseractEngine(log, TesseractOptions{Languages: p.OCRLanguages})
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	case "textract":
		client, err := NewTextractClient(ctx, TextractConfig{
			Region:    t.Region,
			Endpoint:  t.Endpoint,
			AccessKey: t.AccessKey,
			SecretKey: t.SecretKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return NewTextractEngine(client, log), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ocr engine %q", p.OCREngine)
	}
}
